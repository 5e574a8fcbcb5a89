package storage

import (
	"context"
	"time"

	"github.com/eladgs/torbot/internal/model"
	"github.com/eladgs/torbot/libs/db"
	"github.com/jackc/pgx/v5"
)

const appointmentColumns = `
	id, business_id, customer_phone, customer_name, start_time, duration_minutes,
	status, COALESCE(calendar_event_id, ''), COALESCE(notes, ''), created_at,
	confirmed_at, cancelled_at`

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments
			(id, business_id, customer_phone, customer_name, start_time, duration_minutes, status, calendar_event_id, notes, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	`, appt.ID, appt.BusinessID, appt.CustomerPhone, appt.CustomerName, appt.StartTime,
		appt.DurationMinutes, appt.Status, appt.CalendarEventID, appt.Notes, appt.ConfirmedAt)
	return err
}

func (r *AppointmentRepository) GetActive(ctx context.Context, businessID, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND business_id = $2 AND status IN ('pending', 'confirmed')
	`, id, businessID)
	return scanAppointment(row)
}

// ListActiveBetween returns the active appointments of a business whose
// intervals could intersect [from, to). excludeID carves out the appointment
// being rescheduled; pass "" otherwise.
func (r *AppointmentRepository) ListActiveBetween(ctx context.Context, businessID string, from, to time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time < $3
			AND start_time + make_interval(mins => duration_minutes) > $2
			AND ($4 = '' OR id <> $4)
		ORDER BY start_time ASC
	`, businessID, from, to, excludeID)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *AppointmentRepository) UpdateSchedule(ctx context.Context, businessID, id string, start time.Time, name *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET start_time = $3,
			customer_name = COALESCE($4, customer_name)
		WHERE id = $1 AND business_id = $2 AND status IN ('pending', 'confirmed')
	`, id, businessID, start, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *AppointmentRepository) Cancel(ctx context.Context, businessID, id string) (time.Time, error) {
	var cancelledAt time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now()
		WHERE id = $1 AND business_id = $2 AND status IN ('pending', 'confirmed')
		RETURNING cancelled_at
	`, id, businessID).Scan(&cancelledAt)
	return cancelledAt, err
}

func (r *AppointmentRepository) SetCalendarEventID(ctx context.Context, businessID, id, eventID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET calendar_event_id = NULLIF($3, '')
		WHERE id = $1 AND business_id = $2
	`, id, businessID, eventID)
	return err
}

// ListUpcomingForCustomer feeds the context bundle's existing-appointment
// summary and cancel-by-conversation lookups.
func (r *AppointmentRepository) ListUpcomingForCustomer(ctx context.Context, businessID, phone string, from time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND customer_phone = $2
			AND status IN ('pending', 'confirmed')
			AND start_time >= $3
		ORDER BY start_time ASC
	`, businessID, phone, from)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *AppointmentRepository) FindByCalendarEventID(ctx context.Context, businessID, eventID string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1 AND calendar_event_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, businessID, eventID)
	return scanAppointment(row)
}

// ListActiveCalendarLinked returns active appointments carrying an external
// calendar event id, for reconciliation.
func (r *AppointmentRepository) ListActiveCalendarLinked(ctx context.Context, businessID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
			AND status IN ('pending', 'confirmed')
			AND calendar_event_id IS NOT NULL
			AND start_time >= $2
			AND start_time < $3
		ORDER BY start_time ASC
	`, businessID, from, to)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *AppointmentRepository) CompletePast(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'completed'
		WHERE status IN ('pending', 'confirmed') AND start_time < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *AppointmentRepository) CancelByNames(ctx context.Context, names []string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now()
		WHERE status IN ('pending', 'confirmed')
			AND (lower(customer_name) = ANY($1) OR customer_name LIKE '[%' OR customer_name LIKE '<%')
	`, names)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *AppointmentRepository) CancelSentinelsAfter(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			cancelled_at = now()
		WHERE status IN ('pending', 'confirmed')
			AND customer_phone = $1
			AND start_time > $2
	`, model.SentinelCustomer, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *AppointmentRepository) ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE business_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(
		&a.ID,
		&a.BusinessID,
		&a.CustomerPhone,
		&a.CustomerName,
		&a.StartTime,
		&a.DurationMinutes,
		&a.Status,
		&a.CalendarEventID,
		&a.Notes,
		&a.CreatedAt,
		&a.ConfirmedAt,
		&a.CancelledAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	return a, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
