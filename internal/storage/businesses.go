package storage

import (
	"context"
	"time"

	"github.com/eladgs/torbot/internal/model"
	"github.com/eladgs/torbot/libs/db"
	"github.com/jackc/pgx/v5"
)

const businessColumns = `
	id, name, owner_phone, inbound_number, work_start_minutes, work_end_minutes,
	work_days, default_duration_minutes, calendar_connected,
	COALESCE(calendar_credentials, ''::bytea), COALESCE(calendar_id, ''),
	last_synced_at, created_at`

type BusinessRepository struct {
	pool *db.Pool
}

func NewBusinessRepository(pool *db.Pool) *BusinessRepository {
	return &BusinessRepository{pool: pool}
}

func (r *BusinessRepository) Get(ctx context.Context, id string) (model.Business, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+businessColumns+`
		FROM businesses
		WHERE id = $1
	`, id)
	return scanBusiness(row)
}

// GetByInboundNumber resolves the business a customer texted from the
// gateway's destination number.
func (r *BusinessRepository) GetByInboundNumber(ctx context.Context, number string) (model.Business, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+businessColumns+`
		FROM businesses
		WHERE inbound_number = $1
	`, number)
	return scanBusiness(row)
}

func (r *BusinessRepository) ListCalendarConnected(ctx context.Context) ([]model.Business, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+businessColumns+`
		FROM businesses
		WHERE calendar_connected
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var businesses []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		businesses = append(businesses, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return businesses, nil
}

func (r *BusinessRepository) SetCalendarConnection(ctx context.Context, id string, creds []byte, calendarID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE businesses
		SET calendar_connected = true,
			calendar_credentials = $2,
			calendar_id = $3
		WHERE id = $1
	`, id, creds, calendarID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *BusinessRepository) SetLastSynced(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE businesses
		SET last_synced_at = $2
		WHERE id = $1
	`, id, at)
	return err
}

func scanBusiness(row pgx.Row) (model.Business, error) {
	var b model.Business
	var workDays int16
	err := row.Scan(
		&b.ID,
		&b.Name,
		&b.OwnerPhone,
		&b.InboundNumber,
		&b.WorkStartMinutes,
		&b.WorkEndMinutes,
		&workDays,
		&b.DefaultDuration,
		&b.CalendarConnected,
		&b.CalendarCreds,
		&b.CalendarID,
		&b.LastSyncedAt,
		&b.CreatedAt,
	)
	if err != nil {
		return model.Business{}, err
	}
	b.WorkDays = model.WorkDays(workDays)
	return b, nil
}
