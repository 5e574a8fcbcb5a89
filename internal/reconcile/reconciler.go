// Package reconcile keeps local appointments and the external calendar in
// agreement. The calendar wins for events the business created by hand;
// appointments booked through the assistant are never time-shifted here.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/eladgs/torbot/internal/booking"
	"github.com/eladgs/torbot/internal/calendar"
	"github.com/eladgs/torbot/internal/model"
	"github.com/eladgs/torbot/internal/outbox"
	"github.com/eladgs/torbot/internal/secrets"
	"github.com/eladgs/torbot/libs/db"
)

const windowDays = 30

// Booker is the slice of the lifecycle manager the reconciler drives. All
// appointment writes go through it so the no-overlap invariant stays in one
// place.
type Booker interface {
	CreateFromCalendar(ctx context.Context, b model.Business, ev calendar.Event) (model.Appointment, error)
	CancelFromCalendar(ctx context.Context, b model.Business, appointmentID string) error
	AdoptCalendarTime(ctx context.Context, b model.Business, appointmentID string, newStart time.Time) error
}

type BusinessStore interface {
	ListCalendarConnected(ctx context.Context) ([]model.Business, error)
	SetLastSynced(ctx context.Context, id string, at time.Time) error
}

type AppointmentStore interface {
	ListActiveCalendarLinked(ctx context.Context, businessID string, from, to time.Time) ([]model.Appointment, error)
	FindByCalendarEventID(ctx context.Context, businessID, eventID string) (model.Appointment, error)
}

type Events interface {
	Insert(ctx context.Context, evt outbox.Event) error
}

type Reconciler struct {
	pool         *db.Pool
	businesses   BusinessStore
	appointments AppointmentStore
	booker       Booker
	cal          calendar.Service
	box          *secrets.Box
	events       Events
	logger       *slog.Logger
	advisoryKey  int64
	now          func() time.Time
}

type Config struct {
	Interval        time.Duration
	AdvisoryLockKey int64
}

func New(pool *db.Pool, businesses BusinessStore, appointments AppointmentStore, booker Booker, cal calendar.Service, box *secrets.Box, events Events, logger *slog.Logger, cfg Config) *Reconciler {
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		lockKey = 7311002
	}
	return &Reconciler{
		pool:         pool,
		businesses:   businesses,
		appointments: appointments,
		booker:       booker,
		cal:          cal,
		box:          box,
		events:       events,
		logger:       logger,
		advisoryKey:  lockKey,
		now:          time.Now,
	}
}

func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	// Best-effort leader election for multi-instance deployments. Only the
	// instance holding the advisory lock reconciles.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := r.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, r.advisoryKey).Scan(&locked); err != nil {
			r.logger.Error("calendar reconcile: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			r.logger.Info("calendar reconcile: advisory lock held by another instance", "lock_key", r.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		r.logger.Info("calendar reconcile: advisory lock acquired", "lock_key", r.advisoryKey)
		defer func() {
			_, _ = r.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, r.advisoryKey)
		}()
		break
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	r.ReconcileOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce walks every calendar-connected business. A failure on one
// business never blocks the rest of the pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	businesses, err := r.businesses.ListCalendarConnected(ctx)
	if err != nil {
		r.logger.Error("calendar reconcile: failed to list businesses", "err", err)
		return
	}

	for _, b := range businesses {
		if ctx.Err() != nil {
			return
		}
		if err := r.reconcileBusiness(ctx, b); err != nil {
			r.logger.Warn("calendar reconcile: business pass failed", "err", err, "business_id", b.ID)
			continue
		}
		if err := r.businesses.SetLastSynced(ctx, b.ID, r.now().UTC()); err != nil {
			r.logger.Warn("calendar reconcile: failed to record sync time", "err", err, "business_id", b.ID)
		}
	}
}

func (r *Reconciler) reconcileBusiness(ctx context.Context, b model.Business) error {
	creds, err := calendar.DecodeCredentials(r.box, b.CalendarCreds)
	if err != nil {
		return err
	}

	from := r.now().UTC()
	to := from.AddDate(0, 0, windowDays)

	events, err := r.cal.ListEvents(ctx, creds, b.CalendarID, from, to)
	if err != nil {
		return err
	}
	local, err := r.appointments.ListActiveCalendarLinked(ctx, b.ID, from, to)
	if err != nil {
		return err
	}

	byEventID := make(map[string]calendar.Event, len(events))
	for _, ev := range events {
		byEventID[ev.ID] = ev
	}
	linked := make(map[string]struct{}, len(local))
	for _, appt := range local {
		linked[appt.CalendarEventID] = struct{}{}
	}

	var imported, cancelled, shifted int

	// External events with no local mirror were created by hand in the
	// calendar; import them so the slot finder sees the interval as busy.
	for _, ev := range events {
		if _, ok := linked[ev.ID]; ok {
			continue
		}
		if _, err := r.appointments.FindByCalendarEventID(ctx, b.ID, ev.ID); err == nil {
			// Linked to an appointment outside the window; leave it alone.
			continue
		}
		_, err := r.booker.CreateFromCalendar(ctx, b, ev)
		switch {
		case err == nil:
			imported++
		case errors.Is(err, booking.ErrSlotUnavailable):
			r.logger.Info("calendar reconcile: external event overlaps a local appointment, skipping import",
				"business_id", b.ID, "event_id", ev.ID)
		default:
			r.logger.Warn("calendar reconcile: import failed", "err", err, "business_id", b.ID, "event_id", ev.ID)
		}
	}

	for _, appt := range local {
		ev, present := byEventID[appt.CalendarEventID]
		if !present {
			// Deleted out-of-band; the business's edit wins.
			if err := r.booker.CancelFromCalendar(ctx, b, appt.ID); err != nil {
				r.logger.Warn("calendar reconcile: cancel failed", "err", err, "business_id", b.ID, "appointment_id", appt.ID)
				continue
			}
			cancelled++
			continue
		}
		if ev.Start.Equal(appt.StartTime) {
			continue
		}
		if !appt.CalendarOriginated() {
			// Assistant-booked: the customer agreed to this time, so an
			// out-of-band calendar edit is surfaced, not adopted.
			r.logger.Warn("calendar reconcile: external time edit on assistant-booked appointment ignored",
				"business_id", b.ID, "appointment_id", appt.ID,
				"local_start", appt.StartTime, "external_start", ev.Start)
			continue
		}
		if err := r.booker.AdoptCalendarTime(ctx, b, appt.ID, ev.Start); err != nil {
			r.logger.Warn("calendar reconcile: time adoption failed", "err", err, "business_id", b.ID, "appointment_id", appt.ID)
			continue
		}
		shifted++
	}

	if r.events != nil {
		payload, _ := json.Marshal(map[string]any{
			"business_id": b.ID,
			"imported":    imported,
			"cancelled":   cancelled,
			"shifted":     shifted,
			"window_days": windowDays,
		})
		if err := r.events.Insert(ctx, outbox.Event{
			AggregateType: "business",
			AggregateID:   b.ID,
			EventType:     outbox.EventReconcileCompleted,
			Payload:       payload,
		}); err != nil {
			r.logger.Warn("calendar reconcile: outbox insert failed", "err", err, "business_id", b.ID)
		}
	}

	return nil
}
