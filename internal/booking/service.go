// Package booking owns the appointment lifecycle: conflict-checked creation,
// cancellation and rescheduling, with calendar mirroring and owner
// notification fanned out as advisory side effects.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/eladgs/torbot/internal/calendar"
	"github.com/eladgs/torbot/internal/model"
	"github.com/eladgs/torbot/internal/notify"
	"github.com/eladgs/torbot/internal/outbox"
	"github.com/eladgs/torbot/internal/schedule"
	"github.com/eladgs/torbot/internal/secrets"
	"github.com/eladgs/torbot/internal/storage"
	"github.com/google/uuid"
)

var (
	// ErrSlotUnavailable means the requested interval overlaps an active
	// appointment. Recoverable: offer alternatives.
	ErrSlotUnavailable = errors.New("slot unavailable")
	// ErrNotFound means no active appointment with that id belongs to the
	// business.
	ErrNotFound = errors.New("appointment not found")
)

// Store is the slice of appointment storage the lifecycle manager needs.
type Store interface {
	Create(ctx context.Context, appt *model.Appointment) error
	GetActive(ctx context.Context, businessID, id string) (model.Appointment, error)
	ListActiveBetween(ctx context.Context, businessID string, from, to time.Time, excludeID string) ([]model.Appointment, error)
	UpdateSchedule(ctx context.Context, businessID, id string, start time.Time, name *string) error
	Cancel(ctx context.Context, businessID, id string) (time.Time, error)
	SetCalendarEventID(ctx context.Context, businessID, id, eventID string) error
	ListUpcomingForCustomer(ctx context.Context, businessID, phone string, from time.Time) ([]model.Appointment, error)
}

// Events receives domain events; nil disables publishing.
type Events interface {
	Insert(ctx context.Context, evt outbox.Event) error
}

type Service struct {
	store    Store
	cal      calendar.Service
	box      *secrets.Box
	notifier notify.Notifier
	events   Events
	logger   *slog.Logger
	tz       *time.Location
	now      func() time.Time
}

func NewService(store Store, cal calendar.Service, box *secrets.Box, notifier notify.Notifier, events Events, logger *slog.Logger, tz *time.Location) *Service {
	return &Service{
		store:    store,
		cal:      cal,
		box:      box,
		notifier: notifier,
		events:   events,
		logger:   logger,
		tz:       tz,
		now:      time.Now,
	}
}

// HasConflict reports whether [start, start+duration) overlaps any active
// appointment of the business. excludeID carves out the appointment being
// rescheduled. A storage error is returned as-is; it never reads as "free".
func (s *Service) HasConflict(ctx context.Context, businessID string, start time.Time, durationMinutes int, excludeID string) (bool, error) {
	duration := time.Duration(durationMinutes) * time.Minute
	end := start.Add(duration)
	appts, err := s.store.ListActiveBetween(ctx, businessID, start, end, excludeID)
	if err != nil {
		return false, err
	}
	busy := make([]schedule.Interval, 0, len(appts))
	for _, a := range appts {
		busy = append(busy, schedule.Interval{Start: a.StartTime, End: a.EndTime()})
	}
	return schedule.Conflicts(start, duration, busy), nil
}

// FreeSlots searches the 14-day horizon for up to count free slots.
func (s *Service) FreeSlots(ctx context.Context, b model.Business, from time.Time, count, preferredHour int) ([]time.Time, error) {
	q := schedule.SlotQuery{
		From:          from.In(s.tz),
		Count:         count,
		PreferredHour: preferredHour,
		Now:           s.now().In(s.tz),
	}
	return schedule.FindFreeSlots(b, q, func(start time.Time) (bool, error) {
		conflict, err := s.HasConflict(ctx, b.ID, start, b.DefaultDuration, "")
		if err != nil {
			return false, err
		}
		return !conflict, nil
	})
}

// BusyIntervals lists the active intervals in [from, to), for the model's
// context bundle.
func (s *Service) BusyIntervals(ctx context.Context, businessID string, from, to time.Time) ([]model.Appointment, error) {
	return s.store.ListActiveBetween(ctx, businessID, from, to, "")
}

func (s *Service) UpcomingForCustomer(ctx context.Context, businessID, phone string) ([]model.Appointment, error) {
	return s.store.ListUpcomingForCustomer(ctx, businessID, phone, s.now())
}

// Create books a confirmed appointment. The conflict check runs at execution
// time; whatever was quoted earlier in the conversation is not trusted.
func (s *Service) Create(ctx context.Context, b model.Business, customerPhone string, start time.Time, durationMinutes int, name string) (model.Appointment, error) {
	if durationMinutes <= 0 {
		durationMinutes = b.DefaultDuration
	}

	conflict, err := s.HasConflict(ctx, b.ID, start, durationMinutes, "")
	if err != nil {
		return model.Appointment{}, err
	}
	if conflict {
		return model.Appointment{}, ErrSlotUnavailable
	}

	now := s.now()
	appt := model.Appointment{
		ID:              uuid.NewString(),
		BusinessID:      b.ID,
		CustomerPhone:   customerPhone,
		StartTime:       start,
		DurationMinutes: durationMinutes,
		Status:          model.StatusConfirmed,
		CreatedAt:       now,
		ConfirmedAt:     &now,
	}
	if name != "" {
		appt.CustomerName = &name
	}

	if err := s.store.Create(ctx, &appt); err != nil {
		if storage.IsConflict(err) {
			// Lost the race; the exclusion constraint is the authority.
			return model.Appointment{}, ErrSlotUnavailable
		}
		return model.Appointment{}, err
	}

	s.mirrorInsert(ctx, b, &appt)
	s.notifyBest(ctx, "booked", func() error { return s.notifier.AppointmentBooked(ctx, b, appt) })
	s.publish(ctx, outbox.EventAppointmentBooked, appt)
	return appt, nil
}

// Cancel transitions an active appointment to cancelled and removes its
// mirrored calendar event.
func (s *Service) Cancel(ctx context.Context, b model.Business, appointmentID, customerPhone string) (model.Appointment, error) {
	appt, err := s.store.GetActive(ctx, b.ID, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}

	if appt.CalendarEventID != "" {
		s.mirrorDelete(ctx, b, appt)
	}

	cancelledAt, err := s.store.Cancel(ctx, b.ID, appt.ID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	appt.Status = model.StatusCancelled
	appt.CancelledAt = &cancelledAt

	s.notifyBest(ctx, "cancelled", func() error { return s.notifier.AppointmentCancelled(ctx, b, appt) })
	s.publish(ctx, outbox.EventAppointmentCancelled, appt)
	return appt, nil
}

// Reschedule moves an active appointment to newStart, keeping the same
// record. The conflict re-check excludes the appointment's current slot.
func (s *Service) Reschedule(ctx context.Context, b model.Business, appointmentID string, newStart time.Time, customerPhone string, newName *string) (model.Appointment, error) {
	appt, err := s.store.GetActive(ctx, b.ID, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}

	conflict, err := s.HasConflict(ctx, b.ID, newStart, appt.DurationMinutes, appt.ID)
	if err != nil {
		return model.Appointment{}, err
	}
	if conflict {
		return model.Appointment{}, ErrSlotUnavailable
	}

	if err := s.store.UpdateSchedule(ctx, b.ID, appt.ID, newStart, newName); err != nil {
		switch {
		case storage.IsConflict(err):
			return model.Appointment{}, ErrSlotUnavailable
		case storage.IsNotFound(err):
			return model.Appointment{}, ErrNotFound
		default:
			return model.Appointment{}, err
		}
	}

	oldStart := appt.StartTime
	appt.StartTime = newStart
	if newName != nil && *newName != "" {
		appt.CustomerName = newName
	}

	if appt.CalendarEventID != "" {
		s.mirrorPatch(ctx, b, appt)
	}
	s.notifyBest(ctx, "rescheduled", func() error {
		return s.notifier.AppointmentRescheduled(ctx, b, appt, oldStart)
	})
	s.publish(ctx, outbox.EventAppointmentRescheduled, appt)
	return appt, nil
}

// CreateFromCalendar records an externally created event as a local
// confirmed appointment with the sentinel customer. No mirroring or owner
// notification: the event already lives in the owner's calendar.
func (s *Service) CreateFromCalendar(ctx context.Context, b model.Business, ev calendar.Event) (model.Appointment, error) {
	duration := int(ev.End.Sub(ev.Start).Minutes())
	if duration <= 0 {
		duration = b.DefaultDuration
	}

	now := s.now()
	name := ev.Summary
	appt := model.Appointment{
		ID:              uuid.NewString(),
		BusinessID:      b.ID,
		CustomerPhone:   model.SentinelCustomer,
		StartTime:       ev.Start,
		DurationMinutes: duration,
		Status:          model.StatusConfirmed,
		CalendarEventID: ev.ID,
		CreatedAt:       now,
		ConfirmedAt:     &now,
	}
	if name != "" {
		appt.CustomerName = &name
	}

	if err := s.store.Create(ctx, &appt); err != nil {
		if storage.IsConflict(err) {
			// The interval is already represented by a local appointment;
			// nothing to import.
			return model.Appointment{}, ErrSlotUnavailable
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

// CancelFromCalendar cancels a local appointment whose external event was
// deleted out-of-band. The calendar is not touched and the owner is not
// notified; the edit was theirs.
func (s *Service) CancelFromCalendar(ctx context.Context, b model.Business, appointmentID string) error {
	if _, err := s.store.Cancel(ctx, b.ID, appointmentID); err != nil {
		if storage.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// AdoptCalendarTime moves a calendar-originated appointment to the time the
// external event now carries. Only sentinel-customer appointments are ever
// time-shifted this way.
func (s *Service) AdoptCalendarTime(ctx context.Context, b model.Business, appointmentID string, newStart time.Time) error {
	if err := s.store.UpdateSchedule(ctx, b.ID, appointmentID, newStart, nil); err != nil {
		switch {
		case storage.IsConflict(err):
			return ErrSlotUnavailable
		case storage.IsNotFound(err):
			return ErrNotFound
		default:
			return err
		}
	}
	return nil
}

func (s *Service) credentials(b model.Business) (calendar.Credentials, bool) {
	if !b.CalendarConnected || s.cal == nil || s.box == nil {
		return calendar.Credentials{}, false
	}
	creds, err := calendar.DecodeCredentials(s.box, b.CalendarCreds)
	if err != nil {
		s.logger.Error("calendar credentials unreadable", "err", err, "business_id", b.ID)
		return calendar.Credentials{}, false
	}
	return creds, true
}

// mirrorInsert pushes the appointment to the external calendar. Failure
// leaves the appointment calendar-unlinked; the booking stands.
func (s *Service) mirrorInsert(ctx context.Context, b model.Business, appt *model.Appointment) {
	creds, ok := s.credentials(b)
	if !ok {
		return
	}
	eventID, err := s.cal.InsertEvent(ctx, creds, b.CalendarID, calendar.Event{
		Summary:     appt.DisplayName(),
		Description: "Booked via assistant (" + appt.CustomerPhone + ")",
		Start:       appt.StartTime,
		End:         appt.EndTime(),
	})
	if err != nil {
		s.logger.Error("calendar mirror insert failed", "err", err, "business_id", b.ID, "appointment_id", appt.ID)
		return
	}
	if err := s.store.SetCalendarEventID(ctx, b.ID, appt.ID, eventID); err != nil {
		s.logger.Error("failed to link calendar event", "err", err, "appointment_id", appt.ID)
		return
	}
	appt.CalendarEventID = eventID
}

func (s *Service) mirrorDelete(ctx context.Context, b model.Business, appt model.Appointment) {
	creds, ok := s.credentials(b)
	if !ok {
		return
	}
	if err := s.cal.DeleteEvent(ctx, creds, b.CalendarID, appt.CalendarEventID); err != nil {
		s.logger.Error("calendar mirror delete failed", "err", err, "business_id", b.ID, "appointment_id", appt.ID)
	}
}

func (s *Service) mirrorPatch(ctx context.Context, b model.Business, appt model.Appointment) {
	creds, ok := s.credentials(b)
	if !ok {
		return
	}
	if err := s.cal.PatchEventTime(ctx, creds, b.CalendarID, appt.CalendarEventID, appt.StartTime, appt.EndTime()); err != nil {
		s.logger.Error("calendar mirror patch failed", "err", err, "business_id", b.ID, "appointment_id", appt.ID)
	}
}

func (s *Service) notifyBest(ctx context.Context, action string, send func() error) {
	if s.notifier == nil {
		return
	}
	if err := send(); err != nil {
		s.logger.Warn("owner notification failed", "err", err, "action", action)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, appt model.Appointment) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"customer_phone": appt.CustomerPhone,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"duration_mins":  appt.DurationMinutes,
		"status":         appt.Status,
	})
	if err != nil {
		s.logger.Error("failed to build event payload", "err", err)
		return
	}
	if err := s.events.Insert(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		s.logger.Warn("outbox insert failed", "err", err, "event_type", eventType)
	}
}
