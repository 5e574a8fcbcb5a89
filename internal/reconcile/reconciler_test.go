package reconcile

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/eladgs/torbot/internal/booking"
	"github.com/eladgs/torbot/internal/calendar"
	"github.com/eladgs/torbot/internal/model"
	"github.com/eladgs/torbot/internal/outbox"
	"github.com/eladgs/torbot/internal/secrets"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeBusinessStore struct {
	businesses []model.Business
	synced     []string
}

func (f *fakeBusinessStore) ListCalendarConnected(context.Context) ([]model.Business, error) {
	return f.businesses, nil
}

func (f *fakeBusinessStore) SetLastSynced(_ context.Context, id string, _ time.Time) error {
	f.synced = append(f.synced, id)
	return nil
}

type fakeAppointmentStore struct {
	linked []model.Appointment
}

func (f *fakeAppointmentStore) ListActiveCalendarLinked(_ context.Context, businessID string, _, _ time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.linked {
		if a.BusinessID == businessID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointmentStore) FindByCalendarEventID(_ context.Context, businessID, eventID string) (model.Appointment, error) {
	for _, a := range f.linked {
		if a.BusinessID == businessID && a.CalendarEventID == eventID {
			return a, nil
		}
	}
	return model.Appointment{}, booking.ErrNotFound
}

type fakeBooker struct {
	imported  []calendar.Event
	cancelled []string
	adopted   map[string]time.Time
	createErr error
}

func (f *fakeBooker) CreateFromCalendar(_ context.Context, _ model.Business, ev calendar.Event) (model.Appointment, error) {
	if f.createErr != nil {
		return model.Appointment{}, f.createErr
	}
	f.imported = append(f.imported, ev)
	return model.Appointment{ID: "imported-" + ev.ID}, nil
}

func (f *fakeBooker) CancelFromCalendar(_ context.Context, _ model.Business, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeBooker) AdoptCalendarTime(_ context.Context, _ model.Business, id string, newStart time.Time) error {
	if f.adopted == nil {
		f.adopted = map[string]time.Time{}
	}
	f.adopted[id] = newStart
	return nil
}

type fakeCalendar struct {
	events  []calendar.Event
	listErr error
}

func (f *fakeCalendar) ListEvents(context.Context, calendar.Credentials, string, time.Time, time.Time) ([]calendar.Event, error) {
	return f.events, f.listErr
}

func (f *fakeCalendar) InsertEvent(context.Context, calendar.Credentials, string, calendar.Event) (string, error) {
	return "", nil
}

func (f *fakeCalendar) PatchEventTime(context.Context, calendar.Credentials, string, string, time.Time, time.Time) error {
	return nil
}

func (f *fakeCalendar) DeleteEvent(context.Context, calendar.Credentials, string, string) error {
	return nil
}

type fakeEvents struct {
	inserted []outbox.Event
}

func (f *fakeEvents) Insert(_ context.Context, evt outbox.Event) error {
	f.inserted = append(f.inserted, evt)
	return nil
}

func connectedBusiness(t *testing.T, box *secrets.Box) model.Business {
	t.Helper()
	sealed, err := calendar.EncodeCredentials(box, calendar.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("seal creds: %v", err)
	}
	return model.Business{
		ID:                "biz-1",
		CalendarConnected: true,
		CalendarCreds:     sealed,
		CalendarID:        "primary",
		DefaultDuration:   30,
	}
}

func newReconciler(t *testing.T, businesses *fakeBusinessStore, appts *fakeAppointmentStore, booker *fakeBooker, cal *fakeCalendar, events *fakeEvents) (*Reconciler, *secrets.Box) {
	t.Helper()
	box, err := secrets.NewBox(testKeyHex)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// A nil *fakeEvents must become a nil Events interface, or the
	// reconciler's nil check sees a non-nil interface wrapping a nil pointer.
	var sink Events
	if events != nil {
		sink = events
	}
	r := New(nil, businesses, appts, booker, cal, box, sink, logger, Config{})
	r.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	return r, box
}

func TestReconcile_ImportsUnknownExternalEvents(t *testing.T) {
	booker := &fakeBooker{}
	cal := &fakeCalendar{events: []calendar.Event{{
		ID:      "ev-1",
		Summary: "Haircut - walk in",
		Start:   time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 3, 3, 10, 30, 0, 0, time.UTC),
	}}}
	events := &fakeEvents{}
	businesses := &fakeBusinessStore{}
	r, box := newReconciler(t, businesses, &fakeAppointmentStore{}, booker, cal, events)
	businesses.businesses = []model.Business{connectedBusiness(t, box)}

	r.ReconcileOnce(context.Background())

	if len(booker.imported) != 1 || booker.imported[0].ID != "ev-1" {
		t.Fatalf("expected ev-1 imported, got %+v", booker.imported)
	}
	if len(businesses.synced) != 1 {
		t.Fatalf("expected last sync recorded")
	}
	if len(events.inserted) != 1 || events.inserted[0].EventType != outbox.EventReconcileCompleted {
		t.Fatalf("expected reconcile-completed event, got %+v", events.inserted)
	}
}

func TestReconcile_CancelsWhenExternalEventVanished(t *testing.T) {
	booker := &fakeBooker{}
	businesses := &fakeBusinessStore{}
	appts := &fakeAppointmentStore{linked: []model.Appointment{{
		ID:              "appt-1",
		BusinessID:      "biz-1",
		CustomerPhone:   "+200",
		StartTime:       time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
		Status:          model.StatusConfirmed,
		CalendarEventID: "gone-ev",
	}}}
	r, box := newReconciler(t, businesses, appts, booker, &fakeCalendar{}, nil)
	businesses.businesses = []model.Business{connectedBusiness(t, box)}

	r.ReconcileOnce(context.Background())

	if len(booker.cancelled) != 1 || booker.cancelled[0] != "appt-1" {
		t.Fatalf("expected appt-1 cancelled, got %+v", booker.cancelled)
	}
}

func TestReconcile_AdoptsTimeOnlyForCalendarOriginated(t *testing.T) {
	newStart := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)
	booker := &fakeBooker{}
	businesses := &fakeBusinessStore{}
	appts := &fakeAppointmentStore{linked: []model.Appointment{
		{
			ID:              "appt-manual",
			BusinessID:      "biz-1",
			CustomerPhone:   model.SentinelCustomer,
			StartTime:       time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
			DurationMinutes: 30,
			Status:          model.StatusConfirmed,
			CalendarEventID: "ev-manual",
		},
		{
			ID:              "appt-booked",
			BusinessID:      "biz-1",
			CustomerPhone:   "+200",
			StartTime:       time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
			DurationMinutes: 30,
			Status:          model.StatusConfirmed,
			CalendarEventID: "ev-booked",
		},
	}}
	cal := &fakeCalendar{events: []calendar.Event{
		{ID: "ev-manual", Start: newStart, End: newStart.Add(30 * time.Minute)},
		{ID: "ev-booked", Start: time.Date(2026, 3, 4, 16, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 4, 16, 30, 0, 0, time.UTC)},
	}}
	r, box := newReconciler(t, businesses, appts, booker, cal, nil)
	businesses.businesses = []model.Business{connectedBusiness(t, box)}

	r.ReconcileOnce(context.Background())

	if got, ok := booker.adopted["appt-manual"]; !ok || !got.Equal(newStart) {
		t.Fatalf("expected appt-manual moved to %s, got %+v", newStart, booker.adopted)
	}
	if _, ok := booker.adopted["appt-booked"]; ok {
		t.Fatalf("assistant-booked appointment must never be time-shifted")
	}
	if len(booker.cancelled) != 0 {
		t.Fatalf("nothing should be cancelled, got %+v", booker.cancelled)
	}
}

func TestReconcile_OverlappingImportIsSkippedNotFatal(t *testing.T) {
	booker := &fakeBooker{createErr: booking.ErrSlotUnavailable}
	businesses := &fakeBusinessStore{}
	cal := &fakeCalendar{events: []calendar.Event{{
		ID:    "ev-dup",
		Start: time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 3, 10, 30, 0, 0, time.UTC),
	}}}
	r, box := newReconciler(t, businesses, &fakeAppointmentStore{}, booker, cal, nil)
	businesses.businesses = []model.Business{connectedBusiness(t, box)}

	r.ReconcileOnce(context.Background())

	if len(businesses.synced) != 1 {
		t.Fatalf("a skipped import must not fail the business pass")
	}
}

func TestReconcile_BusinessFailureIsIsolated(t *testing.T) {
	booker := &fakeBooker{}
	businesses := &fakeBusinessStore{}
	cal := &fakeCalendar{events: []calendar.Event{{
		ID:    "ev-ok",
		Start: time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 3, 10, 30, 0, 0, time.UTC),
	}}}
	r, box := newReconciler(t, businesses, &fakeAppointmentStore{}, booker, cal, nil)

	broken := connectedBusiness(t, box)
	broken.ID = "biz-broken"
	broken.CalendarCreds = []byte("garbage")
	healthy := connectedBusiness(t, box)
	businesses.businesses = []model.Business{broken, healthy}

	r.ReconcileOnce(context.Background())

	if len(booker.imported) != 1 {
		t.Fatalf("healthy business should still reconcile, got %d imports", len(booker.imported))
	}
	if len(businesses.synced) != 1 || businesses.synced[0] != "biz-1" {
		t.Fatalf("only the healthy business should record a sync, got %v", businesses.synced)
	}
	if strings.Join(businesses.synced, ",") == "biz-broken" {
		t.Fatalf("broken business must not be marked synced")
	}
}
