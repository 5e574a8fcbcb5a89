package assistant

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/eladgs/torbot/internal/model"
)

type fakeScheduler struct {
	slots    []time.Time
	busy     []model.Appointment
	existing []model.Appointment
}

func (f *fakeScheduler) FreeSlots(context.Context, model.Business, time.Time, int, int) ([]time.Time, error) {
	return f.slots, nil
}

func (f *fakeScheduler) BusyIntervals(context.Context, string, time.Time, time.Time) ([]model.Appointment, error) {
	return f.busy, nil
}

func (f *fakeScheduler) UpcomingForCustomer(context.Context, string, string) ([]model.Appointment, error) {
	return f.existing, nil
}

func testResponder(s Scheduler) *Responder {
	r := NewResponder(nil, s, slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC, "gpt-4o-mini")
	r.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return r
}

func testBusiness() model.Business {
	return model.Business{
		ID:               "biz-1",
		Name:             "Glow Salon",
		WorkStartMinutes: 9 * 60,
		WorkEndMinutes:   17 * 60,
		WorkDays:         0x3e, // Mon-Fri
		DefaultDuration:  30,
	}
}

func TestSystemPrompt_CarriesSlotsAndLegend(t *testing.T) {
	name := "Dana"
	sched := &fakeScheduler{
		slots: []time.Time{time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)},
		busy: []model.Appointment{{
			StartTime:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			DurationMinutes: 30,
		}},
		existing: []model.Appointment{{
			ID:              "appt-7",
			StartTime:       time.Date(2026, 3, 3, 11, 0, 0, 0, time.UTC),
			DurationMinutes: 30,
			CustomerName:    &name,
		}},
	}
	r := testResponder(sched)

	prompt, err := r.systemPrompt(context.Background(), testBusiness(), "+200")
	if err != nil {
		t.Fatalf("systemPrompt: %v", err)
	}

	for _, want := range []string{
		"Glow Salon",
		"09:00-17:00",
		"Monday, Tuesday, Wednesday, Thursday, Friday",
		"Now: Monday 2026-03-02 09:00",
		"Monday = 2026-03-02",
		"Sunday = 2026-03-08",
		"10:00-10:30",
		"(2026-03-02T15:00:00)",
		"id=appt-7",
		"CONFIRM:",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestSystemPrompt_NoSlotsSaysSo(t *testing.T) {
	r := testResponder(&fakeScheduler{})

	prompt, err := r.systemPrompt(context.Background(), testBusiness(), "+200")
	if err != nil {
		t.Fatalf("systemPrompt: %v", err)
	}
	if !strings.Contains(prompt, "none in the next two weeks") {
		t.Fatalf("expected empty-slot notice:\n%s", prompt)
	}
	if strings.Contains(prompt, "upcoming appointments") {
		t.Fatalf("no existing appointments should mean no summary section:\n%s", prompt)
	}
}
