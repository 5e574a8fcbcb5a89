package schedule

import (
	"testing"
	"time"

	"github.com/eladgs/torbot/internal/model"
)

func testBusiness() model.Business {
	return model.Business{
		ID:               "biz-1",
		WorkStartMinutes: 9 * 60,
		WorkEndMinutes:   17 * 60,
		WorkDays:         0x7f, // every day
		DefaultDuration:  30,
	}
}

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func alwaysFree(time.Time) (bool, error) { return true, nil }

func TestFindFreeSlots_Chronological(t *testing.T) {
	b := testBusiness()
	q := SlotQuery{From: monday, Count: 3, PreferredHour: NoPreferredHour, Now: monday}

	slots, err := FindFreeSlots(b, q, alwaysFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Time{
		monday.Add(9 * time.Hour),
		monday.Add(9*time.Hour + 30*time.Minute),
		monday.Add(10 * time.Hour),
	}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i := range want {
		if !slots[i].Equal(want[i]) {
			t.Fatalf("slot %d: expected %s, got %s", i, want[i], slots[i])
		}
	}
}

func TestFindFreeSlots_SkipsNonFutureAndBusy(t *testing.T) {
	b := testBusiness()
	now := monday.Add(9 * time.Hour) // 09:00 is no longer strictly future
	busyAt := monday.Add(9*time.Hour + 30*time.Minute)
	isFree := func(start time.Time) (bool, error) {
		return !start.Equal(busyAt), nil
	}

	slots, err := FindFreeSlots(b, SlotQuery{From: monday, Count: 1, PreferredHour: NoPreferredHour, Now: now}, isFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(monday.Add(10 * time.Hour)) {
		t.Fatalf("expected 10:00, got %s", slots[0])
	}
}

func TestFindFreeSlots_PreferredHourSteersSearch(t *testing.T) {
	b := testBusiness()
	q := SlotQuery{From: monday, Count: 1, PreferredHour: 16, Now: monday}

	slots, err := FindFreeSlots(b, q, alwaysFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if !slots[0].Equal(monday.Add(16 * time.Hour)) {
		t.Fatalf("expected 16:00 on the first day, got %s", slots[0])
	}
}

func TestFindFreeSlots_PreferredHourResultsStayChronological(t *testing.T) {
	b := testBusiness()
	free := map[time.Time]bool{
		monday.Add(9 * time.Hour):  true,
		monday.Add(16 * time.Hour): true,
	}
	isFree := func(start time.Time) (bool, error) { return free[start], nil }

	slots, err := FindFreeSlots(b, SlotQuery{From: monday, Count: 2, PreferredHour: 16, Now: monday}, isFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	// 16:00 was probed first, but the returned order is chronological.
	if !slots[0].Equal(monday.Add(9*time.Hour)) || !slots[1].Equal(monday.Add(16*time.Hour)) {
		t.Fatalf("expected [09:00 16:00], got %v", slots)
	}
}

func TestFindFreeSlots_ScarcityReturnsAllThatExist(t *testing.T) {
	b := testBusiness()
	b.WorkDays = 1 << uint(time.Monday)
	onlyFree := monday.Add(11 * time.Hour)
	isFree := func(start time.Time) (bool, error) { return start.Equal(onlyFree), nil }

	slots, err := FindFreeSlots(b, SlotQuery{From: monday, Count: 5, PreferredHour: NoPreferredHour, Now: monday}, isFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot under scarcity, got %d", len(slots))
	}
	if !slots[0].Equal(onlyFree) {
		t.Fatalf("expected %s, got %s", onlyFree, slots[0])
	}
}

func TestFindFreeSlots_RespectsWorkingDays(t *testing.T) {
	b := testBusiness()
	b.WorkDays = 1 << uint(time.Monday)

	slots, err := FindFreeSlots(b, SlotQuery{From: monday, Count: 100, PreferredHour: NoPreferredHour, Now: monday}, alwaysFree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) == 0 {
		t.Fatalf("expected slots on working Mondays")
	}
	for _, s := range slots {
		if s.Weekday() != time.Monday {
			t.Fatalf("slot %s falls outside working days", s)
		}
	}
}
