package schedule

import (
	"testing"
	"time"
)

func TestOverlaps_HalfOpen(t *testing.T) {
	base := time.Date(2026, 2, 24, 15, 0, 0, 0, time.UTC)

	// Identical intervals conflict.
	if !Overlaps(base, base.Add(30*time.Minute), base, base.Add(30*time.Minute)) {
		t.Fatalf("identical intervals must overlap")
	}
	// Partial overlap conflicts.
	if !Overlaps(base, base.Add(30*time.Minute), base.Add(15*time.Minute), base.Add(45*time.Minute)) {
		t.Fatalf("partially overlapping intervals must overlap")
	}
	// Containment conflicts.
	if !Overlaps(base, base.Add(60*time.Minute), base.Add(15*time.Minute), base.Add(30*time.Minute)) {
		t.Fatalf("contained interval must overlap")
	}
	// Touching boundaries do not conflict.
	if Overlaps(base, base.Add(30*time.Minute), base.Add(30*time.Minute), base.Add(60*time.Minute)) {
		t.Fatalf("back-to-back intervals must not overlap")
	}
	if Overlaps(base.Add(30*time.Minute), base.Add(60*time.Minute), base, base.Add(30*time.Minute)) {
		t.Fatalf("back-to-back intervals must not overlap (reversed)")
	}
	// Disjoint intervals do not conflict.
	if Overlaps(base, base.Add(30*time.Minute), base.Add(2*time.Hour), base.Add(3*time.Hour)) {
		t.Fatalf("disjoint intervals must not overlap")
	}
}

func TestConflicts(t *testing.T) {
	base := time.Date(2026, 2, 24, 15, 0, 0, 0, time.UTC)
	busy := []Interval{
		{Start: base, End: base.Add(30 * time.Minute)},
	}

	if !Conflicts(base.Add(15*time.Minute), 30*time.Minute, busy) {
		t.Fatalf("expected conflict at 15:15 against 15:00-15:30")
	}
	if Conflicts(base.Add(30*time.Minute), 30*time.Minute, busy) {
		t.Fatalf("slot starting exactly at a booking's end must be free")
	}
	if Conflicts(base.Add(-30*time.Minute), 30*time.Minute, busy) {
		t.Fatalf("slot ending exactly at a booking's start must be free")
	}
	if Conflicts(base, 30*time.Minute, nil) {
		t.Fatalf("no busy intervals means no conflict")
	}
}
