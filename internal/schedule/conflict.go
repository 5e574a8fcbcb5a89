package schedule

import "time"

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the half-open intervals [aStart,aEnd) and
// [bStart,bEnd) intersect. Touching boundaries do not conflict.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// Conflicts reports whether a booking starting at start with the given
// duration would overlap any busy interval.
func Conflicts(start time.Time, duration time.Duration, busy []Interval) bool {
	end := start.Add(duration)
	for _, b := range busy {
		if Overlaps(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}
