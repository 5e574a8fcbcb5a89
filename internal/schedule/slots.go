package schedule

import (
	"sort"
	"time"

	"github.com/eladgs/torbot/internal/model"
)

// HorizonDays is the forward window considered by the free-slot search.
const HorizonDays = 14

// NoPreferredHour disables preference ranking in a SlotQuery.
const NoPreferredHour = -1

type SlotQuery struct {
	From          time.Time // search origin, business-local
	Count         int
	PreferredHour int // hour of day 0..23, or NoPreferredHour
	Now           time.Time
}

// FindFreeSlots enumerates candidate start times on the business duration
// grid inside working hours for HorizonDays days, filters them through
// isFree, and returns up to q.Count free slots in chronological order.
//
// When a preferred hour is set, candidates closest to that time of day are
// probed first; the preference only steers the search, the returned slots are
// always re-sorted chronologically. Fewer than q.Count results is not an
// error.
func FindFreeSlots(b model.Business, q SlotQuery, isFree func(start time.Time) (bool, error)) ([]time.Time, error) {
	if q.Count <= 0 || b.DefaultDuration <= 0 {
		return nil, nil
	}

	step := time.Duration(b.DefaultDuration) * time.Minute
	var candidates []time.Time
	for d := 0; d < HorizonDays; d++ {
		day := q.From.AddDate(0, 0, d)
		if !b.WorkDays.Includes(day.Weekday()) {
			continue
		}
		open, close := b.WorkWindow(day)
		for t := open; !t.Add(step).After(close); t = t.Add(step) {
			if !t.After(q.Now) {
				continue
			}
			candidates = append(candidates, t)
		}
	}

	if q.PreferredHour != NoPreferredHour {
		preferred := time.Duration(q.PreferredHour) * time.Hour
		// Stable so equal distances keep chronological order.
		sort.SliceStable(candidates, func(i, j int) bool {
			return hourDistance(candidates[i], preferred) < hourDistance(candidates[j], preferred)
		})
	}

	var slots []time.Time
	for _, t := range candidates {
		if len(slots) >= q.Count {
			break
		}
		free, err := isFree(t)
		if err != nil {
			return nil, err
		}
		if free {
			slots = append(slots, t)
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots, nil
}

func hourDistance(t time.Time, preferred time.Duration) time.Duration {
	tod := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	if tod > preferred {
		return tod - preferred
	}
	return preferred - tod
}
