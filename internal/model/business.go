package model

import "time"

// Weekday bitmask used for working days; Sunday is bit 0, matching
// time.Weekday ordinals.
type WorkDays uint8

func (d WorkDays) Includes(wd time.Weekday) bool {
	return d&(1<<uint(wd)) != 0
}

type Business struct {
	ID                string
	Name              string
	OwnerPhone        string
	InboundNumber     string
	WorkStartMinutes  int // minutes after midnight, business-local
	WorkEndMinutes    int
	WorkDays          WorkDays
	DefaultDuration   int // minutes
	CalendarConnected bool
	CalendarCreds     []byte // sealed blob, see internal/secrets
	CalendarID        string
	LastSyncedAt      *time.Time
	CreatedAt         time.Time
}

// WorkWindow returns the working-hours window of the given business-local day.
func (b Business) WorkWindow(day time.Time) (time.Time, time.Time) {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return midnight.Add(time.Duration(b.WorkStartMinutes) * time.Minute),
		midnight.Add(time.Duration(b.WorkEndMinutes) * time.Minute)
}
