package model

import "time"

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// SentinelCustomer marks calendar-originated appointments with no captured
// booking customer.
const SentinelCustomer = "unknown"

type Appointment struct {
	ID              string
	BusinessID      string
	CustomerPhone   string
	CustomerName    *string
	StartTime       time.Time
	DurationMinutes int
	Status          AppointmentStatus
	CalendarEventID string
	Notes           string
	CreatedAt       time.Time
	ConfirmedAt     *time.Time
	CancelledAt     *time.Time
}

func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Active appointments count toward conflict checks.
func (a Appointment) Active() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

func (a Appointment) CalendarOriginated() bool {
	return a.CustomerPhone == SentinelCustomer
}

func (a Appointment) DisplayName() string {
	if a.CustomerName != nil && *a.CustomerName != "" {
		return *a.CustomerName
	}
	return a.CustomerPhone
}
