// Package notify composes the owner-facing messages for appointment
// lifecycle changes and sends them through the messaging gateway.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/eladgs/torbot/internal/messaging"
	"github.com/eladgs/torbot/internal/model"
)

type Notifier interface {
	AppointmentBooked(ctx context.Context, b model.Business, a model.Appointment) error
	AppointmentCancelled(ctx context.Context, b model.Business, a model.Appointment) error
	AppointmentRescheduled(ctx context.Context, b model.Business, a model.Appointment, oldStart time.Time) error
}

type OwnerNotifier struct {
	sender messaging.Sender
	tz     *time.Location
}

func NewOwnerNotifier(sender messaging.Sender, tz *time.Location) *OwnerNotifier {
	return &OwnerNotifier{sender: sender, tz: tz}
}

func (n *OwnerNotifier) AppointmentBooked(ctx context.Context, b model.Business, a model.Appointment) error {
	body := fmt.Sprintf("New appointment at %s: %s (%s), %s, %d min.",
		b.Name, a.DisplayName(), a.CustomerPhone, n.when(a.StartTime), a.DurationMinutes)
	return n.sender.Send(ctx, b.OwnerPhone, body)
}

func (n *OwnerNotifier) AppointmentCancelled(ctx context.Context, b model.Business, a model.Appointment) error {
	body := fmt.Sprintf("Cancelled appointment at %s: %s (%s), %s, %d min.",
		b.Name, a.DisplayName(), a.CustomerPhone, n.when(a.StartTime), a.DurationMinutes)
	return n.sender.Send(ctx, b.OwnerPhone, body)
}

func (n *OwnerNotifier) AppointmentRescheduled(ctx context.Context, b model.Business, a model.Appointment, oldStart time.Time) error {
	body := fmt.Sprintf("Rescheduled appointment at %s: %s (%s) moved from %s to %s, %d min.",
		b.Name, a.DisplayName(), a.CustomerPhone, n.when(oldStart), n.when(a.StartTime), a.DurationMinutes)
	return n.sender.Send(ctx, b.OwnerPhone, body)
}

func (n *OwnerNotifier) when(t time.Time) string {
	return t.In(n.tz).Format("Monday 02/01 15:04")
}
