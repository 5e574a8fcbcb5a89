package directive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/eladgs/torbot/internal/booking"
	"github.com/eladgs/torbot/internal/model"
)

// Booker is the slice of the lifecycle manager the interpreter drives. The
// interpreter is the only component that turns customer input into writes.
type Booker interface {
	Create(ctx context.Context, b model.Business, customerPhone string, start time.Time, durationMinutes int, name string) (model.Appointment, error)
	Cancel(ctx context.Context, b model.Business, appointmentID, customerPhone string) (model.Appointment, error)
	Reschedule(ctx context.Context, b model.Business, appointmentID string, newStart time.Time, customerPhone string, newName *string) (model.Appointment, error)
}

type Interpreter struct {
	booker Booker
	logger *slog.Logger
	tz     *time.Location
}

func NewInterpreter(booker Booker, logger *slog.Logger, tz *time.Location) *Interpreter {
	return &Interpreter{booker: booker, logger: logger, tz: tz}
}

const (
	msgConfirmed     = "Your appointment is booked for %s. See you then!"
	msgRescheduled   = "Your appointment has been moved to %s."
	msgCancelled     = "Your appointment has been cancelled."
	msgSlotTaken     = "Unfortunately that time was just taken. Would another time work for you?"
	msgNotFound      = "Sorry, I couldn't find that appointment."
	msgNeedName      = "Before I book this, could you tell me your full name?"
	msgTransientFail = "Sorry, something went wrong on my side. Please try again in a few minutes."
)

// Execute parses the assistant reply, performs at most one booking operation,
// and returns the customer-facing text with every directive token replaced by
// a human-readable line. Raw directive syntax never leaves this function.
func (i *Interpreter) Execute(ctx context.Context, b model.Business, customerPhone, reply string) string {
	reply = systemMarkerRe.ReplaceAllString(reply, "")

	d := Parse(reply, i.tz)
	switch d.Kind {
	case KindConfirm:
		reply = i.executeConfirm(ctx, b, customerPhone, d, reply)
	case KindCancel:
		reply = i.executeCancel(ctx, b, customerPhone, d, reply)
	case KindReschedule:
		reply = i.executeReschedule(ctx, b, customerPhone, d, reply)
	}

	return scrub(reply)
}

func (i *Interpreter) executeConfirm(ctx context.Context, b model.Business, customerPhone string, d Directive, reply string) string {
	if IsPlaceholderName(d.Name) {
		return confirmRe.ReplaceAllString(reply, msgNeedName)
	}

	appt, err := i.booker.Create(ctx, b, customerPhone, d.Time, 0, d.Name)
	switch {
	case err == nil:
		return confirmRe.ReplaceAllString(reply, fmt.Sprintf(msgConfirmed, i.when(appt.StartTime)))
	case errors.Is(err, booking.ErrSlotUnavailable):
		return confirmRe.ReplaceAllString(reply, msgSlotTaken)
	default:
		i.logger.Error("confirm directive failed", "err", err, "business_id", b.ID)
		return confirmRe.ReplaceAllString(reply, msgTransientFail)
	}
}

func (i *Interpreter) executeCancel(ctx context.Context, b model.Business, customerPhone string, d Directive, reply string) string {
	_, err := i.booker.Cancel(ctx, b, d.ID, customerPhone)
	switch {
	case err == nil:
		return cancelRe.ReplaceAllString(reply, msgCancelled)
	case errors.Is(err, booking.ErrNotFound):
		return cancelRe.ReplaceAllString(reply, msgNotFound)
	default:
		i.logger.Error("cancel directive failed", "err", err, "business_id", b.ID)
		return cancelRe.ReplaceAllString(reply, msgTransientFail)
	}
}

func (i *Interpreter) executeReschedule(ctx context.Context, b model.Business, customerPhone string, d Directive, reply string) string {
	var newName *string
	if !IsPlaceholderName(d.Name) {
		newName = &d.Name
	}

	appt, err := i.booker.Reschedule(ctx, b, d.ID, d.Time, customerPhone, newName)
	switch {
	case err == nil:
		return rescheduleRe.ReplaceAllString(reply, fmt.Sprintf(msgRescheduled, i.when(appt.StartTime)))
	case errors.Is(err, booking.ErrSlotUnavailable):
		return rescheduleRe.ReplaceAllString(reply, msgSlotTaken)
	case errors.Is(err, booking.ErrNotFound):
		return rescheduleRe.ReplaceAllString(reply, msgNotFound)
	default:
		i.logger.Error("reschedule directive failed", "err", err, "business_id", b.ID)
		return rescheduleRe.ReplaceAllString(reply, msgTransientFail)
	}
}

func (i *Interpreter) when(t time.Time) string {
	return t.In(i.tz).Format("Monday 02/01 at 15:04")
}

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// scrub drops any line still carrying directive syntax (malformed payloads
// included) and tidies the whitespace left behind.
func scrub(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if directiveKeywordRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")
	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
