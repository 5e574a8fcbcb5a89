// Package assistant assembles the scheduling context for the language model
// and calls it. The model writes the prose; everything it may act on is fed
// to it here, and its replies are executed elsewhere.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/eladgs/torbot/internal/model"
)

const (
	slotOfferCount = 6
	legendDays     = 7
	busyWindowDays = 7
)

// Scheduler is the read-side of the booking service the responder consults
// when building the model's context.
type Scheduler interface {
	FreeSlots(ctx context.Context, b model.Business, from time.Time, count, preferredHour int) ([]time.Time, error)
	BusyIntervals(ctx context.Context, businessID string, from, to time.Time) ([]model.Appointment, error)
	UpcomingForCustomer(ctx context.Context, businessID, phone string) ([]model.Appointment, error)
}

type Responder struct {
	client    *openai.Client
	scheduler Scheduler
	logger    *slog.Logger
	tz        *time.Location
	model     string
	now       func() time.Time
}

func NewResponder(client *openai.Client, scheduler Scheduler, logger *slog.Logger, tz *time.Location, chatModel string) *Responder {
	return &Responder{
		client:    client,
		scheduler: scheduler,
		logger:    logger,
		tz:        tz,
		model:     chatModel,
		now:       time.Now,
	}
}

// Reply builds the context bundle, replays the conversation history and asks
// the model for the next turn.
func (r *Responder) Reply(ctx context.Context, b model.Business, customerPhone string, history []model.ConversationTurn, userMessage string) (string, error) {
	system, err := r.systemPrompt(ctx, b, customerPhone)
	if err != nil {
		return "", fmt.Errorf("build context: %w", err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choice list")
	}
	return resp.Choices[0].Message.Content, nil
}

func (r *Responder) systemPrompt(ctx context.Context, b model.Business, customerPhone string) (string, error) {
	now := r.now().In(r.tz)

	slots, err := r.scheduler.FreeSlots(ctx, b, now, slotOfferCount, -1)
	if err != nil {
		return "", err
	}
	busy, err := r.scheduler.BusyIntervals(ctx, b.ID, now, now.AddDate(0, 0, busyWindowDays))
	if err != nil {
		return "", err
	}
	existing, err := r.scheduler.UpcomingForCustomer(ctx, b.ID, customerPhone)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the booking assistant for %s. Reply in the customer's language, short and friendly.\n\n", b.Name)
	fmt.Fprintf(&sb, "Business hours: %s-%s on %s. Appointments last %d minutes. Timezone: %s.\n",
		minutesClock(b.WorkStartMinutes), minutesClock(b.WorkEndMinutes), workDayNames(b.WorkDays), b.DefaultDuration, r.tz.String())
	fmt.Fprintf(&sb, "Now: %s.\n\n", now.Format("Monday 2006-01-02 15:04"))

	sb.WriteString("Date legend:\n")
	for i := 0; i < legendDays; i++ {
		day := now.AddDate(0, 0, i)
		fmt.Fprintf(&sb, "  %s = %s\n", day.Format("Monday"), day.Format("2006-01-02"))
	}

	sb.WriteString("\nAlready booked (do not offer these):\n")
	if len(busy) == 0 {
		sb.WriteString("  none\n")
	}
	for _, appt := range busy {
		start := appt.StartTime.In(r.tz)
		fmt.Fprintf(&sb, "  %s %s-%s\n", start.Format("Monday 02/01"), start.Format("15:04"), appt.EndTime().In(r.tz).Format("15:04"))
	}

	sb.WriteString("\nFree slots you may offer. When confirming, use the exact timestamp in parentheses:\n")
	if len(slots) == 0 {
		sb.WriteString("  none in the next two weeks; apologize and suggest the customer check back later\n")
	}
	for _, slot := range slots {
		local := slot.In(r.tz)
		fmt.Fprintf(&sb, "  %s at %s (%s)\n", local.Format("Monday 02/01"), local.Format("15:04"), local.Format("2006-01-02T15:04:05"))
	}

	if len(existing) > 0 {
		sb.WriteString("\nThis customer's upcoming appointments:\n")
		for _, appt := range existing {
			local := appt.StartTime.In(r.tz)
			fmt.Fprintf(&sb, "  id=%s %s at %s (%s)\n", appt.ID, local.Format("Monday 02/01"), local.Format("15:04"), appt.DisplayName())
		}
	}

	sb.WriteString(`
When the customer agrees to a time and has given their name, append on its own line:
CONFIRM:<timestamp from the free-slot list>|NAME:<customer's real name>
Never invent a timestamp and never use a placeholder name; ask for the name first.
To cancel an existing appointment, append: CANCEL:<id>
To move an existing appointment, append: RESCHEDULE:<id>|NEW_TIME:<timestamp>|NAME:<name>
At most one directive per reply. The directive line is removed before the customer sees your reply, so also say in plain words what you did.`)

	return sb.String(), nil
}

func minutesClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

func workDayNames(days model.WorkDays) string {
	names := make([]string, 0, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if days.Includes(wd) {
			names = append(names, wd.String())
		}
	}
	if len(names) == 0 {
		return "no days"
	}
	return strings.Join(names, ", ")
}
