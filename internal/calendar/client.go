package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// ReminderMinutes is attached to every mirrored event.
const ReminderMinutes = 60

type Client struct {
	http *resty.Client
	tz   *time.Location
}

func NewClient(baseURL string, tz *time.Location) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c, tz: tz}
}

type wireTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type wireEvent struct {
	ID          string     `json:"id,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	Start       wireTime   `json:"start"`
	End         wireTime   `json:"end"`
	Reminders   *reminders `json:"reminders,omitempty"`
}

type reminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []reminderOverride `json:"overrides,omitempty"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type listResponse struct {
	Items []wireEvent `json:"items"`
}

func (c *Client) ListEvents(ctx context.Context, creds Credentials, calendarID string, from, to time.Time) ([]Event, error) {
	var out listResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetQueryParams(map[string]string{
			"timeMin":      from.Format(time.RFC3339),
			"timeMax":      to.Format(time.RFC3339),
			"singleEvents": "true",
			"orderBy":      "startTime",
		}).
		SetResult(&out).
		Get("/calendars/" + calendarID + "/events")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("calendar list returned %s", resp.Status())
	}

	events := make([]Event, 0, len(out.Items))
	for _, it := range out.Items {
		start, err := c.parseTime(it.Start.DateTime)
		if err != nil {
			continue
		}
		end, err := c.parseTime(it.End.DateTime)
		if err != nil {
			end = start
		}
		events = append(events, Event{
			ID:          it.ID,
			Summary:     it.Summary,
			Description: it.Description,
			Start:       start,
			End:         end,
		})
	}
	return events, nil
}

func (c *Client) InsertEvent(ctx context.Context, creds Credentials, calendarID string, ev Event) (string, error) {
	body := wireEvent{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       c.wire(ev.Start),
		End:         c.wire(ev.End),
		Reminders: &reminders{
			Overrides: []reminderOverride{{Method: "popup", Minutes: ReminderMinutes}},
		},
	}
	var out wireEvent
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetBody(body).
		SetResult(&out).
		Post("/calendars/" + calendarID + "/events")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("calendar insert returned %s", resp.Status())
	}
	return out.ID, nil
}

func (c *Client) PatchEventTime(ctx context.Context, creds Credentials, calendarID, eventID string, start, end time.Time) error {
	body := map[string]wireTime{
		"start": c.wire(start),
		"end":   c.wire(end),
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetBody(body).
		Patch("/calendars/" + calendarID + "/events/" + eventID)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("calendar patch returned %s", resp.Status())
	}
	return nil
}

func (c *Client) DeleteEvent(ctx context.Context, creds Credentials, calendarID, eventID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		Delete("/calendars/" + calendarID + "/events/" + eventID)
	if err != nil {
		return err
	}
	// Deleting an already-deleted event is fine.
	if resp.IsError() && resp.StatusCode() != 404 && resp.StatusCode() != 410 {
		return fmt.Errorf("calendar delete returned %s", resp.Status())
	}
	return nil
}

func (c *Client) wire(t time.Time) wireTime {
	return wireTime{
		DateTime: t.In(c.tz).Format(time.RFC3339),
		TimeZone: c.tz.String(),
	}
}

func (c *Client) parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(c.tz), nil
}
