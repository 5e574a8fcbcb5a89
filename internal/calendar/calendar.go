// Package calendar talks to the external calendar of record. The calendar is
// a second source of truth: businesses edit it directly, so everything here
// is advisory from the booking core's point of view.
package calendar

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eladgs/torbot/internal/secrets"
)

type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Credentials are business-scoped and passed per call; there is no shared
// authorized client singleton.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func DecodeCredentials(box *secrets.Box, sealed []byte) (Credentials, error) {
	plain, err := box.Open(sealed)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

func EncodeCredentials(box *secrets.Box, creds Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	return box.Seal(plain)
}

type Service interface {
	ListEvents(ctx context.Context, creds Credentials, calendarID string, from, to time.Time) ([]Event, error)
	InsertEvent(ctx context.Context, creds Credentials, calendarID string, ev Event) (string, error)
	PatchEventTime(ctx context.Context, creds Credentials, calendarID, eventID string, start, end time.Time) error
	DeleteEvent(ctx context.Context, creds Credentials, calendarID, eventID string) error
}
