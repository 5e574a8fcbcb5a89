package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Sender delivers a plain-text message to a phone identity. Retries and
// transport reliability belong to the gateway behind it.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

type GatewaySender struct {
	http *resty.Client
	url  string
}

func NewGatewaySender(url, token string) *GatewaySender {
	c := resty.New().
		SetTimeout(5 * time.Second).
		SetHeader("Content-Type", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		c.SetAuthToken(token)
	}
	return &GatewaySender{http: c, url: strings.TrimSpace(url)}
}

func (s *GatewaySender) Send(ctx context.Context, to, body string) error {
	if s.url == "" {
		return errors.New("messaging gateway url not configured")
	}
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"to": to, "body": body}).
		Post(s.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("messaging gateway returned %s", resp.Status())
	}
	return nil
}
