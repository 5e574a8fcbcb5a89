package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eladgs/torbot/internal/model"
)

type fakeBusinesses struct {
	business model.Business
	err      error
}

func (f *fakeBusinesses) GetByInboundNumber(context.Context, string) (model.Business, error) {
	return f.business, f.err
}

type fakeConversations struct {
	latest  time.Time
	hasTurn bool
	purged  int
	turns   []model.ConversationTurn
}

func (f *fakeConversations) Append(_ context.Context, _, _, role, content string) error {
	f.turns = append(f.turns, model.ConversationTurn{Role: role, Content: content})
	return nil
}

func (f *fakeConversations) ListRecent(context.Context, string, string, int) ([]model.ConversationTurn, error) {
	return f.turns, nil
}

func (f *fakeConversations) LatestTurnAt(context.Context, string, string) (time.Time, bool, error) {
	return f.latest, f.hasTurn, nil
}

func (f *fakeConversations) PurgeCustomer(context.Context, string, string) error {
	f.purged++
	f.turns = nil
	return nil
}

func newWebhookHandler(businesses *fakeBusinesses, convos *fakeConversations) *WebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewWebhookHandler(businesses, convos, nil, nil, nil, nil, logger)
	h.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return h
}

func TestInbound_RejectsBadRequests(t *testing.T) {
	h := newWebhookHandler(&fakeBusinesses{}, &fakeConversations{})

	rec := httptest.NewRecorder()
	h.Inbound(rec, httptest.NewRequest(http.MethodGet, "/webhook/messages", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Inbound(rec, httptest.NewRequest(http.MethodPost, "/webhook/messages", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid json should be 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Inbound(rec, httptest.NewRequest(http.MethodPost, "/webhook/messages", strings.NewReader(`{"message_id":"m1","from":"+200"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing fields should be 400, got %d", rec.Code)
	}
}

func TestInbound_UnroutableNumberAcksWithoutRetry(t *testing.T) {
	h := newWebhookHandler(&fakeBusinesses{err: errors.New("no rows")}, &fakeConversations{})

	rec := httptest.NewRecorder()
	body := `{"message_id":"m1","from":"+200","to":"+100","body":"hi"}`
	h.Inbound(rec, httptest.NewRequest(http.MethodPost, "/webhook/messages", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("unroutable message must still be 2xx, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unroutable") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestRollSessionIfStale(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	convos := &fakeConversations{hasTurn: true, latest: now.Add(-13 * time.Hour)}
	h := newWebhookHandler(&fakeBusinesses{}, convos)
	if err := h.rollSessionIfStale(context.Background(), "b", "+200"); err != nil {
		t.Fatalf("rollSessionIfStale: %v", err)
	}
	if convos.purged != 1 {
		t.Fatalf("a 13h gap should purge the conversation")
	}

	convos = &fakeConversations{hasTurn: true, latest: now.Add(-11 * time.Hour)}
	h = newWebhookHandler(&fakeBusinesses{}, convos)
	if err := h.rollSessionIfStale(context.Background(), "b", "+200"); err != nil {
		t.Fatalf("rollSessionIfStale: %v", err)
	}
	if convos.purged != 0 {
		t.Fatalf("an 11h gap must not purge")
	}

	convos = &fakeConversations{hasTurn: false}
	h = newWebhookHandler(&fakeBusinesses{}, convos)
	if err := h.rollSessionIfStale(context.Background(), "b", "+200"); err != nil {
		t.Fatalf("rollSessionIfStale: %v", err)
	}
	if convos.purged != 0 {
		t.Fatalf("a first contact must not purge")
	}
}
