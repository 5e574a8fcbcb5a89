package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eladgs/torbot/internal/model"
)

const (
	// A customer silent this long starts a fresh session: their prior
	// conversation is purged before the new turn is processed.
	sessionGap = 12 * time.Hour

	historyLimit   = 20
	dedupeTTL      = 24 * time.Hour
	processTimeout = 60 * time.Second
)

type ConversationStore interface {
	Append(ctx context.Context, businessID, phone, role, content string) error
	ListRecent(ctx context.Context, businessID, phone string, limit int) ([]model.ConversationTurn, error)
	LatestTurnAt(ctx context.Context, businessID, phone string) (time.Time, bool, error)
	PurgeCustomer(ctx context.Context, businessID, phone string) error
}

type BusinessStore interface {
	GetByInboundNumber(ctx context.Context, number string) (model.Business, error)
}

type Replier interface {
	Reply(ctx context.Context, b model.Business, customerPhone string, history []model.ConversationTurn, userMessage string) (string, error)
}

type Executor interface {
	Execute(ctx context.Context, b model.Business, customerPhone, reply string) string
}

type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// WebhookHandler ingests messages forwarded by the SMS gateway. The gateway
// retries on anything but a 2xx, so ingestion acks fast and the conversation
// turn is processed asynchronously.
type WebhookHandler struct {
	businesses    BusinessStore
	conversations ConversationStore
	replier       Replier
	executor      Executor
	sender        Sender
	rdb           *redis.Client
	logger        *slog.Logger
	now           func() time.Time
}

func NewWebhookHandler(businesses BusinessStore, conversations ConversationStore, replier Replier, executor Executor, sender Sender, rdb *redis.Client, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		businesses:    businesses,
		conversations: conversations,
		replier:       replier,
		executor:      executor,
		sender:        sender,
		rdb:           rdb,
		logger:        logger,
		now:           time.Now,
	}
}

type inboundMessage struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var msg inboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	msg.MessageID = strings.TrimSpace(msg.MessageID)
	msg.From = strings.TrimSpace(msg.From)
	msg.To = strings.TrimSpace(msg.To)
	msg.Body = strings.TrimSpace(msg.Body)
	if msg.MessageID == "" || msg.From == "" || msg.To == "" || msg.Body == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	b, err := h.businesses.GetByInboundNumber(ctx, msg.To)
	if err != nil {
		h.logger.Warn("webhook: no business for inbound number", "err", err, "to", msg.To)
		// 200 so the gateway stops retrying a message we can never route.
		writeJSON(w, http.StatusOK, map[string]any{"status": "unroutable"})
		return
	}

	fresh, err := h.rdb.SetNX(ctx, "webhook:msg:"+msg.MessageID, 1, dedupeTTL).Result()
	if err != nil {
		h.logger.Error("webhook: dedupe check failed", "err", err, "message_id", msg.MessageID)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if !fresh {
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	go h.process(b, msg)

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (h *WebhookHandler) process(b model.Business, msg inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	if err := h.rollSessionIfStale(ctx, b.ID, msg.From); err != nil {
		h.logger.Warn("webhook: session check failed", "err", err, "business_id", b.ID)
	}

	if err := h.conversations.Append(ctx, b.ID, msg.From, model.RoleUser, msg.Body); err != nil {
		h.logger.Error("webhook: failed to persist user turn", "err", err, "business_id", b.ID)
		return
	}
	history, err := h.conversations.ListRecent(ctx, b.ID, msg.From, historyLimit)
	if err != nil {
		h.logger.Error("webhook: failed to load history", "err", err, "business_id", b.ID)
		return
	}
	// The user turn just written is replayed as history; the model sees it
	// once, as the final message.
	if n := len(history); n > 0 && history[n-1].Role == model.RoleUser && history[n-1].Content == msg.Body {
		history = history[:n-1]
	}

	reply, err := h.replier.Reply(ctx, b, msg.From, history, msg.Body)
	if err != nil {
		h.logger.Error("webhook: model call failed", "err", err, "business_id", b.ID)
		return
	}

	final := h.executor.Execute(ctx, b, msg.From, reply)
	if final == "" {
		h.logger.Warn("webhook: empty reply after directive execution", "business_id", b.ID)
		return
	}

	if err := h.conversations.Append(ctx, b.ID, msg.From, model.RoleAssistant, final); err != nil {
		h.logger.Error("webhook: failed to persist assistant turn", "err", err, "business_id", b.ID)
	}
	if err := h.sender.Send(ctx, msg.From, final); err != nil {
		h.logger.Error("webhook: failed to send reply", "err", err, "business_id", b.ID)
	}
}

func (h *WebhookHandler) rollSessionIfStale(ctx context.Context, businessID, phone string) error {
	last, ok, err := h.conversations.LatestTurnAt(ctx, businessID, phone)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if h.now().Sub(last) < sessionGap {
		return nil
	}
	return h.conversations.PurgeCustomer(ctx, businessID, phone)
}
