package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eladgs/torbot/internal/calendar"
	"github.com/eladgs/torbot/internal/secrets"
)

const stateTTL = 10 * time.Minute

type CalendarConnections interface {
	SetCalendarConnection(ctx context.Context, id string, creds []byte, calendarID string) error
}

type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (calendar.Credentials, error)
}

// CalendarHandler runs the OAuth round trip that links a business to its
// external calendar. The state parameter is a one-shot random token mapped to
// the business id in redis, so the callback cannot be replayed or forged.
type CalendarHandler struct {
	businesses CalendarConnections
	oauth      calendar.OAuthConfig
	exchanger  TokenExchanger
	box        *secrets.Box
	rdb        *redis.Client
	logger     *slog.Logger
}

func NewCalendarHandler(businesses CalendarConnections, oauth calendar.OAuthConfig, exchanger TokenExchanger, box *secrets.Box, rdb *redis.Client, logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{
		businesses: businesses,
		oauth:      oauth,
		exchanger:  exchanger,
		box:        box,
		rdb:        rdb,
		logger:     logger,
	}
}

func (h *CalendarHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	if businessID == "" {
		http.Error(w, "missing business_id", http.StatusBadRequest)
		return
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(buf)

	if err := h.rdb.Set(r.Context(), "oauth:state:"+state, businessID, stateTTL).Err(); err != nil {
		h.logger.Error("calendar connect: failed to store state", "err", err)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

func (h *CalendarHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	code := strings.TrimSpace(r.URL.Query().Get("code"))
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	businessID, err := h.rdb.GetDel(ctx, "oauth:state:"+state).Result()
	if err == redis.Nil {
		http.Error(w, "unknown or expired state", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("calendar callback: state lookup failed", "err", err)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	creds, err := h.exchanger.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("calendar callback: token exchange failed", "err", err, "business_id", businessID)
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}

	sealed, err := calendar.EncodeCredentials(h.box, creds)
	if err != nil {
		h.logger.Error("calendar callback: failed to seal credentials", "err", err, "business_id", businessID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := h.businesses.SetCalendarConnection(ctx, businessID, sealed, "primary"); err != nil {
		h.logger.Error("calendar callback: failed to store connection", "err", err, "business_id", businessID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("calendar connected", "business_id", businessID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "connected"})
}
