package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/eladgs/torbot/internal/booking"
	"github.com/eladgs/torbot/internal/model"
)

type AdminStore interface {
	ListByBusiness(ctx context.Context, businessID string, limit int) ([]model.Appointment, error)
	CompletePast(ctx context.Context, now time.Time) (int64, error)
	Get(ctx context.Context, id string) (model.Business, error)
}

type Canceller interface {
	Cancel(ctx context.Context, b model.Business, appointmentID, customerPhone string) (model.Appointment, error)
}

// AdminHandler is the operator surface. A static bearer token guards it; per
// business operator accounts are out of scope for now.
type AdminHandler struct {
	store     AdminStore
	canceller Canceller
	logger    *slog.Logger
	token     string
}

func NewAdminHandler(store AdminStore, canceller Canceller, logger *slog.Logger, token string) *AdminHandler {
	return &AdminHandler{store: store, canceller: canceller, logger: logger, token: strings.TrimSpace(token)}
}

func (h *AdminHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.token == "" {
		http.Error(w, "admin api disabled", http.StatusForbidden)
		return false
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return false
	}
	return true
}

type appointmentItem struct {
	ID              string `json:"id"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerName    string `json:"customer_name"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
	CalendarEventID string `json:"calendar_event_id,omitempty"`
}

func (h *AdminHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	if businessID == "" {
		http.Error(w, "missing business_id", http.StatusBadRequest)
		return
	}

	appts, err := h.store.ListByBusiness(r.Context(), businessID, 200)
	if err != nil {
		h.logger.Error("admin: list appointments failed", "err", err, "business_id", businessID)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, appointmentItem{
			ID:              a.ID,
			CustomerPhone:   a.CustomerPhone,
			CustomerName:    a.DisplayName(),
			StartTime:       a.StartTime.UTC().Format(time.RFC3339),
			DurationMinutes: a.DurationMinutes,
			Status:          string(a.Status),
			CalendarEventID: a.CalendarEventID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *AdminHandler) CompletePast(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n, err := h.store.CompletePast(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("admin: complete past failed", "err", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"completed": n})
}

type cancelRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	CustomerPhone string `json:"customer_phone"`
}

func (h *AdminHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}

	b, err := h.store.Get(r.Context(), req.BusinessID)
	if err != nil {
		http.Error(w, "unknown business", http.StatusNotFound)
		return
	}

	appt, err := h.canceller.Cancel(r.Context(), b, req.AppointmentID, strings.TrimSpace(req.CustomerPhone))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"id": appt.ID, "status": string(appt.Status)})
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	default:
		h.logger.Error("admin: cancel failed", "err", err, "appointment_id", req.AppointmentID)
		http.Error(w, "db error", http.StatusInternalServerError)
	}
}
