package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"SendLater/internal/models"
	"SendLater/internal/scheduling"
	"SendLater/internal/worker"
)

// Trigger runs one dispatch batch.
type Trigger interface {
	RunOnce(ctx context.Context) (worker.Report, error)
}

type Handler struct {
	Service     *scheduling.Service
	Dispatcher  Trigger
	WorkerToken string
	Log         *zap.Logger
}

type scheduleRequest struct {
	To            string `json:"to"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	ScheduledTime string `json:"scheduledTime"`
	UserEmail     string `json:"userEmail"`
	AccessToken   string `json:"accessToken"`
}

type scheduleResponse struct {
	Success          bool   `json:"success"`
	ScheduledEmailID string `json:"scheduledEmailId"`
	Message          string `json:"message,omitempty"`
}

type cancelRequest struct {
	ID        string `json:"id"`
	UserEmail string `json:"userEmail"`
}

type cancelResponse struct {
	Success bool `json:"success"`
}

type listResponse struct {
	Emails []models.ScheduledEmail `json:"emails"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Routes wires the handlers onto a mux wrapped in CORS and request logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /schedule", h.Schedule)
	mux.HandleFunc("GET /pending", h.Pending)
	mux.HandleFunc("GET /user-scheduled", h.UserScheduled)
	mux.HandleFunc("POST /cancel", h.Cancel)

	return logRequests(h.Log, cors(mux))
}

func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	var at time.Time
	if req.ScheduledTime != "" {
		parsed, err := time.Parse(time.RFC3339, req.ScheduledTime)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "scheduledTime must be an ISO-8601 timestamp"})
			return
		}
		at = parsed
	}

	id, err := h.Service.Schedule(r.Context(), scheduling.Request{
		To:            req.To,
		Subject:       req.Subject,
		Body:          req.Body,
		ScheduledTime: at,
		OwnerEmail:    req.UserEmail,
		AccessToken:   req.AccessToken,
	})
	if err != nil {
		h.writeError(w, "schedule", err)
		return
	}

	writeJSON(w, http.StatusOK, scheduleResponse{
		Success:          true,
		ScheduledEmailID: id,
		Message:          "Email scheduled successfully",
	})
}

// Pending runs a dispatch batch. Only the holder of the worker token may
// call it.
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	if !h.authorizedWorker(r) {
		h.Log.Warn("unauthorized dispatch trigger", zap.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: models.ErrUnauthorized.Error()})
		return
	}

	// The batch outlives the trigger: a caller that times out or hangs up
	// must not abort sends that are already in flight.
	report, err := h.Dispatcher.RunOnce(context.WithoutCancel(r.Context()))
	if err != nil {
		h.writeError(w, "dispatch", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) UserScheduled(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("userEmail")

	emails, err := h.Service.ListForOwner(r.Context(), owner)
	if err != nil {
		h.writeError(w, "list", err)
		return
	}
	if emails == nil {
		emails = []models.ScheduledEmail{}
	}

	writeJSON(w, http.StatusOK, listResponse{Emails: emails})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	ok, err := h.Service.Cancel(r.Context(), req.ID, req.UserEmail)
	if err != nil {
		h.writeError(w, "cancel", err)
		return
	}

	writeJSON(w, http.StatusOK, cancelResponse{Success: ok})
}

func (h *Handler) authorizedWorker(r *http.Request) bool {
	if h.WorkerToken == "" {
		return false
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(h.WorkerToken)) == 1
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var vErr *models.ValidationError

	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: vErr.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		h.Log.Error("request failed", zap.String("op", op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to " + op + " scheduled email"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
