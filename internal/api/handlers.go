package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/subtrack/renewal-service/internal/app"
	"github.com/subtrack/renewal-service/internal/store"
)

// PassTrigger is the part of the scheduler the API depends on.
type PassTrigger interface {
	TriggerNow(ctx context.Context) (app.PassSummary, error)
	LastSummary() *app.PassSummary
	Started() bool
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	scheduler PassTrigger
	notifier  app.PriceChangeNotifier
	logger    *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(scheduler PassTrigger, notifier app.PriceChangeNotifier, logger *slog.Logger) *Handler {
	return &Handler{scheduler: scheduler, notifier: notifier, logger: logger}
}

type healthResponse struct {
	Status    string           `json:"status"`
	Scheduler string           `json:"scheduler"`
	LastRun   *app.PassSummary `json:"last_run,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Scheduler: "running", LastRun: h.scheduler.LastSummary()}
	if !h.scheduler.Started() {
		resp.Scheduler = "degraded"
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRunChecks(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.TriggerNow(r.Context())
	switch {
	case errors.Is(err, app.ErrPassInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, app.ErrSchedulerStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("manual notification pass failed", "error", err)
		http.Error(w, "Failed to run notification checks", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

type priceChangeRequest struct {
	OldAmount *decimal.Decimal `json:"old_amount"`
	NewAmount *decimal.Decimal `json:"new_amount"`
}

func (h *Handler) handlePriceChange(w http.ResponseWriter, r *http.Request) {
	subID := strings.TrimSpace(chi.URLParam(r, "id"))
	if subID == "" {
		http.Error(w, "Subscription ID is required", http.StatusBadRequest)
		return
	}

	var req priceChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OldAmount == nil || req.NewAmount == nil {
		http.Error(w, "old_amount and new_amount are required", http.StatusBadRequest)
		return
	}

	n, err := h.notifier.CreatePriceChangeNotification(r.Context(), subID, *req.OldAmount, *req.NewAmount)
	switch {
	case errors.Is(err, app.ErrPriceUnchanged), errors.Is(err, app.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrSubscriptionNotFound):
		http.Error(w, "Subscription not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("failed to create price change notification", "subscription_id", subID, "error", err)
		http.Error(w, "Failed to create notification", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusCreated, n)
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
