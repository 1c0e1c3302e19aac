package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"trade-pipeline-go/internal/models"
	"trade-pipeline-go/internal/pipeline"
	"trade-pipeline-go/internal/queue"
	"trade-pipeline-go/internal/store"

	"go.uber.org/zap"
)

// APIHandler holds dependencies for the API endpoints.
type APIHandler struct {
	log    *zap.Logger
	store  *store.TradeStore
	intake *pipeline.Service
	retry  *pipeline.RetryController
	admin  queue.Admin
}

// NewAPIHandler creates a new APIHandler.
func NewAPIHandler(log *zap.Logger, st *store.TradeStore, intake *pipeline.Service, retry *pipeline.RetryController, admin queue.Admin) *APIHandler {
	return &APIHandler{log: log, store: st, intake: intake, retry: retry, admin: admin}
}

// errorResponse is the JSON body of every error answer.
type errorResponse struct {
	Error string `json:"error"`
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// intakeStatus maps pipeline error kinds onto HTTP status codes.
func intakeStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidQuantity),
		errors.Is(err, pipeline.ErrMissingPrice),
		errors.Is(err, pipeline.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrInstrumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrDuplicateTrade):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrLockContention):
		return http.StatusTooManyRequests
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotCancellable),
		errors.Is(err, pipeline.ErrNotRejected),
		errors.Is(err, pipeline.ErrMaxRetriesExceeded):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// PlaceOrderHandler accepts a new order submission.
func (h *APIHandler) PlaceOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req pipeline.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	trade, err := h.intake.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, intakeStatus(err), err)
		return
	}
	h.writeJSON(w, http.StatusCreated, trade)
}

// tradeID extracts the {id} path segment.
func tradeID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	return uint(id), err
}

// GetTradeHandler returns a single trade.
func (h *APIHandler) GetTradeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := tradeID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	trade, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, intakeStatus(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

// ListTradesHandler returns a user's trades, newest first.
func (h *APIHandler) ListTradesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 32)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("user_id query parameter required"))
		return
	}

	status := models.TradeStatus(r.URL.Query().Get("status"))
	trades, err := h.store.ListByUser(r.Context(), uint(userID), status, 100)
	if err != nil {
		h.log.Error("Failed to list trades", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// CancelHandler cancels a trade that has not reached a terminal state.
func (h *APIHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	id, err := tradeID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	trade, err := h.intake.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, intakeStatus(err), err)
		return
	}
	h.writeJSON(w, http.StatusOK, trade)
}

// RetryHandler re-enqueues a rejected trade with backoff.
func (h *APIHandler) RetryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := tradeID(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	delay, err := h.retry.Retry(r.Context(), id)
	if err != nil {
		h.writeError(w, intakeStatus(err), err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]int64{"delay_ms": delay.Milliseconds()})
}

// RetryAllHandler retries every eligible rejected trade for a user.
func (h *APIHandler) RetryAllHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 32)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, errors.New("user_id query parameter required"))
		return
	}

	result, err := h.retry.RetryAllFailed(r.Context(), uint(userID))
	if err != nil {
		h.log.Error("Bulk retry failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// ExpireStaleHandler sweeps non-terminal trades past the configured maximum
// age into EXPIRED.
func (h *APIHandler) ExpireStaleHandler(w http.ResponseWriter, r *http.Request) {
	expired, err := h.intake.ExpireStale(r.Context())
	if err != nil {
		h.log.Error("Expiry sweep failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"expired": expired})
}

// QueueStatsHandler reports queue depths.
func (h *APIHandler) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// QueueFailedJobsHandler lists parked jobs.
func (h *APIHandler) QueueFailedJobsHandler(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.admin.FailedJobs(r.Context(), 100)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, jobs)
}

// QueueRetryFailedHandler re-drives all parked jobs onto the ready list.
func (h *APIHandler) QueueRetryFailedHandler(w http.ResponseWriter, r *http.Request) {
	moved, err := h.admin.RetryAllFailed(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"moved": moved})
}

// QueuePurgeFailedHandler drops all parked jobs.
func (h *APIHandler) QueuePurgeFailedHandler(w http.ResponseWriter, r *http.Request) {
	purged, err := h.admin.PurgeFailed(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}

// HealthHandler reports liveness.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}
