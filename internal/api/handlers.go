package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/mailsort/internal/processor"
	"github.com/nhle/mailsort/internal/review"
	"github.com/nhle/mailsort/internal/scheduler"
	"github.com/nhle/mailsort/internal/store"
)

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RunConnection processes one connection and returns the run result. The
// body holds optional run options.
func (h *Handlers) RunConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var opts processor.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if opts.MaxEmails < 0 {
		respondError(w, http.StatusBadRequest, "maxEmails must not be negative")
		return
	}

	result, err := h.runs.RunConnection(r.Context(), id, opts)
	if err != nil {
		h.logger.Warn("run failed", "connection_id", id, "error", err)
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListReviews returns messages awaiting a decision.
func (h *Handlers) ListReviews(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	rows, err := h.reviews.Pending(r.Context(), r.URL.Query().Get("connection"), limit)
	if err != nil {
		h.logger.Error("listing reviews failed", "error", err)
		respondError(w, http.StatusInternalServerError, "listing reviews failed")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Category string `json:"category,omitempty"`
}

// DecideReview applies a decision to a pending message.
func (h *Handlers) DecideReview(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.reviews.Decide(r.Context(), chi.URLParam(r, "id"), review.Decision(req.Decision), req.Category)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrConnectionInactive),
		errors.Is(err, scheduler.ErrBusy),
		errors.Is(err, review.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, review.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrNoSuggestion):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
