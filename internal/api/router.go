// Package api exposes health, metrics, run triggers and review decisions
// over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/processor"
	"github.com/nhle/mailsort/internal/review"
)

// RunTrigger starts one run for a connection.
type RunTrigger interface {
	RunConnection(ctx context.Context, connectionID string, opts processor.Options) (*processor.Result, error)
}

// Reviewer lists and decides pending reviews.
type Reviewer interface {
	Pending(ctx context.Context, connectionID string, limit int) ([]model.ProcessedMessage, error)
	Decide(ctx context.Context, id string, d review.Decision, category string) (*review.Outcome, error)
}

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	runs    RunTrigger
	reviews Reviewer
	metrics http.Handler
	logger  *slog.Logger
}

// NewHandlers creates Handlers. metrics may be nil.
func NewHandlers(runs RunTrigger, reviews Reviewer, metrics http.Handler, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Handlers{runs: runs, reviews: reviews, metrics: metrics, logger: logger}
}

// NewRouter wires the routes.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.metrics)

	r.Post("/connections/{id}/run", h.RunConnection)

	r.Route("/reviews", func(r chi.Router) {
		r.Get("/", h.ListReviews)
		r.Post("/{id}", h.DecideReview)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
