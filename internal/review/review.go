// Package review applies human decisions to messages the classifier left
// for review. Decisions are final: messages are never reclassified.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/processor"
	"github.com/nhle/mailsort/internal/provider"
	"github.com/nhle/mailsort/internal/store"
)

// Decision is a reviewer's verdict.
type Decision string

const (
	// Approve accepts the suggested category.
	Approve Decision = "approve"
	// Change files the message under another category.
	Change Decision = "change"
	// Reject leaves the message where it is.
	Reject Decision = "reject"
)

var (
	// ErrNotPending is returned for rows that are not awaiting review.
	ErrNotPending = errors.New("message is not pending review")

	// ErrNoSuggestion is returned when approving a row without a
	// suggested category.
	ErrNoSuggestion = errors.New("message has no suggested category")

	// ErrInvalidDecision is returned for unknown decisions and for a
	// change without a category.
	ErrInvalidDecision = errors.New("invalid review decision")
)

// ProviderOpener builds a live provider session for a connection.
type ProviderOpener interface {
	OpenProvider(ctx context.Context, conn model.Connection) (provider.Provider, error)
}

// Outcome describes an applied decision.
type Outcome struct {
	Row        *model.ProcessedMessage `json:"row"`
	Label      string                  `json:"label,omitempty"`
	Labeled    bool                    `json:"labeled"`
	LabelError string                  `json:"label_error,omitempty"`
}

// Service records review decisions and files approved messages.
type Service struct {
	store     store.Store
	providers ProviderOpener
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a Service.
func New(st store.Store, providers ProviderOpener, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, providers: providers, logger: logger, now: time.Now}
}

// Pending lists rows awaiting a decision. An empty connectionID lists all
// connections.
func (s *Service) Pending(ctx context.Context, connectionID string, limit int) ([]model.ProcessedMessage, error) {
	return s.store.ListPendingReview(ctx, connectionID, limit)
}

// Decide applies d to the ledger row id. category is required for Change.
// Label changes on the mailbox are best-effort; the decision is recorded
// even when they fail.
func (s *Service) Decide(ctx context.Context, id string, d Decision, category string) (*Outcome, error) {
	row, err := s.store.GetProcessed(ctx, id)
	if err != nil {
		return nil, err
	}
	if !row.NeedsReview || row.ReviewState != model.ReviewPending {
		return nil, fmt.Errorf("%s: %w", id, ErrNotPending)
	}

	conn, err := s.store.GetConnection(ctx, row.ConnectionID)
	if err != nil {
		return nil, err
	}

	var state model.ReviewState
	var code string
	switch d {
	case Approve:
		if row.SuggestedCategory == nil || *row.SuggestedCategory == "" {
			return nil, fmt.Errorf("%s: %w", id, ErrNoSuggestion)
		}
		state, code = model.ReviewApproved, *row.SuggestedCategory
	case Change:
		code = strings.ToUpper(strings.TrimSpace(category))
		if code == "" {
			return nil, fmt.Errorf("%w: change needs a category", ErrInvalidDecision)
		}
		if _, err := s.store.GetCategoryByCode(ctx, conn.UserID, code); err != nil {
			return nil, fmt.Errorf("category %s: %w", code, err)
		}
		state = model.ReviewChanged
	case Reject:
		state = model.ReviewRejected
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecision, d)
	}

	out := &Outcome{}
	outcome := store.ReviewOutcome{State: state, ReviewedAt: s.now()}
	if code != "" {
		outcome.Category = &code
		s.file(ctx, *conn, row, code, out)
		if out.Labeled {
			outcome.LabelApplied = &out.Label
		}
	}

	if err := s.store.SetReviewOutcome(ctx, id, outcome); err != nil {
		return nil, err
	}
	s.audit(ctx, *conn, row, d, code, out)

	row, err = s.store.GetProcessed(ctx, id)
	if err != nil {
		return nil, err
	}
	out.Row = row
	return out, nil
}

// file moves the message from its review label to the label of code.
func (s *Service) file(
	ctx context.Context,
	conn model.Connection,
	row *model.ProcessedMessage,
	code string,
	out *Outcome,
) {
	logger := s.logger.With("connection_id", conn.ID, "message_id", row.MessageID)

	prov, err := s.providers.OpenProvider(ctx, conn)
	if err != nil {
		out.LabelError = err.Error()
		logger.Warn("cannot open mailbox for review", "error", err)
		return
	}
	defer func() {
		if err := prov.Disconnect(); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
	}()

	categories, err := s.store.ListCategories(ctx, conn.UserID)
	if err != nil {
		out.LabelError = err.Error()
		return
	}
	target, err := processor.NewLabelResolver(s.store, conn, prov.DefaultLabelKind(), categories).Resolve(ctx, code)
	if err != nil {
		out.LabelError = err.Error()
		return
	}

	info, err := prov.GetOrCreateLabel(ctx, target.Name)
	if err != nil {
		out.LabelError = err.Error()
		logger.Warn("preparing label failed", "label", target.Name, "error", err)
		return
	}

	var res provider.ApplyResult
	refiler, folders := prov.(provider.Refiler)
	switch {
	case row.LabelApplied != nil && folders:
		// The stored ID named the message in the primary mailbox; inside
		// the review folder it has another one.
		res = refiler.Refile(ctx, row.RFCMessageID, *row.LabelApplied, info.ID)
	default:
		if row.LabelApplied != nil {
			if err := prov.RemoveLabel(ctx, row.MessageID, *row.LabelApplied); err != nil {
				logger.Warn("removing review label failed", "label", *row.LabelApplied, "error", err)
			}
		}
		res = prov.ApplyLabel(ctx, row.MessageID, info.ID)
	}
	if !res.Success {
		if res.Error != nil {
			out.LabelError = res.Error.Error()
		}
		logger.Warn("applying reviewed label failed", "label", target.Name, "error", res.Error)
		return
	}
	out.Label = info.ID
	out.Labeled = true
}

func (s *Service) audit(
	ctx context.Context,
	conn model.Connection,
	row *model.ProcessedMessage,
	d Decision,
	code string,
	out *Outcome,
) {
	details, _ := json.Marshal(map[string]any{
		"message_id":  row.MessageID,
		"decision":    d,
		"category":    code,
		"previous":    row.SuggestedCategory,
		"labeled":     out.Labeled,
		"label_error": out.LabelError,
	})
	err := s.store.RecordAudit(ctx, &model.AuditEntry{
		UserID:     conn.UserID,
		Action:     model.AuditEmailReviewed,
		EntityType: "processed_message",
		EntityID:   row.ID,
		Details:    string(details),
	})
	if err != nil {
		s.logger.Warn("recording audit entry failed", "message_id", row.MessageID, "error", err)
	}
}
