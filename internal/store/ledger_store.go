package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsort/internal/model"
)

const processedColumns = `id, connection_id, message_id, rfc_message_id, thread_id,
	category, suggested_category, confidence, label_applied, origin, rationale,
	matched_rule, needs_review, review_state, subject, sender, message_date,
	processed_at, reviewed_at`

// FindProcessed returns the ledger row for (connection, message), or
// ErrNotFound.
func (s *SQLStore) FindProcessed(
	ctx context.Context,
	connectionID, messageID string,
) (*model.ProcessedMessage, error) {
	var pm model.ProcessedMessage
	err := s.db.GetContext(ctx, &pm, s.q(
		"SELECT "+processedColumns+" FROM processed_messages WHERE connection_id = ? AND message_id = ?"),
		connectionID, messageID)
	if err != nil {
		return nil, fmt.Errorf("finding processed message %s: %w", messageID, notFound(err))
	}
	return &pm, nil
}

// GetProcessed returns a ledger row by its own ID.
func (s *SQLStore) GetProcessed(ctx context.Context, id string) (*model.ProcessedMessage, error) {
	var pm model.ProcessedMessage
	err := s.db.GetContext(ctx, &pm,
		s.q("SELECT "+processedColumns+" FROM processed_messages WHERE id = ?"), id)
	if err != nil {
		return nil, fmt.Errorf("getting processed message %s: %w", id, notFound(err))
	}
	return &pm, nil
}

// ProcessedIDs reports which of messageIDs already have a ledger row on
// the connection.
func (s *SQLStore) ProcessedIDs(
	ctx context.Context,
	connectionID string,
	messageIDs []string,
) (map[string]bool, error) {
	seen := make(map[string]bool, len(messageIDs))
	if len(messageIDs) == 0 {
		return seen, nil
	}

	query, args, err := sqlx.In(
		"SELECT message_id FROM processed_messages WHERE connection_id = ? AND message_id IN (?)",
		connectionID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("building processed lookup: %w", err)
	}

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying processed messages: %w", err)
	}
	for _, id := range ids {
		seen[id] = true
	}
	return seen, nil
}

// CountProcessed returns the number of ledger rows of a connection.
func (s *SQLStore) CountProcessed(ctx context.Context, connectionID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.q("SELECT COUNT(*) FROM processed_messages WHERE connection_id = ?"), connectionID)
	if err != nil {
		return 0, fmt.Errorf("counting processed messages: %w", err)
	}
	return n, nil
}

// CreateProcessed inserts a ledger row. A second row for the same
// (connection, message) fails with ErrDuplicate.
func (s *SQLStore) CreateProcessed(ctx context.Context, pm *model.ProcessedMessage) error {
	if pm.ID == "" {
		pm.ID = uuid.New().String()
	}
	if pm.ProcessedAt.IsZero() {
		pm.ProcessedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO processed_messages (`+processedColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		pm.ID, pm.ConnectionID, pm.MessageID, pm.RFCMessageID, pm.ThreadID,
		pm.Category, pm.SuggestedCategory, pm.Confidence, pm.LabelApplied,
		string(pm.Origin), pm.Rationale, pm.MatchedRule,
		boolToInt(pm.NeedsReview), string(pm.ReviewState),
		pm.Subject, pm.Sender, pm.MessageDate, pm.ProcessedAt.UTC(), pm.ReviewedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("recording message %s: %w", pm.MessageID, ErrDuplicate)
		}
		return fmt.Errorf("recording message %s: %w", pm.MessageID, err)
	}
	return nil
}

// DeleteProcessed removes the ledger row for (connection, message). It is
// not an error when no row exists.
func (s *SQLStore) DeleteProcessed(ctx context.Context, connectionID, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		s.q("DELETE FROM processed_messages WHERE connection_id = ? AND message_id = ?"),
		connectionID, messageID)
	if err != nil {
		return fmt.Errorf("deleting processed message %s: %w", messageID, err)
	}
	return nil
}

// ListPendingReview returns rows awaiting a human decision, newest first.
// An empty connectionID lists across all connections.
func (s *SQLStore) ListPendingReview(
	ctx context.Context,
	connectionID string,
	limit int,
) ([]model.ProcessedMessage, error) {
	query := "SELECT " + processedColumns + " FROM processed_messages WHERE needs_review = 1 AND review_state = ?"
	args := []any{string(model.ReviewPending)}
	if connectionID != "" {
		query += " AND connection_id = ?"
		args = append(args, connectionID)
	}
	query += " ORDER BY processed_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []model.ProcessedMessage
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying pending reviews: %w", err)
	}
	return rows, nil
}

// SetReviewOutcome records a human decision on a ledger row.
func (s *SQLStore) SetReviewOutcome(ctx context.Context, id string, outcome ReviewOutcome) error {
	result, err := s.db.ExecContext(ctx, s.q(`
		UPDATE processed_messages
		SET review_state = ?, category = COALESCE(?, category),
			label_applied = COALESCE(?, label_applied), reviewed_at = ?
		WHERE id = ?`),
		string(outcome.State), outcome.Category, outcome.LabelApplied,
		outcome.ReviewedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording review of %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("processed message %s: %w", id, ErrNotFound)
	}
	return nil
}
