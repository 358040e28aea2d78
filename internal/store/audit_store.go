package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsort/internal/model"
)

// RecordAudit inserts an audit entry.
func (s *SQLStore) RecordAudit(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Details == "" {
		entry.Details = "{}"
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO audit_log (id, user_id, action, entity_type, entity_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.UserID, entry.Action, entry.EntityType, entry.EntityID,
		entry.Details, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording audit %s: %w", entry.Action, err)
	}
	return nil
}

// ListAudit returns a user's most recent audit entries.
func (s *SQLStore) ListAudit(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []model.AuditEntry
	err := s.db.SelectContext(ctx, &entries, s.q(fmt.Sprintf(`
		SELECT id, user_id, action, entity_type, entity_id, details, created_at
		FROM audit_log WHERE user_id = ? ORDER BY created_at DESC LIMIT %d`, limit)), userID)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	return entries, nil
}

// GetLLMProvider returns the user's stored LLM backend, or ErrNotFound.
func (s *SQLStore) GetLLMProvider(ctx context.Context, userID string) (*model.LLMProviderRecord, error) {
	var rec model.LLMProviderRecord
	err := s.db.GetContext(ctx, &rec, s.q(`
		SELECT user_id, provider, model, encrypted_api_key, enabled, updated_at
		FROM llm_providers WHERE user_id = ?`), userID)
	if err != nil {
		return nil, fmt.Errorf("getting llm provider: %w", notFound(err))
	}
	return &rec, nil
}

// SetLLMProvider creates or replaces the user's LLM backend record.
func (s *SQLStore) SetLLMProvider(ctx context.Context, rec *model.LLMProviderRecord) error {
	rec.UpdatedAt = time.Now().UTC()

	_, err := s.GetLLMProvider(ctx, rec.UserID)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, s.q(`
			UPDATE llm_providers
			SET provider = ?, model = ?, encrypted_api_key = ?, enabled = ?, updated_at = ?
			WHERE user_id = ?`),
			rec.Provider, rec.Model, rec.EncryptedAPIKey, boolToInt(rec.Enabled), rec.UpdatedAt, rec.UserID)
	case errors.Is(err, ErrNotFound):
		_, err = s.db.ExecContext(ctx, s.q(`
			INSERT INTO llm_providers (user_id, provider, model, encrypted_api_key, enabled, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			rec.UserID, rec.Provider, rec.Model, rec.EncryptedAPIKey, boolToInt(rec.Enabled), rec.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("saving llm provider: %w", err)
	}
	return nil
}
