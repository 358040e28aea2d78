package model

import "time"

// Audit actions written by the pipeline.
const (
	AuditEmailClassified = "EMAIL_CLASSIFIED"
	AuditEmailReviewed   = "EMAIL_REVIEWED"
)

// AuditEntry is a fire-and-forget record of something the pipeline did.
type AuditEntry struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	Action     string    `db:"action" json:"action"`
	EntityType string    `db:"entity_type" json:"entity_type"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	Details    string    `db:"details" json:"details"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// LLMProviderRecord is a per-user stored LLM backend. The API key is kept
// encrypted and only decrypted when the classifier first needs it.
type LLMProviderRecord struct {
	UserID          string    `db:"user_id" json:"user_id"`
	Provider        string    `db:"provider" json:"provider"`
	Model           string    `db:"model" json:"model"`
	EncryptedAPIKey string    `db:"encrypted_api_key" json:"-"`
	Enabled         bool      `db:"enabled" json:"enabled"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
