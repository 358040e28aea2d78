package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailsort/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a unique key, most
	// importantly the (connection, message) key of the ledger.
	ErrDuplicate = errors.New("duplicate")
)

// ConnectionStore persists mailbox connections and their health.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, conn *model.Connection) error
	GetConnection(ctx context.Context, id string) (*model.Connection, error)
	ListConnections(ctx context.Context, userID string) ([]model.Connection, error)
	ListConnectionsByStatus(ctx context.Context, status model.ConnectionStatus) ([]model.Connection, error)
	UpdateConnectionStatus(ctx context.Context, id string, status model.ConnectionStatus, lastError string) error
	MarkConnectionSynced(ctx context.Context, id string, at time.Time) error
	UpdateConnectionCredentials(ctx context.Context, id, encrypted string) error
}

// CatalogStore persists categories, rules and label mappings.
type CatalogStore interface {
	EnsureSystemCategories(ctx context.Context, userID string) error
	UpsertCategory(ctx context.Context, cat *model.Category) error
	ListCategories(ctx context.Context, userID string) ([]model.Category, error)
	GetCategoryByCode(ctx context.Context, userID, code string) (*model.Category, error)

	CreateRule(ctx context.Context, rule *model.Rule) error
	ListActiveRules(ctx context.Context, userID string) ([]model.Rule, error)
	ListRules(ctx context.Context, userID string) ([]model.Rule, error)

	GetLabelMapping(ctx context.Context, categoryID, connectionID string) (*model.LabelMapping, error)
	SetLabelMapping(ctx context.Context, m *model.LabelMapping) error
}

// LedgerStore persists the processed-message ledger. At most one row exists
// per (connection, message).
type LedgerStore interface {
	FindProcessed(ctx context.Context, connectionID, messageID string) (*model.ProcessedMessage, error)
	GetProcessed(ctx context.Context, id string) (*model.ProcessedMessage, error)
	ProcessedIDs(ctx context.Context, connectionID string, messageIDs []string) (map[string]bool, error)
	CountProcessed(ctx context.Context, connectionID string) (int, error)
	CreateProcessed(ctx context.Context, pm *model.ProcessedMessage) error
	DeleteProcessed(ctx context.Context, connectionID, messageID string) error
	ListPendingReview(ctx context.Context, connectionID string, limit int) ([]model.ProcessedMessage, error)
	SetReviewOutcome(ctx context.Context, id string, outcome ReviewOutcome) error
}

// ReviewOutcome is the result of a human decision on a ledger row.
type ReviewOutcome struct {
	State        model.ReviewState
	Category     *string
	LabelApplied *string
	ReviewedAt   time.Time
}

// AuditStore persists audit entries.
type AuditStore interface {
	RecordAudit(ctx context.Context, entry *model.AuditEntry) error
	ListAudit(ctx context.Context, userID string, limit int) ([]model.AuditEntry, error)
}

// LLMProviderStore persists per-user LLM backend records.
type LLMProviderStore interface {
	GetLLMProvider(ctx context.Context, userID string) (*model.LLMProviderRecord, error)
	SetLLMProvider(ctx context.Context, rec *model.LLMProviderRecord) error
}

// Store is the full persistence surface.
type Store interface {
	ConnectionStore
	CatalogStore
	LedgerStore
	AuditStore
	LLMProviderStore

	Close() error
}
