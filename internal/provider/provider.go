// Package provider defines the mailbox backend contract shared by the IMAP
// and Gmail adapters.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/mailsort/internal/model"
)

// AuthError indicates that authentication has failed or expired for a
// connection. Adapters return it when the backend rejects credentials.
type AuthError struct {
	Provider model.ProviderType
	Message  string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// FetchError is a connection-scoped failure to list or read messages.
type FetchError struct {
	Provider model.ProviderType
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error (%s): %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrInvalidPageToken is returned by FetchMessages for a page token the
// backend did not issue.
var ErrInvalidPageToken = errors.New("invalid page token")

// ErrMessageNotFound is returned when a message cannot be located on the
// backend.
var ErrMessageNotFound = errors.New("message not found")

// FetchOptions controls pagination for FetchMessages.
type FetchOptions struct {
	// Since is an optional lower bound; backends may ignore it.
	Since *time.Time

	MaxResults int
	PageToken  string
}

// FetchResult holds one page of messages, newest first.
type FetchResult struct {
	Messages      []model.MailboxMessage
	NextPageToken string
	HasMore       bool
}

// LabelInfo describes a provider label (IMAP folder, Gmail label, ...).
type LabelInfo struct {
	ID   string
	Name string
	Kind model.LabelKind
}

// ApplyResult reports the outcome of ApplyLabel. Error is set when Success
// is false.
type ApplyResult struct {
	Success bool
	Error   error
}

// Provider is the capability set every mailbox backend implements.
// Operations are independently retryable; idempotence of the pipeline as a
// whole comes from the ledger, not from the backend.
type Provider interface {
	// Type returns the backend identifier.
	Type() model.ProviderType

	// DefaultLabelKind is the label model new labels are created with.
	DefaultLabelKind() model.LabelKind

	// FetchMessages returns a page of messages, newest first. Transport and
	// auth failures are returned as *FetchError or *AuthError.
	FetchMessages(ctx context.Context, opts FetchOptions) (*FetchResult, error)

	// GetLabels lists the labels that exist on the backend.
	GetLabels(ctx context.Context) ([]LabelInfo, error)

	// CreateLabel creates a label, returning the existing one when it is
	// already present (including when a concurrent creator won the race).
	CreateLabel(ctx context.Context, name string) (LabelInfo, error)

	// GetOrCreateLabel finds a label by name or creates it.
	GetOrCreateLabel(ctx context.Context, name string) (LabelInfo, error)

	// ApplyLabel files a message under a label. Folder-style backends move
	// the message so it ends up in exactly one folder.
	ApplyLabel(ctx context.Context, messageID, labelID string) ApplyResult

	// RemoveLabel is best-effort. On folder-style backends messageID is
	// only valid inside labelID; see Refiler.
	RemoveLabel(ctx context.Context, messageID, labelID string) error

	// TestConnection opens the primary mailbox without mutating state.
	TestConnection(ctx context.Context) (bool, error)

	// RefreshTokenIfNeeded returns new credentials when an OAuth token was
	// refreshed, or nil when nothing changed or the backend has no tokens.
	RefreshTokenIfNeeded(ctx context.Context) (*model.Credentials, error)

	// Disconnect releases the session. Safe to call more than once.
	Disconnect() error
}

// Refiler is implemented by folder-style backends, where a message ID is
// scoped to the folder holding the message and changes when it moves.
// Refile finds the message in from by its RFC 5322 Message-ID and moves it
// to to. It fails with ErrMessageNotFound rather than guessing.
type Refiler interface {
	Refile(ctx context.Context, rfcMessageID, from, to string) ApplyResult
}

// Factory builds a Provider for a connection from its decrypted credentials.
type Factory interface {
	New(ctx context.Context, conn model.Connection, creds model.Credentials) (Provider, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conn model.Connection, creds model.Credentials) (Provider, error)

// New calls f.
func (f FactoryFunc) New(
	ctx context.Context,
	conn model.Connection,
	creds model.Credentials,
) (Provider, error) {
	return f(ctx, conn, creds)
}

// FindLabel returns the label with the given name from labels.
func FindLabel(labels []LabelInfo, name string) (LabelInfo, bool) {
	for _, l := range labels {
		if l.Name == name {
			return l, true
		}
	}
	return LabelInfo{}, false
}
