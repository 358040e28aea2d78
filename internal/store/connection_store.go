package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsort/internal/model"
)

const connectionColumns = `id, user_id, provider, name, email, encrypted_credentials,
	status, last_error, last_sync_at, created_at, updated_at`

// CreateConnection inserts a connection. A missing ID is generated.
func (s *SQLStore) CreateConnection(ctx context.Context, conn *model.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.Status == "" {
		conn.Status = model.StatusActive
	}
	now := time.Now().UTC()
	conn.CreatedAt = now
	conn.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO connections (`+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		conn.ID, conn.UserID, string(conn.Provider), conn.Name, conn.Email,
		conn.EncryptedCredentials, string(conn.Status), conn.LastError,
		conn.LastSyncAt, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating connection %s: %w", conn.ID, ErrDuplicate)
		}
		return fmt.Errorf("creating connection %s: %w", conn.ID, err)
	}
	return nil
}

// GetConnection retrieves a connection by ID.
func (s *SQLStore) GetConnection(ctx context.Context, id string) (*model.Connection, error) {
	var conn model.Connection
	err := s.db.GetContext(ctx, &conn,
		s.q("SELECT "+connectionColumns+" FROM connections WHERE id = ?"), id)
	if err != nil {
		return nil, fmt.Errorf("getting connection %s: %w", id, notFound(err))
	}
	return &conn, nil
}

// ListConnections returns the connections of a user, or all connections
// when userID is empty.
func (s *SQLStore) ListConnections(ctx context.Context, userID string) ([]model.Connection, error) {
	query := "SELECT " + connectionColumns + " FROM connections"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at"

	var conns []model.Connection
	if err := s.db.SelectContext(ctx, &conns, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	return conns, nil
}

// ListConnectionsByStatus returns every connection in the given status.
func (s *SQLStore) ListConnectionsByStatus(
	ctx context.Context,
	status model.ConnectionStatus,
) ([]model.Connection, error) {
	var conns []model.Connection
	err := s.db.SelectContext(ctx, &conns,
		s.q("SELECT "+connectionColumns+" FROM connections WHERE status = ? ORDER BY created_at"),
		string(status))
	if err != nil {
		return nil, fmt.Errorf("querying %s connections: %w", status, err)
	}
	return conns, nil
}

// UpdateConnectionStatus records the connection's health and last error.
func (s *SQLStore) UpdateConnectionStatus(
	ctx context.Context,
	id string,
	status model.ConnectionStatus,
	lastError string,
) error {
	return s.updateConnection(ctx, id,
		"status = ?, last_error = ?", string(status), lastError)
}

// MarkConnectionSynced sets last_sync_at, clears the last error and marks
// the connection ACTIVE.
func (s *SQLStore) MarkConnectionSynced(ctx context.Context, id string, at time.Time) error {
	return s.updateConnection(ctx, id,
		"status = ?, last_error = '', last_sync_at = ?", string(model.StatusActive), at.UTC())
}

// UpdateConnectionCredentials replaces the encrypted credentials, e.g.
// after an OAuth token refresh.
func (s *SQLStore) UpdateConnectionCredentials(ctx context.Context, id, encrypted string) error {
	return s.updateConnection(ctx, id, "encrypted_credentials = ?", encrypted)
}

func (s *SQLStore) updateConnection(ctx context.Context, id, set string, args ...any) error {
	args = append(args, time.Now().UTC(), id)
	result, err := s.db.ExecContext(ctx,
		s.q("UPDATE connections SET "+set+", updated_at = ? WHERE id = ?"), args...)
	if err != nil {
		return fmt.Errorf("updating connection %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("connection %s: %w", id, ErrNotFound)
	}
	return nil
}
