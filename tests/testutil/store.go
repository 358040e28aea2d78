package testutil

import (
	"context"
	"testing"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
)

// NewTestStore creates an in-memory SQLStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedConnection inserts an ACTIVE connection for userID and returns it.
func SeedConnection(t *testing.T, s store.Store, userID string, provider model.ProviderType) model.Connection {
	t.Helper()

	conn := model.Connection{
		UserID:   userID,
		Provider: provider,
		Name:     "test mailbox",
		Email:    "agent@mail.example",
	}
	if err := s.CreateConnection(context.Background(), &conn); err != nil {
		t.Fatalf("seeding connection: %v", err)
	}
	return conn
}

// SeedCategory upserts an active category with the given code.
func SeedCategory(t *testing.T, s store.Store, userID, code, name string) model.Category {
	t.Helper()

	cat := model.Category{UserID: userID, Code: code, Name: name, IsActive: true}
	if err := s.UpsertCategory(context.Background(), &cat); err != nil {
		t.Fatalf("seeding category %s: %v", code, err)
	}
	return cat
}
