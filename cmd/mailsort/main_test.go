package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsort/internal/model"
	"github.com/nhle/mailsort/internal/store"
)

const testKey = "BwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwc="

type harness struct {
	dir    string
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	config := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(config, []byte(`
database:
  driver: sqlite
  dsn: `+filepath.Join(dir, "data", "mailsort.db")+`
credentials:
  key: `+testKey+`
logging:
  level: error
`), 0o600))
	return &harness{dir: dir, config: config}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", h.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (h *harness) store(t *testing.T) *store.SQLStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(h.dir, "data", "mailsort.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCategoryImportAndList(t *testing.T) {
	h := newHarness(t)
	file := filepath.Join(h.dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
categories:
  - code: INVOICE
    name: Rechnungen
    rules:
      - name: invoice subject
        type: SUBJECT
        pattern: rechnung
        priority: 10
        confidence: 0.9
`), 0o600))

	out, err := h.run(t, "", "category", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 1 categories: 1 rules created, 0 unchanged")

	out, err = h.run(t, "", "category", "list", "--rules")
	require.NoError(t, err)
	assert.Contains(t, out, "INVOICE")
	assert.Contains(t, out, "invoice subject")
	assert.Contains(t, out, model.CategoryReview)
}

func TestConnectionAddAndList(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "s3cret\n", "connection", "add",
		"--name", "Work", "--email", "me@example.com",
		"--host", "imap.example.com", "--username", "me", "--password-stdin")
	require.NoError(t, err)
	assert.Contains(t, out, "Added connection")

	conns, err := h.store(t).ListConnections(context.Background(), "local")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, model.ProviderIMAP, conns[0].Provider)
	assert.NotContains(t, conns[0].EncryptedCredentials, "s3cret")

	out, err = h.run(t, "", "connection", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Work")
	assert.Contains(t, out, "ACTIVE")
	assert.Contains(t, out, "never")
}

func TestConnectionAddRejectsUnknownProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "connection", "add", "--provider", "pop3")
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestLLMSetAndShow(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "llm", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "No LLM configured")

	_, err = h.run(t, "", "llm", "set", "--provider", "mistral", "--api-key", "sk-test")
	require.NoError(t, err)

	rec, err := h.store(t).GetLLMProvider(context.Background(), "local")
	require.NoError(t, err)
	assert.True(t, rec.Enabled)
	assert.NotEqual(t, "sk-test", rec.EncryptedAPIKey)

	out, err = h.run(t, "", "llm", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "mistral")
	assert.Contains(t, out, "user")
}

func TestRunNeedsConnection(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "run")
	assert.ErrorContains(t, err, "0 connections found")
}

func TestConnectionFor(t *testing.T) {
	conns := []model.Connection{
		{ID: "c1", Name: "Work", Email: "me@work.example"},
		{ID: "c2", Name: "Home", Email: "me@home.example"},
	}

	got, err := connectionFor(conns, "Home")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.ID)

	got, err = connectionFor(conns, "me@work.example")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	_, err = connectionFor(conns, "")
	assert.Error(t, err)

	_, err = connectionFor(conns, "c9")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err = connectionFor(conns[:1], "")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "Rechn…", clip("Rechnungen", 6))
}
