package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Processing.MaxEmails)
	assert.Equal(t, 5*time.Minute, cfg.Processing.RunTimeout)
	assert.True(t, cfg.Processing.LabelReview)
	assert.True(t, cfg.LLM.AllowOverride)
	assert.False(t, cfg.LLM.Enabled)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "INBOX", cfg.IMAP.Mailbox)
	assert.Equal(t, "@every 10m", cfg.Scheduler.Schedule)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: postgres
  dsn: postgres://mailsort@localhost/mailsort
llm:
  enabled: true
  provider: anthropic
  api_key: sk-test
  allow_override: false
  timeout: 45s
processing:
  max_emails: 0
  run_timeout: 2m
  label_review: false
redis:
  addr: localhost:6379
`), 0o600))

	cfg, err := LoadConfig(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.False(t, cfg.LLM.AllowOverride)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 50, cfg.Processing.MaxEmails, "non-positive max falls back to the default")
	assert.Equal(t, 2*time.Minute, cfg.Processing.RunTimeout)
	assert.False(t, cfg.Processing.LabelReview)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MAILSORT_PROCESSING_MAX_EMAILS", "7")
	t.Setenv("MAILSORT_LLM_PROVIDER", "mistral")

	cfg, err := LoadConfig(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Processing.MaxEmails)
	assert.Equal(t, "mistral", cfg.LLM.Provider)
}

func TestLoadConfigRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unclosed"), 0o600))

	_, err := LoadConfig(NewViper(), path)
	assert.Error(t, err)
}
