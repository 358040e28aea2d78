package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig selects the SQL backend used for all persistence.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// CredentialsConfig controls how connection secrets are encrypted.
type CredentialsConfig struct {
	// Key is a base64 encoded 32 byte key. When empty the key is kept in
	// the system keyring.
	Key string `mapstructure:"key" yaml:"key"`
}

// LLMConfig holds the process-wide LLM settings. A per-user stored
// provider record takes precedence over these.
type LLMConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Provider      string        `mapstructure:"provider" yaml:"provider"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	Model         string        `mapstructure:"model" yaml:"model"`
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	AllowOverride bool          `mapstructure:"allow_override" yaml:"allow_override"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ProcessingConfig holds orchestrator defaults.
type ProcessingConfig struct {
	MaxEmails   int           `mapstructure:"max_emails" yaml:"max_emails"`
	RunTimeout  time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
	LabelReview bool          `mapstructure:"label_review" yaml:"label_review"`
}

// IMAPConfig holds IMAP adapter settings shared by all connections.
type IMAPConfig struct {
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	Mailbox     string        `mapstructure:"mailbox" yaml:"mailbox"`
}

// GmailConfig holds the OAuth client used to refresh Gmail tokens.
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
}

// SchedulerConfig controls the serve loop.
type SchedulerConfig struct {
	Schedule string        `mapstructure:"schedule" yaml:"schedule"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// RedisConfig enables the redis-backed per-connection lock when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	LLM         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	Processing  ProcessingConfig  `mapstructure:"processing" yaml:"processing"`
	IMAP        IMAPConfig        `mapstructure:"imap" yaml:"imap"`
	Gmail       GmailConfig       `mapstructure:"gmail" yaml:"gmail"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler" yaml:"scheduler"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsort/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsort", "config.yaml")
}

// DefaultDatabasePath returns the default sqlite database location.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mailsort.db"
	}
	return filepath.Join(home, ".local", "share", "mailsort", "mailsort.db")
}

// setDefaults registers the default value of every key so that missing
// keys resolve to sensible values and env overrides are discoverable.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", DefaultDatabasePath())
	v.SetDefault("credentials.key", "")
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.allow_override", true)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("processing.max_emails", 50)
	v.SetDefault("processing.run_timeout", 5*time.Minute)
	v.SetDefault("processing.label_review", true)
	v.SetDefault("imap.dial_timeout", 10*time.Second)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("scheduler.schedule", "@every 10m")
	v.SetDefault("scheduler.lock_ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// NewViper returns a viper instance with defaults and MAILSORT_* env
// overrides registered. The CLI binds its flags onto the same instance.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MAILSORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads configuration from the given YAML file path into v.
// A missing file is not an error; defaults and environment still apply.
func LoadConfig(v *viper.Viper, path string) (*AppConfig, error) {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Processing.MaxEmails <= 0 {
		cfg.Processing.MaxEmails = 50
	}
	if cfg.IMAP.Mailbox == "" {
		cfg.IMAP.Mailbox = "INBOX"
	}

	return cfg, nil
}
