package classify

import (
	"strings"
	"time"

	"github.com/nhle/mailsort/internal/model"
)

// LLM configuration sources.
const (
	SourceUser = "user"
	SourceEnv  = "env"
)

// LLMSettings is a resolved LLM backend. Exactly one of APIKey and
// EncryptedAPIKey is set; an encrypted key is only decrypted when the
// classifier first calls the backend.
type LLMSettings struct {
	Source          string
	Provider        string
	Model           string
	BaseURL         string
	APIKey          string
	EncryptedAPIKey string
	Timeout         time.Duration
	AllowOverride   bool
}

// ResolveLLMConfig picks the LLM backend for a user. An enabled per-user
// record wins over process configuration; process configuration applies
// when enabled with a key. A per-user record only inherits the process
// base URL when both name the same provider. It returns nil when no LLM is
// configured.
func ResolveLLMConfig(record *model.LLMProviderRecord, env model.LLMConfig) *LLMSettings {
	if record != nil && record.Enabled && record.EncryptedAPIKey != "" {
		name := strings.ToLower(record.Provider)
		baseURL := ""
		if name == strings.ToLower(env.Provider) {
			baseURL = env.BaseURL
		}
		return &LLMSettings{
			Source:          SourceUser,
			Provider:        name,
			Model:           record.Model,
			BaseURL:         baseURL,
			EncryptedAPIKey: record.EncryptedAPIKey,
			Timeout:         env.Timeout,
			AllowOverride:   env.AllowOverride,
		}
	}

	if env.Enabled && strings.TrimSpace(env.APIKey) != "" {
		return &LLMSettings{
			Source:        SourceEnv,
			Provider:      strings.ToLower(env.Provider),
			Model:         env.Model,
			BaseURL:       env.BaseURL,
			APIKey:        env.APIKey,
			Timeout:       env.Timeout,
			AllowOverride: env.AllowOverride,
		}
	}

	return nil
}
