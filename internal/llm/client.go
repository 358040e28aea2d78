// Package llm provides minimal chat-completion clients for the LLM
// backends the classifier can use.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Supported provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderMistral   = "mistral"
	ProviderAnthropic = "anthropic"
)

// Request is a single-turn completion request.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Client completes a prompt and returns the raw text of the reply.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
}

// Config selects and configures a backend.
type Config struct {
	Provider string
	APIKey   string
	Model    string

	// BaseURL overrides the provider's API root.
	BaseURL string

	Timeout    time.Duration
	MaxRetries int

	// Doer replaces the HTTP transport, mainly for tests.
	Doer HTTPDoer
}

// APIError is a non-2xx reply from a provider.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.Status, e.Message)
}

// New returns the client for cfg.Provider.
func New(cfg Config) (Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm: missing API key for %s", cfg.Provider)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	doer := cfg.Doer
	if doer == nil {
		doer = NewRetryClient(&http.Client{Timeout: cfg.Timeout}, cfg.MaxRetries)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		return newChatClient(ProviderOpenAI, cfg, "https://api.openai.com/v1", "gpt-4o-mini", doer), nil
	case ProviderMistral:
		return newChatClient(ProviderMistral, cfg, "https://api.mistral.ai/v1", "mistral-small-latest", doer), nil
	case ProviderAnthropic:
		return newAnthropicClient(cfg, doer), nil
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
}

// postJSON sends body to url and decodes a 2xx reply into out.
func postJSON(
	ctx context.Context,
	doer HTTPDoer,
	provider, url string,
	headers map[string]string,
	body, out any,
	errMessage func([]byte) string,
) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := doer.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s API: %w", provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errMessage(respBody)
		if msg == "" {
			msg = string(respBody)
		}
		return &APIError{Provider: provider, Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
