package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nhle/mailsort/internal/llm"
	"github.com/nhle/mailsort/internal/metrics"
	"github.com/nhle/mailsort/internal/model"
)

const (
	previewLength   = 1000
	rationaleLength = 300
	llmTemperature  = 0.1
	llmMaxTokens    = 200
)

const systemPrompt = `You sort emails into categories. Reply with one JSON object and nothing else.`

// Decrypter turns a stored API key ciphertext into plaintext.
type Decrypter func(ciphertext string) (string, error)

// ClientFactory builds an LLM client; llm.New by default.
type ClientFactory func(cfg llm.Config) (llm.Client, error)

// LLMClassifier asks an LLM backend to choose one of the user's categories.
// Every failure is soft: Classify returns nil and logs the cause.
type LLMClassifier struct {
	settings   LLMSettings
	categories []model.Category
	vocabulary map[string]string

	decrypt   Decrypter
	newClient ClientFactory
	recorder  *metrics.Recorder
	logger    *slog.Logger

	mu     sync.Mutex
	client llm.Client
}

// LLMOption configures an LLMClassifier.
type LLMOption func(*LLMClassifier)

// WithDecrypter sets how an encrypted API key is opened.
func WithDecrypter(d Decrypter) LLMOption {
	return func(c *LLMClassifier) { c.decrypt = d }
}

// WithClientFactory replaces llm.New.
func WithClientFactory(f ClientFactory) LLMOption {
	return func(c *LLMClassifier) { c.newClient = f }
}

// WithRecorder counts calls by outcome.
func WithRecorder(r *metrics.Recorder) LLMOption {
	return func(c *LLMClassifier) { c.recorder = r }
}

// WithLLMLogger sets the logger.
func WithLLMLogger(l *slog.Logger) LLMOption {
	return func(c *LLMClassifier) { c.logger = l }
}

// NewLLMClassifier returns a classifier over the active categories. No
// network or key access happens until the first Classify call.
func NewLLMClassifier(settings LLMSettings, categories []model.Category, opts ...LLMOption) *LLMClassifier {
	c := &LLMClassifier{
		settings:   settings,
		vocabulary: make(map[string]string),
		newClient:  llm.New,
		logger:     slog.Default(),
	}
	for _, cat := range categories {
		if !cat.IsActive {
			continue
		}
		c.categories = append(c.categories, cat)
		c.vocabulary[strings.ToUpper(cat.Code)] = cat.Code
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// llmClient returns the cached backend client, building it on first use.
// A failed build is not cached so a later call can retry.
func (c *LLMClassifier) llmClient() (llm.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	key := c.settings.APIKey
	if key == "" && c.settings.EncryptedAPIKey != "" {
		if c.decrypt == nil {
			return nil, errors.New("no decrypter for stored API key")
		}
		plain, err := c.decrypt(c.settings.EncryptedAPIKey)
		if err != nil {
			return nil, fmt.Errorf("decrypting API key: %w", err)
		}
		key = plain
	}

	client, err := c.newClient(llm.Config{
		Provider: c.settings.Provider,
		APIKey:   key,
		Model:    c.settings.Model,
		BaseURL:  c.settings.BaseURL,
		Timeout:  c.settings.Timeout,
	})
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Classify returns the LLM's verdict, or nil when the backend is
// unavailable or its answer is unusable.
func (c *LLMClassifier) Classify(ctx context.Context, msg model.MailboxMessage) *model.Classification {
	if len(c.categories) == 0 {
		return nil
	}

	client, err := c.llmClient()
	if err != nil {
		c.logger.Warn("LLM classifier unavailable", "error", err)
		c.recorder.LLMCall(metrics.LLMFailed)
		return nil
	}

	reply, err := client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      c.buildPrompt(msg),
		Temperature: llmTemperature,
		MaxTokens:   llmMaxTokens,
	})
	if err != nil {
		c.logger.Warn("LLM request failed", "provider", client.Provider(), "message_id", msg.ID, "error", err)
		c.recorder.LLMCall(metrics.LLMFailed)
		return nil
	}

	result, err := c.parseReply(reply)
	if err != nil {
		c.logger.Warn("discarding LLM reply", "message_id", msg.ID, "error", err)
		c.recorder.LLMCall(metrics.LLMDeclined)
		return nil
	}

	c.recorder.LLMCall(metrics.LLMAnswered)
	return result
}

func (c *LLMClassifier) buildPrompt(msg model.MailboxMessage) string {
	var b strings.Builder

	b.WriteString("Classify the following email into exactly one of these categories:\n\n")
	for _, cat := range c.categories {
		fmt.Fprintf(&b, "- %s: %s", cat.Code, cat.Name)
		if cat.Description != "" {
			fmt.Fprintf(&b, " (%s)", cat.Description)
		}
		b.WriteString("\n")
	}

	content := msg.Snippet
	if content == "" {
		content = msg.Body
	}

	fmt.Fprintf(&b, "\nFrom: %s\n", msg.From)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Content:\n%s\n\n", truncate(content, previewLength))

	b.WriteString(`Respond with JSON only: {"category": "<CODE>", "confidence": <0.0-1.0>, "rationale": "<short reason>"}`)
	return b.String()
}

type llmVerdict struct {
	Category   *string  `json:"category"`
	Confidence *float64 `json:"confidence"`
	Rationale  *string  `json:"rationale"`
}

// parseReply validates a reply strictly: the category must be one of the
// loaded codes, confidence must be a number and rationale a string.
func (c *LLMClassifier) parseReply(reply string) (*model.Classification, error) {
	span, ok := firstJSONObject(stripFences(reply))
	if !ok {
		return nil, errors.New("no JSON object in reply")
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(span), &v); err != nil {
		return nil, fmt.Errorf("parsing reply: %w", err)
	}
	if v.Category == nil || v.Confidence == nil || v.Rationale == nil {
		return nil, errors.New("reply is missing category, confidence or rationale")
	}

	code, ok := c.vocabulary[strings.ToUpper(strings.TrimSpace(*v.Category))]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", *v.Category)
	}

	return &model.Classification{
		Category:   code,
		Confidence: model.ClampConfidence(*v.Confidence),
		Rationale:  truncate(strings.TrimSpace(*v.Rationale), rationaleLength),
		Origin:     model.OriginLLM,
	}, nil
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// firstJSONObject returns the first balanced {...} span of s, skipping
// braces inside JSON strings.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
