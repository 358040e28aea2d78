package classify

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsort/internal/llm"
	"github.com/nhle/mailsort/internal/logging"
	"github.com/nhle/mailsort/internal/model"
)

type stubClient struct {
	reply   string
	err     error
	calls   atomic.Int32
	lastReq llm.Request
}

func (s *stubClient) Complete(_ context.Context, req llm.Request) (string, error) {
	s.calls.Add(1)
	s.lastReq = req
	return s.reply, s.err
}

func (s *stubClient) Provider() string { return "stub" }

func testCategories() []model.Category {
	return []model.Category{
		{Code: "INVOICE", Name: "Rechnung", Description: "Bills and invoices", IsActive: true},
		{Code: "NEWSLETTER", Name: "Newsletter", IsActive: true},
		{Code: "TAX", Name: "Steuer", IsActive: false},
	}
}

func newTestLLM(stub *stubClient, opts ...LLMOption) *LLMClassifier {
	opts = append([]LLMOption{
		WithClientFactory(func(llm.Config) (llm.Client, error) { return stub, nil }),
		WithLLMLogger(logging.Discard()),
	}, opts...)
	return NewLLMClassifier(LLMSettings{Provider: "openai", APIKey: "k"}, testCategories(), opts...)
}

func TestLLMClassifier_ParsesFencedReply(t *testing.T) {
	stub := &stubClient{reply: "Sure!\n```json\n{\"category\": \"invoice\", \"confidence\": 0.93, \"rationale\": \"Contains {an} invoice number\"}\n```"}
	c := newTestLLM(stub)

	got := c.Classify(context.Background(), model.MailboxMessage{ID: "1", Subject: "Rechnung 4711"})
	require.NotNil(t, got)
	assert.Equal(t, "INVOICE", got.Category)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)
	assert.Equal(t, "Contains {an} invoice number", got.Rationale)
	assert.Equal(t, model.OriginLLM, got.Origin)
}

func TestLLMClassifier_RejectsInvalidReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"unknown category", `{"category":"SPAM","confidence":0.9,"rationale":"x"}`},
		{"inactive category", `{"category":"TAX","confidence":0.9,"rationale":"x"}`},
		{"confidence as string", `{"category":"INVOICE","confidence":"high","rationale":"x"}`},
		{"missing rationale", `{"category":"INVOICE","confidence":0.9}`},
		{"rationale not a string", `{"category":"INVOICE","confidence":0.9,"rationale":5}`},
		{"no json", `I think it's an invoice.`},
		{"unbalanced", `{"category":"INVOICE"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestLLM(&stubClient{reply: tt.reply})
			assert.Nil(t, c.Classify(context.Background(), model.MailboxMessage{ID: "1"}))
		})
	}
}

func TestLLMClassifier_ClampsAndTruncates(t *testing.T) {
	long := strings.Repeat("a", rationaleLength+50)
	c := newTestLLM(&stubClient{reply: `{"category":"NEWSLETTER","confidence":1.7,"rationale":"` + long + `"}`})

	got := c.Classify(context.Background(), model.MailboxMessage{ID: "1"})
	require.NotNil(t, got)
	assert.InDelta(t, 1.0, got.Confidence, 1e-9)
	assert.Len(t, got.Rationale, rationaleLength)
}

func TestLLMClassifier_TransportErrorIsSoft(t *testing.T) {
	c := newTestLLM(&stubClient{err: errors.New("connection refused")})
	assert.Nil(t, c.Classify(context.Background(), model.MailboxMessage{ID: "1"}))
}

func TestLLMClassifier_PromptBoundsBody(t *testing.T) {
	stub := &stubClient{reply: `{"category":"INVOICE","confidence":0.9,"rationale":"x"}`}
	c := newTestLLM(stub)

	body := strings.Repeat("z", previewLength*3)
	c.Classify(context.Background(), model.MailboxMessage{From: "billing@shop.de", Subject: "Rechnung", Body: body})

	prompt := stub.lastReq.Prompt
	assert.Contains(t, prompt, "- INVOICE: Rechnung (Bills and invoices)")
	assert.NotContains(t, prompt, "- TAX")
	assert.Contains(t, prompt, "From: billing@shop.de")
	assert.Equal(t, previewLength, strings.Count(prompt, "z"))
	assert.InDelta(t, llmTemperature, stub.lastReq.Temperature, 1e-9)
	assert.Equal(t, llmMaxTokens, stub.lastReq.MaxTokens)
}

func TestLLMClassifier_LazyKeyDecryptionCached(t *testing.T) {
	stub := &stubClient{reply: `{"category":"INVOICE","confidence":0.9,"rationale":"x"}`}
	var decrypts, builds int
	c := NewLLMClassifier(
		LLMSettings{Provider: "anthropic", EncryptedAPIKey: "sealed"},
		testCategories(),
		WithDecrypter(func(ct string) (string, error) {
			decrypts++
			assert.Equal(t, "sealed", ct)
			return "plain", nil
		}),
		WithClientFactory(func(cfg llm.Config) (llm.Client, error) {
			builds++
			assert.Equal(t, "plain", cfg.APIKey)
			return stub, nil
		}),
		WithLLMLogger(logging.Discard()),
	)
	assert.Zero(t, decrypts)

	for range 3 {
		require.NotNil(t, c.Classify(context.Background(), model.MailboxMessage{ID: "1"}))
	}
	assert.Equal(t, 1, decrypts)
	assert.Equal(t, 1, builds)
}

func TestLLMClassifier_DecryptFailureNotCached(t *testing.T) {
	fail := true
	stub := &stubClient{reply: `{"category":"INVOICE","confidence":0.9,"rationale":"x"}`}
	c := NewLLMClassifier(
		LLMSettings{Provider: "openai", EncryptedAPIKey: "sealed"},
		testCategories(),
		WithDecrypter(func(string) (string, error) {
			if fail {
				return "", errors.New("bad key")
			}
			return "plain", nil
		}),
		WithClientFactory(func(llm.Config) (llm.Client, error) { return stub, nil }),
		WithLLMLogger(logging.Discard()),
	)

	assert.Nil(t, c.Classify(context.Background(), model.MailboxMessage{ID: "1"}))
	fail = false
	assert.NotNil(t, c.Classify(context.Background(), model.MailboxMessage{ID: "1"}))
}

func TestFirstJSONObject(t *testing.T) {
	span, ok := firstJSONObject(`noise {"a":{"b":"}"}} trailing {"c":1}`)
	require.True(t, ok)
	assert.Equal(t, `{"a":{"b":"}"}}`, span)

	_, ok = firstJSONObject("none")
	assert.False(t, ok)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, stripFences(`  {"a":1} `))
}
