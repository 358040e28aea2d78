package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// chatClient speaks the OpenAI chat completions API, which Mistral also
// implements.
type chatClient struct {
	provider string
	apiKey   string
	model    string
	baseURL  string
	doer     HTTPDoer
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func newChatClient(provider string, cfg Config, defaultBase, defaultModel string, doer HTTPDoer) *chatClient {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBase
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &chatClient{
		provider: provider,
		apiKey:   cfg.APIKey,
		model:    model,
		baseURL:  strings.TrimRight(base, "/"),
		doer:     doer,
	}
}

func (c *chatClient) Provider() string { return c.provider }

func (c *chatClient) Complete(ctx context.Context, req Request) (string, error) {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	var resp chatResponse
	err := postJSON(ctx, c.doer, c.provider, c.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.apiKey},
		chatRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
		&resp,
		func(b []byte) string {
			var e chatError
			if json.Unmarshal(b, &e) != nil {
				return ""
			}
			if e.Error.Message != "" {
				return e.Error.Message
			}
			return e.Message
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
