package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// ChatClient is what callers program against; *Client and *FallbackChain
// both satisfy it.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ModelType selects the backend wire protocol.
type ModelType string

const (
	ModelTypeOpenAI     ModelType = "openai"
	ModelTypeAnthropics ModelType = "anthropics"
)

// ParseModelType normalizes the config "type" value. Empty means the
// OpenAI-compatible backend; "anthropic" is accepted as a spelling of
// "anthropics" since both show up in configs.
func ParseModelType(raw string) (ModelType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ModelTypeOpenAI):
		return ModelTypeOpenAI, nil
	case string(ModelTypeAnthropics), "anthropic":
		return ModelTypeAnthropics, nil
	}
	return "", fmt.Errorf("unsupported model type %q (supported: %q, %q)", raw, ModelTypeOpenAI, ModelTypeAnthropics)
}

// ModelConfig is the config.json "model" section.
type ModelConfig struct {
	Type      string        `json:"type"`
	APIKey    string        `json:"api_key"`
	BaseURL   string        `json:"base_url"`
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Fallbacks []ModelConfig `json:"fallbacks,omitempty"`
}

type Client struct {
	Type       ModelType
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client

	anthropicSDK anthropic.Client
}

// NewClient builds a single-backend client. Fallbacks in cfg are ignored
// here; NewChatClient wires the whole chain.
func NewClient(cfg ModelConfig) (*Client, error) {
	modelType, err := ParseModelType(cfg.Type)
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("model api_key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("model name is required")
	}
	return &Client{
		Type:      modelType,
		BaseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		APIKey:    apiKey,
		Model:     model,
		MaxTokens: cfg.MaxTokens,
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// NewChatClient builds the primary client plus its fallback chain.
func NewChatClient(cfg ModelConfig) (ChatClient, error) {
	primary, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.Fallbacks) == 0 {
		return primary, nil
	}

	clients := []ChatClient{primary}
	for i, fb := range cfg.Fallbacks {
		c, err := NewClient(fb)
		if err != nil {
			return nil, fmt.Errorf("fallback %d: %w", i, err)
		}
		clients = append(clients, c)
	}
	return NewFallbackChain(clients...), nil
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c == nil {
		return nil, errors.New("nil client")
	}

	var (
		resp *ChatResponse
		err  error
	)
	switch c.Type {
	case ModelTypeAnthropics:
		resp, err = c.chatAnthropic(ctx, req)
	default:
		resp, err = c.chatOpenAI(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	for i := range resp.Choices {
		calls := resp.Choices[i].Message.ToolCalls
		for j := range calls {
			calls[j].Function.Arguments = sanitizeToolCallArguments(calls[j].Function.Arguments)
		}
	}
	return resp, nil
}

func (c *Client) httpClient() *http.Client {
	if c == nil || c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// sanitizeToolCallArguments coerces whatever the model produced into a JSON
// object, so tool Call implementations can always json.Unmarshal it.
func sanitizeToolCallArguments(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "{}"
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return "{}"
	}
	if _, ok := v.(map[string]any); !ok {
		return "{}"
	}
	return s
}
