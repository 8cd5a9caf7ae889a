// Package llm resolves queries the pattern library cannot handle by asking an
// OpenAI-compatible chat completions endpoint for a structured intent.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/retry"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultModel      = "gpt-4o-mini"
	defaultMaxHistory = 12
)

// Resolver turns a query into a validated intent.
type Resolver interface {
	Resolve(ctx context.Context, query string, view domain.SchemaView, history []domain.Message) (*domain.ResolvedIntent, error)
}

// Config holds LLM client configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxHistory  int
	Timeout     time.Duration
	Retry       retry.Policy
	Logger      *observability.Logger
}

// Client handles communication with the chat completions API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxHistory  int
	policy      retry.Policy
	httpClient  *http.Client
	logger      *observability.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a new LLM client. An empty API key is allowed for local
// endpoints that do not authenticate.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxHistory == 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	return &Client{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxHistory:  cfg.MaxHistory,
		policy:      cfg.Retry,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      cfg.Logger,
	}
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// Resolve asks the model for an intent. Transport failures are reported as
// LLMUnavailable; replies that cannot be parsed or lack required keys as
// LLMInvalidResponse.
func (c *Client) Resolve(ctx context.Context, query string, view domain.SchemaView, history []domain.Message) (*domain.ResolvedIntent, error) {
	system, err := buildSystemPrompt(view)
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "failed to build prompt", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    buildMessages(system, query, history, c.maxHistory),
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, domain.NewError(domain.KindInternal, "failed to marshal request", err)
	}

	var content string
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		var err error
		content, err = c.complete(ctx, body)
		return err
	}, func(err error, attempt int, wait time.Duration) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("LLM request failed, retrying")
	})
	if err != nil {
		return nil, domain.LLMUnavailable("language model request failed", err)
	}

	intent, err := parseReply(content)
	if err != nil {
		c.logger.Debug().Str("reply", content).Msg("Unusable LLM reply")
		return nil, domain.LLMInvalidResponse("language model returned an unusable reply", err)
	}
	return intent, nil
}

func (c *Client) complete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
		if retry.RetryableStatus(resp.StatusCode) {
			return "", statusErr
		}
		return "", retry.Permanent(statusErr)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return "", retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
	}
	if chat.Error != nil {
		return "", retry.Permanent(fmt.Errorf("API error: %s", chat.Error.Message))
	}
	if len(chat.Choices) == 0 {
		return "", retry.Permanent(fmt.Errorf("response has no choices"))
	}
	return chat.Choices[0].Message.Content, nil
}

var _ Resolver = (*Client)(nil)
