// Package llm is a small client for OpenAI compatible chat completion
// endpoints (OpenRouter, DeepSeek, a local gateway) plus helpers to dig a
// JSON document out of free text answers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	completionPath = "/chat/completions"
	maxRetries     = 3
	baseRetryDelay = 2 * time.Second
	defaultTimeout = 120 * time.Second
)

var (
	ErrNoAPIKey   = errors.New("llm: api key not set")
	ErrNoChoices  = errors.New("llm: response has no choices")
	ErrNoMessages = errors.New("llm: no messages")
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client sends chat completions.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	log = log.With().Str("component", "llm").Str("model", cfg.Model).Logger()
	log.Debug().Str("base", cfg.BaseURL).Dur("timeout", cfg.Timeout).Msg("client initialized")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
		retryDelay: baseRetryDelay,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Complete sends a system and a user prompt and returns the first answer.
// Network failures are retried with a growing delay; other failures return
// at once.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	msgs := []Message{{Role: "system", Content: system}, {Role: "user", Content: user}}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		msg, err := c.send(ctx, msgs)
		if err == nil {
			return msg.Content, nil
		}
		if !isNetworkError(err) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Int("max", maxRetries).Msg("completion retry")
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * c.retryDelay):
		}
	}
	return "", fmt.Errorf("llm: failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) send(ctx context.Context, msgs []Message) (Message, error) {
	if len(msgs) == 0 {
		return Message{}, ErrNoMessages
	}
	if c.cfg.APIKey == "" {
		return Message{}, ErrNoAPIKey
	}

	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+completionPath, bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug().Int("messages", len(msgs)).Msg("http request")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Message{}, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Message{}, fmt.Errorf("read response: %w", err)
	}

	var payload completionResponse
	decodeErr := json.Unmarshal(raw, &payload)
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && payload.Error != nil {
			msg = payload.Error.Message
		}
		return Message{}, fmt.Errorf("llm: status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return Message{}, fmt.Errorf("decode response: %w", decodeErr)
	}
	if payload.Error != nil {
		return Message{}, errors.New(payload.Error.Message)
	}
	if len(payload.Choices) == 0 {
		return Message{}, ErrNoChoices
	}
	return payload.Choices[0].Message, nil
}

func isNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, frag := range []string{"connection", "timeout", "reset", "refused", "eof"} {
		if strings.Contains(s, frag) {
			return true
		}
	}
	return false
}
