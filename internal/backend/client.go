package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultChatTimeout bounds a chat round trip; agent graphs can be slow.
	DefaultChatTimeout = 60 * time.Second
	// DefaultExecuteTimeout bounds a trade execution round trip.
	DefaultExecuteTimeout = 30 * time.Second

	// maxResponseBody caps how much of a backend response we read (1MB).
	maxResponseBody = 1 << 20
)

// Config holds configuration for the backend client.
type Config struct {
	BaseURL        string
	ChatTimeout    time.Duration
	ExecuteTimeout time.Duration
	HTTPClient     *http.Client
}

// Client talks to the trading-agent backend over HTTP/JSON.
type Client struct {
	baseURL        string
	http           *http.Client
	chatTimeout    time.Duration
	executeTimeout time.Duration
	logger         *slog.Logger
}

// NewClient creates a backend client. The base URL is required; timeouts
// fall back to the contract defaults (60s chat, 30s execution).
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = DefaultChatTimeout
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = DefaultExecuteTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           httpClient,
		chatTimeout:    cfg.ChatTimeout,
		executeTimeout: cfg.ExecuteTimeout,
		logger:         logger,
	}, nil
}

// Chat sends a prompt to the agent backend and returns its reply.
func (c *Client) Chat(ctx context.Context, prompt string) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.chatTimeout)
	defer cancel()

	var out ChatResponse
	if err := c.postJSON(ctx, "/chat", ChatRequest{Prompt: prompt}, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("Chat round trip completed",
		"agent_used", out.AgentUsed,
		"has_proposal", out.TradeProposal != nil,
	)
	return &out, nil
}

// ExecuteTrade posts an execution payload to the webhook endpoint.
// A Success=false response is returned as-is; classifying it is the
// caller's concern.
func (c *Client) ExecuteTrade(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.executeTimeout)
	defer cancel()

	var out ExecutionResponse
	if err := c.postJSON(ctx, "/webhook/trade", req, &out); err != nil {
		return nil, err
	}
	c.logger.Info("Trade execution round trip completed",
		"pair", req.CurrencyPair,
		"side", req.OrderSide,
		"success", out.Success,
	)
	return &out, nil
}

// GetCredentials relays GET {base}/settings/mt5_credentials. The payload is
// opaque to the engine; connectivity status is owned by the backend.
func (c *Client) GetCredentials(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.executeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/settings/mt5_credentials", nil)
	if err != nil {
		return nil, fmt.Errorf("build credentials request: %w", err)
	}
	return c.doRaw(req)
}

// UpdateCredentials relays POST {base}/settings/mt5_credentials.
func (c *Client) UpdateCredentials(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.executeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/settings/mt5_credentials", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build credentials request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRaw(req)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s round trip: %w", path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &ProtocolError{
			StatusCode: resp.StatusCode,
			Detail:     summarize(body),
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ProtocolError{
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("malformed response body: %v", err),
		}
	}
	return nil
}

func (c *Client) doRaw(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s round trip: %w", req.URL.Path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Detail: summarize(body)}
	}
	return json.RawMessage(body), nil
}

// summarize trims a response body down to something loggable.
func summarize(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
