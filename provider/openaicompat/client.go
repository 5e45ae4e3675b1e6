package openaicompat

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

	taskforce "github.com/nevindra/taskforce"
)

const defaultTimeout = 120 * time.Second

// Client talks to any OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ taskforce.ChatClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for baseURL (e.g. "http://localhost:8000/v1") with a
// default model.
func New(baseURL, model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     nopLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name identifies the backend.
func (c *Client) Name() string { return "openai-compat" }

// Model returns the default model.
func (c *Client) Model() string { return c.model }

// BaseURL returns the configured endpoint base.
func (c *Client) BaseURL() string { return c.baseURL }

// Chat sends one chat-completion request. Transport failures and non-2xx
// statuses come back as llm_transport errors wrapping ErrHTTP where a status
// is available.
func (c *Client) Chat(ctx context.Context, req taskforce.ChatRequest) (taskforce.LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body := buildBody(model, req)
	resp, err := c.post(ctx, body)
	if err != nil {
		return taskforce.LLMResponse{}, err
	}
	return parseResponse(resp), nil
}

func (c *Client) post(ctx context.Context, body chatRequest) (chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return chatResponse{}, taskforce.WrapErr(taskforce.KindLLMTransport, err, "encode chat request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, taskforce.WrapErr(taskforce.KindLLMTransport, err, "build chat request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return chatResponse{}, taskforce.WrapErr(taskforce.KindLLMTransport, err, "chat completion")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatResponse{}, taskforce.WrapErr(taskforce.KindLLMTransport, err, "read chat response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &taskforce.ErrHTTP{Status: resp.StatusCode, Body: string(data)}
		return chatResponse{}, taskforce.WrapErr(taskforce.KindLLMTransport, httpErr, "chat completion")
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return chatResponse{}, taskforce.WrapErr(taskforce.KindLLMTransport, err, "decode chat response")
	}
	if parsed.Error != nil {
		return chatResponse{}, taskforce.WrapErr(taskforce.KindLLMTransport,
			fmt.Errorf("%s: %s", parsed.Error.Type, parsed.Error.Message), "chat completion")
	}

	c.logger.Debug("chat completion",
		"model", body.Model, "messages", len(body.Messages),
		"duration", time.Since(start).Round(time.Millisecond))
	return parsed, nil
}
