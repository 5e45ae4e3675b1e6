// Package ollama adapts an Ollama server to the chat client contract.
// Ollama speaks the OpenAI chat-completions protocol under /v1, so the
// client delegates the wire work to openaicompat; the Ollama-specific parts
// are the tools-capability retry and the native embeddings endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	taskforce "github.com/nevindra/taskforce"
	"github.com/nevindra/taskforce/provider/openaicompat"
)

// Client is a chat client for an Ollama server. Some local models reject
// requests that carry tool definitions; on that specific 400 the client
// retries once without tools and remembers the model lacks tool support, so
// later requests skip the failing attempt.
type Client struct {
	inner      *openaicompat.Client
	logger     *slog.Logger
	compatOpts []openaicompat.Option

	mu      sync.Mutex
	noTools map[string]bool // model → known to reject tools
}

var _ taskforce.ChatClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Nil discards.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCompatOptions passes options through to the underlying
// openaicompat client.
func WithCompatOptions(opts ...openaicompat.Option) Option {
	return func(c *Client) {
		c.compatOpts = append(c.compatOpts, opts...)
	}
}

// New creates a client for an Ollama server. baseURL includes the /v1
// suffix, e.g. "http://localhost:11434/v1".
func New(baseURL, model string, opts ...Option) *Client {
	c := &Client{
		logger:  nopLogger,
		noTools: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.inner = openaicompat.New(baseURL, model, c.compatOpts...)
	return c
}

// Name identifies the backend.
func (c *Client) Name() string { return "ollama" }

// Chat sends the request, stripping tools for models known to reject them
// and retrying once without tools on the capability 400.
func (c *Client) Chat(ctx context.Context, req taskforce.ChatRequest) (taskforce.LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = c.inner.Model()
	}

	if len(req.Tools) > 0 && c.modelLacksTools(model) {
		bare := req
		bare.Tools = nil
		return c.inner.Chat(ctx, bare)
	}

	resp, err := c.inner.Chat(ctx, req)
	if err == nil || len(req.Tools) == 0 || !isToolsUnsupported(err) {
		return resp, err
	}

	c.logger.Warn("model rejects tools, retrying without", "model", model)
	c.rememberNoTools(model)
	bare := req
	bare.Tools = nil
	return c.inner.Chat(ctx, bare)
}

func (c *Client) modelLacksTools(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noTools[model]
}

func (c *Client) rememberNoTools(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noTools[model] = true
}

// isToolsUnsupported matches the Ollama 400 for models without tool
// support.
func isToolsUnsupported(err error) bool {
	var httpErr *taskforce.ErrHTTP
	if !errors.As(err, &httpErr) {
		return false
	}
	return httpErr.Status == http.StatusBadRequest &&
		strings.Contains(httpErr.Body, "does not support tools")
}

// Embedder computes embeddings through Ollama's native endpoint. The chat
// API lives under /v1 but embeddings do not, so the base URL is the chat
// base with the /v1 suffix stripped.
type Embedder struct {
	apiBase    string
	model      string
	httpClient *http.Client
}

var _ taskforce.Embedder = (*Embedder)(nil)

// NewEmbedder creates an embedder. baseURL is the chat base (with /v1);
// model is the embedding model, e.g. "nomic-embed-text".
func NewEmbedder(baseURL, model string) *Embedder {
	return &Embedder{
		apiBase:    strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1"),
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindLLMTransport, err, "encode embedding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.apiBase+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindLLMTransport, err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindLLMTransport, err, "embeddings")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindLLMTransport, err, "read embedding response")
	}
	if resp.StatusCode != http.StatusOK {
		httpErr := &taskforce.ErrHTTP{Status: resp.StatusCode, Body: string(data)}
		return nil, taskforce.WrapErr(taskforce.KindLLMTransport, httpErr, "embeddings")
	}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, taskforce.WrapErr(taskforce.KindLLMTransport, err, "decode embedding response")
	}
	if len(parsed.Embedding) == 0 {
		return nil, taskforce.Errf(taskforce.KindLLMTransport, "embeddings: empty vector for model %s", e.model)
	}
	return parsed.Embedding, nil
}
