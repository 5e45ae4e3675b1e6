package taskforce

import (
	"context"
	"sync"
)

// FallbackPolicy decides when a local model's response is handed to the
// cloud client for a retry.
type FallbackPolicy string

const (
	// FallbackNoToolCalls retries when the local response carries no tool calls.
	FallbackNoToolCalls FallbackPolicy = "no_tool_calls"
	// FallbackMalformedArgs retries when any tool call failed JSON decoding.
	FallbackMalformedArgs FallbackPolicy = "malformed_args"
	// FallbackAlways retries every request.
	FallbackAlways FallbackPolicy = "always"
)

// Known reports whether p is a recognised policy. Unknown policies never
// trigger; the config loader warns about them at load time so typos do not
// silently disable the cloud path.
func (p FallbackPolicy) Known() bool {
	switch p {
	case FallbackNoToolCalls, FallbackMalformedArgs, FallbackAlways:
		return true
	}
	return false
}

// FallbackEvent records one local-to-cloud retry. The engine drains these
// after each chat call and emits them as cloud_fallback run events.
type FallbackEvent struct {
	Reason     string `json:"reason"`
	LocalModel string `json:"local_model"`
	CloudModel string `json:"cloud_model"`
}

// FallbackChatClient pairs a local client with a cloud client. Every
// request goes to the local client first; when the policy matches the
// local response, the same request is re-issued to the cloud client with
// the cloud model substituted. The retry is invisible to the pack loop,
// which only sees the response that came back last.
type FallbackChatClient struct {
	local      ChatClient
	cloud      ChatClient
	policy     FallbackPolicy
	localModel string
	cloudModel string

	mu     sync.Mutex
	events []FallbackEvent
}

var _ ChatClient = (*FallbackChatClient)(nil)

// NewFallbackChatClient wraps local with a cloud retry path. localModel and
// cloudModel are the names reported in FallbackEvents; cloudModel is also
// substituted into retried requests.
func NewFallbackChatClient(local, cloud ChatClient, policy FallbackPolicy, localModel, cloudModel string) *FallbackChatClient {
	return &FallbackChatClient{
		local:      local,
		cloud:      cloud,
		policy:     policy,
		localModel: localModel,
		cloudModel: cloudModel,
	}
}

func (c *FallbackChatClient) Name() string { return c.local.Name() + "+fallback" }

func (c *FallbackChatClient) Chat(ctx context.Context, req ChatRequest) (LLMResponse, error) {
	resp, err := c.local.Chat(ctx, req)
	if err != nil {
		return resp, err
	}

	reason, triggered := c.evaluate(&resp)
	if !triggered || c.cloud == nil {
		return resp, nil
	}

	localModel := req.Model
	if localModel == "" {
		localModel = c.localModel
	}
	c.mu.Lock()
	c.events = append(c.events, FallbackEvent{
		Reason:     reason,
		LocalModel: localModel,
		CloudModel: c.cloudModel,
	})
	c.mu.Unlock()

	cloudReq := req
	cloudReq.Model = c.cloudModel
	return c.cloud.Chat(ctx, cloudReq)
}

// evaluate applies the policy to a local response. Unknown policies never
// trigger.
func (c *FallbackChatClient) evaluate(resp *LLMResponse) (reason string, triggered bool) {
	switch c.policy {
	case FallbackNoToolCalls:
		if !resp.HasToolCalls() {
			return "no_tool_calls", true
		}
	case FallbackMalformedArgs:
		for _, tc := range resp.ToolCalls {
			if tc.HasRawArgs() {
				return "malformed_args", true
			}
		}
	case FallbackAlways:
		return "always", true
	}
	return "", false
}

// DrainEvents returns and clears the queued fallback events.
func (c *FallbackChatClient) DrainEvents() []FallbackEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev := c.events
	c.events = nil
	return ev
}
