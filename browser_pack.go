package taskforce

import (
	"context"
	"log/slog"
)

// BrowserSession is a live browser a pack can drive. Implementations launch
// the underlying browser lazily on first use so a pack that never calls a
// browser tool never pays the startup cost.
type BrowserSession interface {
	// Definitions returns the browser tool catalogue.
	Definitions() []ToolDefinition
	// Execute runs one browser tool by name.
	Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error)
	// Close shuts the browser down. Safe to call without prior use.
	Close(ctx context.Context) error
}

// BrowserFactory constructs a session bound to a sandbox (screenshots land
// under the workspace).
type BrowserFactory func(sb *Sandbox) (BrowserSession, error)

// BrowserPack augments an inner pack with browser automation tools. The
// session is created on Open and closed on Close; browser tool names are
// routed to it, everything else falls through to the inner pack.
type BrowserPack struct {
	inner   SpecialistPack
	sb      *Sandbox
	factory BrowserFactory
	logger  *slog.Logger

	session BrowserSession
	owned   map[string]struct{}
}

var _ SpecialistPack = (*BrowserPack)(nil)

// NewBrowserPack wraps inner with browser tools built by factory. A nil
// logger discards.
func NewBrowserPack(inner SpecialistPack, sb *Sandbox, factory BrowserFactory, logger *slog.Logger) *BrowserPack {
	if logger == nil {
		logger = nopLogger
	}
	return &BrowserPack{
		inner:   inner,
		sb:      sb,
		factory: factory,
		logger:  logger,
		owned:   make(map[string]struct{}),
	}
}

func (p *BrowserPack) SpecialistID() string           { return p.inner.SpecialistID() }
func (p *BrowserPack) SystemPrompt() string           { return p.inner.SystemPrompt() }
func (p *BrowserPack) FinishToolName() string         { return p.inner.FinishToolName() }
func (p *BrowserPack) FinishRequiredFields() []string { return p.inner.FinishRequiredFields() }

func (p *BrowserPack) ValidateFinishPayload(args map[string]any) string {
	return p.inner.ValidateFinishPayload(args)
}

// ToolDefinitions splices the browser tools in before the finish tool.
func (p *BrowserPack) ToolDefinitions() []ToolDefinition {
	inner := p.inner.ToolDefinitions()
	if p.session == nil {
		return inner
	}
	browser := p.session.Definitions()
	out := make([]ToolDefinition, 0, len(inner)+len(browser))
	out = append(out, inner[:len(inner)-1]...)
	out = append(out, browser...)
	return append(out, inner[len(inner)-1])
}

// Open builds the browser session and opens the inner pack. The session
// itself launches nothing yet; the factory only wires it up.
func (p *BrowserPack) Open(ctx context.Context) error {
	session, err := p.factory(p.sb)
	if err != nil {
		return WrapErr(KindIOError, err, "browser session")
	}
	p.session = session
	for _, def := range session.Definitions() {
		p.owned[def.Name] = struct{}{}
	}
	return p.inner.Open(ctx)
}

// Close shuts the browser down, then the inner pack. The first error wins.
func (p *BrowserPack) Close(ctx context.Context) error {
	var firstErr error
	if p.session != nil {
		if err := p.session.Close(ctx); err != nil {
			p.logger.Warn("browser close failed", "error", err)
			firstErr = err
		}
		p.session = nil
	}
	if err := p.inner.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ExecuteTool routes browser tool names to the session and everything else
// to the inner pack.
func (p *BrowserPack) ExecuteTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if _, ok := p.owned[name]; ok && p.session != nil {
		return p.session.Execute(ctx, name, args)
	}
	return p.inner.ExecuteTool(ctx, name, args)
}
