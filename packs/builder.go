// Package packs assembles runtime specialist packs: base tools from the
// tools packages, then the decorator stack (browser, MCP, container) driven
// by the specialist config and feature flags.
package packs

import (
	"context"
	"log/slog"

	taskforce "github.com/nevindra/taskforce"
	"github.com/nevindra/taskforce/tools/browser"
	"github.com/nevindra/taskforce/tools/fsops"
	"github.com/nevindra/taskforce/tools/shell"
	"github.com/nevindra/taskforce/tools/tester"
	"github.com/nevindra/taskforce/tools/web"
)

// Builder constructs packs for the engine. The zero value builds packs with
// file, shell, and test tools only.
type Builder struct {
	logger *slog.Logger

	browserEnabled  bool
	browserHeadless bool
	dockerEnabled   bool

	braveAPIKey string
	webCache    web.Cache
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger handed to decorators.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithBrowser enables browser tools on every pack.
func WithBrowser(headless bool) Option {
	return func(b *Builder) {
		b.browserEnabled = true
		b.browserHeadless = headless
	}
}

// WithDocker enables container execution for specialists that configure a
// ContainerImage.
func WithDocker() Option {
	return func(b *Builder) { b.dockerEnabled = true }
}

// WithBraveAPIKey selects the Brave backend for web_search.
func WithBraveAPIKey(key string) Option {
	return func(b *Builder) { b.braveAPIKey = key }
}

// WithWebCache installs the persistent web result cache.
func WithWebCache(c web.Cache) Option {
	return func(b *Builder) { b.webCache = c }
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build implements taskforce.PackBuilder. A specialist with its own Factory
// bypasses the default assembly entirely.
func (b *Builder) Build(ctx context.Context, spec taskforce.Specialist, sb *taskforce.Sandbox) (taskforce.SpecialistPack, error) {
	if spec.Factory != nil {
		return spec.Factory(ctx, spec, sb)
	}

	base := taskforce.NewPackFrom(spec)
	fsops.New(sb).Register(base)
	shell.New(sb).Register(base)
	tester.New(sb).Register(base)
	if sb.NetworkAllowed() {
		webOpts := []web.Option{}
		if b.braveAPIKey != "" {
			webOpts = append(webOpts, web.WithBraveAPIKey(b.braveAPIKey))
		}
		if b.webCache != nil {
			webOpts = append(webOpts, web.WithCache(b.webCache))
		}
		web.New(webOpts...).Register(base)
	}

	var pack taskforce.SpecialistPack = base
	if b.browserEnabled {
		pack = taskforce.NewBrowserPack(pack, sb, browser.Factory(b.browserHeadless), b.logger)
	}
	if len(spec.MCPServers) > 0 {
		pack = taskforce.NewMCPPack(pack, spec.MCPServers, b.logger)
	}
	if b.dockerEnabled && spec.ContainerImage != "" {
		pack = taskforce.NewContainerPack(pack, sb, spec.ContainerImage, b.logger)
	}
	return pack, nil
}
