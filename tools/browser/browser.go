// Package browser drives a real browser through playwright for packs with
// the browser feature enabled. The browser process is launched lazily on
// the first tool call, so packs that never touch it pay nothing.
package browser

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/playwright-community/playwright-go"

	taskforce "github.com/nevindra/taskforce"
)

// Session is a lazily-launched chromium session implementing
// taskforce.BrowserSession.
type Session struct {
	sb       *taskforce.Sandbox
	headless bool

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

var _ taskforce.BrowserSession = (*Session)(nil)

// NewSession creates an unlaunched session. headless controls the chromium
// launch mode.
func NewSession(sb *taskforce.Sandbox, headless bool) *Session {
	return &Session{sb: sb, headless: headless}
}

// Factory adapts NewSession to the decorator's factory signature.
func Factory(headless bool) taskforce.BrowserFactory {
	return func(sb *taskforce.Sandbox) (taskforce.BrowserSession, error) {
		return NewSession(sb, headless), nil
	}
}

// Definitions returns the browser tool catalogue.
func (s *Session) Definitions() []taskforce.ToolDefinition {
	return []taskforce.ToolDefinition{
		{
			Name:        "browser_navigate",
			Description: "Open a URL in the browser. Returns the final URL and page title.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to open"}},"required":["url"]}`),
		},
		{
			Name:        "browser_click",
			Description: "Click the first element matching a CSS selector.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector"}},"required":["selector"]}`),
		},
		{
			Name:        "browser_fill",
			Description: "Fill a form field matching a CSS selector with a value.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"selector":{"type":"string","description":"CSS selector"},"value":{"type":"string","description":"Text to enter"}},"required":["selector","value"]}`),
		},
		{
			Name:        "browser_screenshot",
			Description: "Save a screenshot of the current page into the workspace.",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"filename":{"type":"string","description":"Output file path relative to workspace"}},"required":["filename"]}`),
		},
	}
}

// Execute dispatches one browser tool. The first call launches chromium.
func (s *Session) Execute(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	page, err := s.currentPage()
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "launch browser")
	}

	switch name {
	case "browser_navigate":
		return s.navigate(page, args)
	case "browser_click":
		return s.click(page, args)
	case "browser_fill":
		return s.fill(page, args)
	case "browser_screenshot":
		return s.screenshot(page, args)
	}
	return map[string]any{"error": "unknown browser tool: " + name}, nil
}

// currentPage launches playwright, the browser, and one page on first use.
func (s *Session) currentPage() (playwright.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page != nil {
		return s.page, nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, err
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}
	page, err := browser.NewPage()
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, err
	}
	s.pw, s.browser, s.page = pw, browser, page
	return page, nil
}

func (s *Session) navigate(page playwright.Page, args map[string]any) (map[string]any, error) {
	url, ok := taskforce.StringArg(args, "url")
	if !ok || url == "" {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "browser_navigate: url is required")
	}
	if _, err := page.Goto(url); err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "navigate "+url)
	}
	title, _ := page.Title()
	return map[string]any{"url": page.URL(), "title": title}, nil
}

func (s *Session) click(page playwright.Page, args map[string]any) (map[string]any, error) {
	selector, ok := taskforce.StringArg(args, "selector")
	if !ok || selector == "" {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "browser_click: selector is required")
	}
	if err := page.Click(selector); err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "click "+selector)
	}
	return map[string]any{"clicked": selector, "url": page.URL()}, nil
}

func (s *Session) fill(page playwright.Page, args map[string]any) (map[string]any, error) {
	selector, ok := taskforce.StringArg(args, "selector")
	if !ok || selector == "" {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "browser_fill: selector is required")
	}
	value, ok := taskforce.StringArg(args, "value")
	if !ok {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "browser_fill: value is required")
	}
	if err := page.Fill(selector, value); err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "fill "+selector)
	}
	return map[string]any{"filled": selector}, nil
}

func (s *Session) screenshot(page playwright.Page, args map[string]any) (map[string]any, error) {
	filename, ok := taskforce.StringArg(args, "filename")
	if !ok || filename == "" {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "browser_screenshot: filename is required")
	}
	resolved, err := s.sb.SafePath(filename)
	if err != nil {
		return nil, err
	}
	if _, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(resolved),
		FullPage: playwright.Bool(true),
	}); err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "screenshot")
	}
	return map[string]any{"path": filename}, nil
}

// Close shuts down whatever was launched. Safe to call on an unlaunched
// session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			firstErr = err
		}
		s.browser = nil
		s.page = nil
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.pw = nil
	}
	return firstErr
}
