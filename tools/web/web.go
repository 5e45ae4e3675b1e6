// Package web provides the network tools: web_search and fetch_url. Both
// are registered only when the sandbox allows network access, and both
// consult an optional persistent cache.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	taskforce "github.com/nevindra/taskforce"
)

const (
	maxFetchBytes   = 1 << 20 // 1MB page cap
	maxContentChars = 8000
	maxResults      = 8
	userAgent       = "Mozilla/5.0 (compatible; taskforce/1.0)"

	cacheKindSearch = "search"
	cacheKindFetch  = "fetch"
)

// Cache persists tool results across runs. A nil Cache disables caching;
// cache failures are never surfaced to the model.
type Cache interface {
	Get(ctx context.Context, kind, key string) (string, bool)
	Set(ctx context.Context, kind, key, value string) error
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Tool provides web search and page fetching.
type Tool struct {
	client      *http.Client
	braveAPIKey string
	cache       Cache
}

// Option configures the web tool.
type Option func(*Tool)

// WithBraveAPIKey selects the Brave search backend. Without it searches go
// through the DuckDuckGo HTML endpoint.
func WithBraveAPIKey(key string) Option {
	return func(t *Tool) { t.braveAPIKey = key }
}

// WithCache enables the persistent result cache.
func WithCache(c Cache) Option {
	return func(t *Tool) { t.cache = c }
}

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// New creates the web tool.
func New(opts ...Option) *Tool {
	t := &Tool{
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds web_search and fetch_url to the pack.
func (t *Tool) Register(p *taskforce.BasePack) {
	p.RegisterTool(taskforce.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web. Returns a list of results with title, url, and snippet.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"}},"required":["query"]}`),
	}, t.webSearch)
	p.RegisterTool(taskforce.ToolDefinition{
		Name:        "fetch_url",
		Description: "Fetch a web page and return its readable text content.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
	}, t.fetchURL)
}

func (t *Tool) webSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, ok := taskforce.StringArg(args, "query")
	if !ok || strings.TrimSpace(query) == "" {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "web_search: query is required")
	}

	if cached, ok := t.cacheGet(ctx, cacheKindSearch, query); ok {
		var results []SearchResult
		if json.Unmarshal([]byte(cached), &results) == nil {
			return searchDict(query, results, true), nil
		}
	}

	var (
		results []SearchResult
		err     error
	)
	if t.braveAPIKey != "" {
		results, err = t.braveSearch(ctx, query)
	} else {
		results, err = t.duckduckgoSearch(ctx, query)
	}
	if err != nil {
		return nil, err
	}

	if data, jerr := json.Marshal(results); jerr == nil {
		t.cacheSet(ctx, cacheKindSearch, query, string(data))
	}
	return searchDict(query, results, false), nil
}

func searchDict(query string, results []SearchResult, cached bool) map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": r.Snippet,
		})
	}
	return map[string]any{"query": query, "results": out, "cached": cached}
}

func (t *Tool) fetchURL(ctx context.Context, args map[string]any) (map[string]any, error) {
	raw, ok := taskforce.StringArg(args, "url")
	if !ok || raw == "" {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "fetch_url: url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "fetch_url: invalid url: %s", raw)
	}

	if cached, ok := t.cacheGet(ctx, cacheKindFetch, raw); ok {
		return map[string]any{"url": raw, "content": cached, "cached": true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindInvalidArgs, err, "fetch_url")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "fetch "+raw)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, taskforce.Errf(taskforce.KindIOError, "fetch %s: HTTP %d", raw, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxFetchBytes)
	article, err := readability.FromReader(body, parsed)
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "extract "+raw)
	}
	content := strings.TrimSpace(article.TextContent)
	if len(content) > maxContentChars {
		content = content[:maxContentChars] + "\n... (truncated)"
	}

	t.cacheSet(ctx, cacheKindFetch, raw, content)
	return map[string]any{
		"url":     raw,
		"title":   article.Title,
		"content": content,
		"cached":  false,
	}, nil
}

// braveSearch queries the Brave Search API.
func (t *Tool) braveSearch(ctx context.Context, query string) ([]SearchResult, error) {
	endpoint := "https://api.search.brave.com/res/v1/web/search?q=" + url.QueryEscape(query) +
		fmt.Sprintf("&count=%d", maxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "brave search")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.braveAPIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "brave search")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, taskforce.Errf(taskforce.KindIOError, "brave search: HTTP %d", resp.StatusCode)
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "brave search decode")
	}
	results := make([]SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}

var ddgResultRe = regexp.MustCompile(
	`(?s)<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>.*?<a[^>]+class="result__snippet"[^>]*>(.*?)</a>`)

// duckduckgoSearch scrapes the DuckDuckGo HTML endpoint, which needs no
// API key.
func (t *Tool) duckduckgoSearch(ctx context.Context, query string) ([]SearchResult, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "web search")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "web search")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, taskforce.Errf(taskforce.KindIOError, "web search: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "web search read")
	}

	var results []SearchResult
	for _, m := range ddgResultRe.FindAllStringSubmatch(string(body), maxResults) {
		results = append(results, SearchResult{
			Title:   stripTags(m[2]),
			URL:     decodeDDGHref(m[1]),
			Snippet: stripTags(m[3]),
		})
	}
	return results, nil
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}

// decodeDDGHref unwraps DuckDuckGo's redirect links (//duckduckgo.com/l/?uddg=...).
func decodeDDGHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		if decoded, err := url.QueryUnescape(uddg); err == nil {
			return decoded
		}
	}
	return href
}

func (t *Tool) cacheGet(ctx context.Context, kind, key string) (string, bool) {
	if t.cache == nil {
		return "", false
	}
	return t.cache.Get(ctx, kind, key)
}

func (t *Tool) cacheSet(ctx context.Context, kind, key, value string) {
	if t.cache == nil {
		return
	}
	_ = t.cache.Set(ctx, kind, key, value)
}
