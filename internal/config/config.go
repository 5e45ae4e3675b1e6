// Package config loads the taskforce configuration: defaults, then an
// optional TOML file, then environment overrides (env wins).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	taskforce "github.com/nevindra/taskforce"
)

type Config struct {
	// WorkspaceRoot is where runs/ and run_index.jsonl live.
	WorkspaceRoot string `toml:"workspace_root"`
	// Models maps tier keys ("fast", "quality") to model names.
	Models map[string]string `toml:"models"`

	LLM         LLMConfig          `toml:"llm"`
	Fallback    FallbackConfig     `toml:"fallback"`
	Embeddings  EmbeddingsConfig   `toml:"embeddings"`
	Browser     BrowserConfig      `toml:"browser"`
	Docker      DockerConfig       `toml:"docker"`
	Web         WebConfig          `toml:"web"`
	Server      ServerConfig       `toml:"server"`
	Observer    ObserverConfig     `toml:"observer"`
	Specialists []SpecialistConfig `toml:"specialists"`
	// ExtraAllowedCommands extends the sandbox command allowlist.
	ExtraAllowedCommands []string `toml:"extra_allowed_commands"`
}

type LLMConfig struct {
	// Backend is "openai-compat" or "ollama".
	Backend string `toml:"backend"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	// TimeoutSeconds bounds each chat completion request.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type FallbackConfig struct {
	// Policy is no_tool_calls, malformed_args, or always. Empty disables
	// fallback; unknown values are kept but warned about at load and never
	// trigger.
	Policy       string `toml:"policy"`
	CloudBaseURL string `toml:"cloud_base_url"`
	CloudAPIKey  string `toml:"cloud_api_key"`
	CloudModel   string `toml:"cloud_model"`
}

type EmbeddingsConfig struct {
	Enabled bool   `toml:"enabled"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"` // empty reuses llm.base_url
}

type BrowserConfig struct {
	Enabled  bool `toml:"enabled"`
	Headless bool `toml:"headless"`
}

type DockerConfig struct {
	Enabled bool `toml:"enabled"`
}

type WebConfig struct {
	// SearchBackend is "brave" or "duckduckgo"; brave needs the API key.
	SearchBackend string `toml:"search_backend"`
	BraveAPIKey   string `toml:"brave_api_key"`
	CachePath     string `toml:"cache_path"`
	CacheTTLHours int    `toml:"cache_ttl_hours"`
}

type ServerConfig struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

type ObserverConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// SpecialistConfig adds or overrides a specialist record.
type SpecialistConfig struct {
	ID             string                      `toml:"id"`
	Description    string                      `toml:"description"`
	Capabilities   []string                    `toml:"capabilities"`
	Keywords       []string                    `toml:"keywords"`
	SystemPrompt   string                      `toml:"system_prompt"`
	ContainerImage string                      `toml:"container_image"`
	MaxSteps       int                         `toml:"max_steps"`
	MCPServers     []taskforce.MCPServerConfig `toml:"mcp_servers"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		WorkspaceRoot: filepath.Join(home, "taskforce-workspace"),
		Models: map[string]string{
			"fast":    "qwen2.5:7b",
			"quality": "qwen2.5:32b",
		},
		LLM: LLMConfig{
			Backend:        "ollama",
			BaseURL:        "http://localhost:11434/v1",
			TimeoutSeconds: 120,
		},
		Embeddings: EmbeddingsConfig{Model: "nomic-embed-text"},
		Browser:    BrowserConfig{Headless: true},
		Web:        WebConfig{SearchBackend: "duckduckgo", CacheTTLHours: 24},
		Server:     ServerConfig{Addr: "127.0.0.1:8787"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). path ""
// consults TASKFORCE_CONFIG, then ./taskforce.toml. A nil logger discards
// the unknown-policy warning.
func Load(path string, logger *slog.Logger) Config {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TASKFORCE_CONFIG")
	}
	if path == "" {
		path = "taskforce.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("TASKFORCE_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("TASKFORCE_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TASKFORCE_CLOUD_API_KEY"); v != "" {
		cfg.Fallback.CloudAPIKey = v
	}
	if v := os.Getenv("TASKFORCE_WORKSPACE"); v != "" {
		cfg.WorkspaceRoot = v
	}

	if p := taskforce.FallbackPolicy(cfg.Fallback.Policy); cfg.Fallback.Policy != "" && !p.Known() {
		// Unknown policies never trigger at runtime; warn once here so a
		// typo does not silently disable fallback.
		if logger != nil {
			logger.Warn("unknown fallback policy, fallback will never trigger",
				"policy", cfg.Fallback.Policy)
		}
	}
	return cfg
}

// Timeout returns the per-request LLM timeout.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns the web cache entry lifetime.
func (c WebConfig) CacheTTL() time.Duration {
	if c.CacheTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// Validate reports configuration errors that must stop the CLI.
func (c Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root must be set")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url must be set")
	}
	if c.LLM.Backend != "" && c.LLM.Backend != "ollama" && c.LLM.Backend != "openai-compat" {
		return fmt.Errorf("llm.backend must be \"ollama\" or \"openai-compat\", got %q", c.LLM.Backend)
	}
	if _, ok := c.Models[taskforce.DefaultModelKey]; !ok {
		return fmt.Errorf("models must define the %q tier", taskforce.DefaultModelKey)
	}
	if c.Web.SearchBackend == "brave" && c.Web.BraveAPIKey == "" {
		return fmt.Errorf("web.search_backend \"brave\" needs web.brave_api_key")
	}
	for _, s := range c.Specialists {
		if s.ID == "" {
			return fmt.Errorf("specialist entries must have an id")
		}
	}
	return nil
}

// Specialist converts a config record to the registry type.
func (s SpecialistConfig) Specialist() taskforce.Specialist {
	return taskforce.Specialist{
		ID:             s.ID,
		Description:    s.Description,
		Capabilities:   s.Capabilities,
		Keywords:       s.Keywords,
		SystemPrompt:   s.SystemPrompt,
		ContainerImage: s.ContainerImage,
		MaxSteps:       s.MaxSteps,
		MCPServers:     s.MCPServers,
	}
}
