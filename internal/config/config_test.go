package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	taskforce "github.com/nevindra/taskforce"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TASKFORCE_CONFIG", "TASKFORCE_BASE_URL", "TASKFORCE_API_KEY",
		"TASKFORCE_CLOUD_API_KEY", "TASKFORCE_WORKSPACE",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskforce.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg := Load(filepath.Join(t.TempDir(), "missing.toml"), nil)

	if cfg.LLM.Backend != "ollama" || cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Models["fast"] == "" || cfg.Models["quality"] == "" {
		t.Errorf("models = %v, want both tiers", cfg.Models)
	}
	if cfg.Web.SearchBackend != "duckduckgo" {
		t.Errorf("search backend = %q", cfg.Web.SearchBackend)
	}
	if cfg.Server.Addr != "127.0.0.1:8787" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
workspace_root = "/data/tf"

[models]
fast = "qwen3:4b"
quality = "qwen3:32b"

[llm]
backend = "openai-compat"
base_url = "http://vllm:8000/v1"
timeout_seconds = 60

[fallback]
policy = "no_tool_calls"
cloud_model = "gpt-4o-mini"

[[specialists]]
id = "data"
description = "Data wrangling"
capabilities = ["analysis", "files"]
`)

	cfg := Load(path, nil)
	if cfg.WorkspaceRoot != "/data/tf" {
		t.Errorf("workspace = %q", cfg.WorkspaceRoot)
	}
	if cfg.LLM.Backend != "openai-compat" || cfg.LLM.Timeout() != 60*time.Second {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Models["fast"] != "qwen3:4b" {
		t.Errorf("models = %v", cfg.Models)
	}
	if cfg.Fallback.Policy != "no_tool_calls" || cfg.Fallback.CloudModel != "gpt-4o-mini" {
		t.Errorf("fallback = %+v", cfg.Fallback)
	}
	if len(cfg.Specialists) != 1 || cfg.Specialists[0].ID != "data" {
		t.Fatalf("specialists = %+v", cfg.Specialists)
	}
	sp := cfg.Specialists[0].Specialist()
	if sp.ID != "data" || len(sp.Capabilities) != 2 {
		t.Errorf("converted specialist = %+v", sp)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[llm]
base_url = "http://from-file:1234/v1"
api_key = "file-key"
`)
	t.Setenv("TASKFORCE_BASE_URL", "http://from-env:5678/v1")
	t.Setenv("TASKFORCE_API_KEY", "env-key")
	t.Setenv("TASKFORCE_WORKSPACE", "/env/workspace")

	cfg := Load(path, nil)
	if cfg.LLM.BaseURL != "http://from-env:5678/v1" {
		t.Errorf("base url = %q, want env override", cfg.LLM.BaseURL)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.WorkspaceRoot != "/env/workspace" {
		t.Errorf("workspace = %q", cfg.WorkspaceRoot)
	}
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `workspace_root = "/from-env-file"`)
	t.Setenv("TASKFORCE_CONFIG", path)

	cfg := Load("", nil)
	if cfg.WorkspaceRoot != "/from-env-file" {
		t.Errorf("workspace = %q, want TASKFORCE_CONFIG file applied", cfg.WorkspaceRoot)
	}
}

func TestLoadWarnsOnUnknownFallbackPolicy(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[fallback]
policy = "on_tuesdays"
`)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := Load(path, logger)
	if cfg.Fallback.Policy != "on_tuesdays" {
		t.Errorf("policy = %q, unknown values are kept", cfg.Fallback.Policy)
	}
	if !strings.Contains(buf.String(), "unknown fallback policy") {
		t.Errorf("log = %q, want warning", buf.String())
	}

	// A known policy stays quiet.
	buf.Reset()
	Load(writeConfig(t, "[fallback]\npolicy = \"always\"\n"), logger)
	if strings.Contains(buf.String(), "unknown fallback policy") {
		t.Errorf("log = %q, want no warning for a known policy", buf.String())
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"missing workspace", func(c *Config) { c.WorkspaceRoot = "" }, "workspace_root"},
		{"missing base url", func(c *Config) { c.LLM.BaseURL = "" }, "base_url"},
		{"bad backend", func(c *Config) { c.LLM.Backend = "bedrock" }, "llm.backend"},
		{"missing default tier", func(c *Config) {
			delete(c.Models, taskforce.DefaultModelKey)
		}, "tier"},
		{"brave without key", func(c *Config) {
			c.Web.SearchBackend = "brave"
			c.Web.BraveAPIKey = ""
		}, "brave_api_key"},
		{"specialist without id", func(c *Config) {
			c.Specialists = []SpecialistConfig{{Description: "no id"}}
		}, "id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	if got := (LLMConfig{}).Timeout(); got != 120*time.Second {
		t.Errorf("zero timeout = %v", got)
	}
	if got := (LLMConfig{TimeoutSeconds: 30}).Timeout(); got != 30*time.Second {
		t.Errorf("timeout = %v", got)
	}
	if got := (WebConfig{}).CacheTTL(); got != 24*time.Hour {
		t.Errorf("zero ttl = %v", got)
	}
	if got := (WebConfig{CacheTTLHours: 2}).CacheTTL(); got != 2*time.Hour {
		t.Errorf("ttl = %v", got)
	}
}
