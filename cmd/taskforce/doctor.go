package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/client"

	"github.com/nevindra/taskforce/internal/config"
)

// detected.json records the environment checks so packs can consult them
// without re-probing.
const detectedFileName = "detected.json"

type detected struct {
	CheckedAt string `json:"checked_at"`
	LLM       bool   `json:"llm_reachable"`
	Docker    bool   `json:"docker_available"`
	Browser   bool   `json:"browser_ready"`
	Workspace bool   `json:"workspace_writable"`
}

// cmdBootstrap prepares a fresh installation: workspace directories, a
// default config file (only when absent), and an empty detected.json.
func cmdBootstrap(cfg config.Config) error {
	if err := os.MkdirAll(filepath.Join(cfg.WorkspaceRoot, "runs"), 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	configPath := os.Getenv("TASKFORCE_CONFIG")
	if configPath == "" {
		configPath = "taskforce.toml"
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(defaultConfigTOML(cfg)), 0o644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
		fmt.Println("wrote", configPath)
	}

	if err := writeDetected(cfg.WorkspaceRoot, detected{CheckedAt: time.Now().UTC().Format(time.RFC3339)}); err != nil {
		return err
	}
	fmt.Println("workspace ready:", cfg.WorkspaceRoot)
	return nil
}

// cmdDoctor probes the LLM endpoint, docker daemon, browser runtime, and
// workspace, prints a report, and records it in detected.json. A non-zero
// exit signals an unreachable LLM, since nothing works without one.
func cmdDoctor(ctx context.Context, cfg config.Config) error {
	d := detected{CheckedAt: time.Now().UTC().Format(time.RFC3339)}

	d.LLM = checkLLM(ctx, cfg.LLM.BaseURL)
	d.Docker = checkDocker(ctx)
	d.Browser = checkBrowser()
	d.Workspace = checkWorkspace(cfg.WorkspaceRoot)

	fmt.Printf("llm (%s): %s\n", cfg.LLM.BaseURL, verdict(d.LLM))
	fmt.Printf("docker: %s\n", verdict(d.Docker))
	fmt.Printf("browser: %s\n", verdict(d.Browser))
	fmt.Printf("workspace (%s): %s\n", cfg.WorkspaceRoot, verdict(d.Workspace))

	if err := writeDetected(cfg.WorkspaceRoot, d); err != nil {
		return err
	}
	if !d.LLM {
		return fmt.Errorf("LLM endpoint unreachable: %s", cfg.LLM.BaseURL)
	}
	return nil
}

func verdict(ok bool) string {
	if ok {
		return "ok"
	}
	return "unavailable"
}

func checkLLM(ctx context.Context, baseURL string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		strings.TrimRight(baseURL, "/")+"/models", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Auth failures still prove the endpoint is there.
	return resp.StatusCode < 500
}

func checkDocker(ctx context.Context) bool {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return false
	}
	defer cli.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = cli.Ping(pingCtx)
	return err == nil
}

// checkBrowser looks for the playwright driver cache rather than launching
// a browser, which keeps doctor fast.
func checkBrowser() bool {
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	candidates := []string{
		filepath.Join(home, ".cache", "ms-playwright"),
		filepath.Join(home, "Library", "Caches", "ms-playwright"),
	}
	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

func checkWorkspace(root string) bool {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return false
	}
	probe := filepath.Join(root, ".doctor_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return false
	}
	os.Remove(probe)
	return true
}

func writeDetected(root string, d detected) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, detectedFileName), data, 0o644)
}

func defaultConfigTOML(cfg config.Config) string {
	return fmt.Sprintf(`workspace_root = %q

[models]
fast = %q
quality = %q

[llm]
backend = %q
base_url = %q
timeout_seconds = %d

[web]
search_backend = %q
cache_ttl_hours = %d

[server]
addr = %q

[browser]
headless = true

[embeddings]
enabled = false
model = %q
`,
		cfg.WorkspaceRoot,
		cfg.Models["fast"], cfg.Models["quality"],
		cfg.LLM.Backend, cfg.LLM.BaseURL, cfg.LLM.TimeoutSeconds,
		cfg.Web.SearchBackend, cfg.Web.CacheTTLHours,
		cfg.Server.Addr,
		cfg.Embeddings.Model)
}
