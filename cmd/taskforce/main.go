// Command taskforce runs the local agent orchestrator: one-shot runs, the
// HTTP server, planning, resume, and run-log inspection.
//
// Usage:
//
//	taskforce run <prompt> [--pack id] [--model-key key] [--stream] [--network]
//	taskforce serve
//	taskforce plan <prompt>
//	taskforce resume <run_id>
//	taskforce logs list|show <run_id>|search <query> [--semantic]
//	taskforce bootstrap
//	taskforce doctor
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	taskforce "github.com/nevindra/taskforce"
	"github.com/nevindra/taskforce/frontend/httpapi"
	"github.com/nevindra/taskforce/internal/config"
	"github.com/nevindra/taskforce/observer"
	"github.com/nevindra/taskforce/packs"
	"github.com/nevindra/taskforce/provider/ollama"
	"github.com/nevindra/taskforce/provider/openaicompat"
	"github.com/nevindra/taskforce/store/runfs"
	"github.com/nevindra/taskforce/store/sqlite"
	"github.com/nevindra/taskforce/tools/web"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg := config.Load("", logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(ctx, cfg, logger, os.Args[2:])
	case "serve":
		err = cmdServe(ctx, cfg, logger)
	case "plan":
		err = cmdPlan(ctx, cfg, logger, os.Args[2:])
	case "resume":
		err = cmdResume(ctx, cfg, logger, os.Args[2:])
	case "logs":
		err = cmdLogs(ctx, cfg, logger, os.Args[2:])
	case "bootstrap":
		err = cmdBootstrap(cfg)
	case "doctor":
		err = cmdDoctor(ctx, cfg)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: taskforce <command> [args]

commands:
  run <prompt>      execute a task
  serve             start the HTTP server
  plan <prompt>     show the orchestration plan without running
  resume <run_id>   continue an interrupted run
  logs              list, show, or search past runs
  bootstrap         create the workspace and a default config
  doctor            check LLM, docker, browser, and disk`)
}

// buildEngine wires stores, providers, packs, and the observer into one
// engine. The returned cleanup flushes the observer.
func buildEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (*taskforce.Engine, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	shutdownObserver, err := observer.Init(ctx, observer.Config{
		Enabled:  cfg.Observer.Enabled,
		Endpoint: cfg.Observer.Endpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("observer: %w", err)
	}

	store, err := runfs.Open(cfg.WorkspaceRoot, storeOptions(cfg)...)
	if err != nil {
		shutdownCleanup(ctx, shutdownObserver)
		return nil, nil, err
	}

	client := buildChatClient(cfg, logger)

	builderOpts := []packs.Option{packs.WithLogger(logger)}
	if cfg.Browser.Enabled {
		builderOpts = append(builderOpts, packs.WithBrowser(cfg.Browser.Headless))
	}
	if cfg.Docker.Enabled {
		builderOpts = append(builderOpts, packs.WithDocker())
	}
	if cfg.Web.SearchBackend == "brave" {
		builderOpts = append(builderOpts, packs.WithBraveAPIKey(cfg.Web.BraveAPIKey))
	}
	if cfg.Web.CachePath != "" {
		cache := sqlite.New(cfg.Web.CachePath, sqlite.WithTTL(cfg.Web.CacheTTL()))
		if err := cache.Init(ctx); err != nil {
			logger.Warn("web cache unavailable", "error", err)
		} else {
			builderOpts = append(builderOpts, packs.WithWebCache(web.Cache(cache)))
		}
	}
	builder := packs.New(builderOpts...)

	registry := taskforce.NewRegistry()
	for _, sc := range cfg.Specialists {
		registry.Register(sc.Specialist())
	}

	opts := []taskforce.EngineOption{
		taskforce.WithChatClient(client),
		taskforce.WithModels(cfg.Models),
		taskforce.WithRegistry(registry),
		taskforce.WithPackBuilder(builder.Build),
		taskforce.WithRunRepository(store),
		taskforce.WithCheckpointStore(store),
		taskforce.WithRunIndex(store),
		taskforce.WithLogger(logger),
	}
	if cfg.Observer.Enabled {
		opts = append(opts, taskforce.WithTracer(observer.NewTracer()))
	}
	if len(cfg.ExtraAllowedCommands) > 0 {
		opts = append(opts, taskforce.WithAllowedCommands(
			append(append([]string{}, taskforce.DefaultAllowedCommands...), cfg.ExtraAllowedCommands...)))
	}

	engine, err := taskforce.NewEngine(opts...)
	if err != nil {
		shutdownCleanup(ctx, shutdownObserver)
		return nil, nil, err
	}
	cleanup := func() { shutdownCleanup(context.Background(), shutdownObserver) }
	return engine, cleanup, nil
}

func shutdownCleanup(ctx context.Context, shutdown func(context.Context) error) {
	_ = shutdown(ctx)
}

func storeOptions(cfg config.Config) []runfs.Option {
	if !cfg.Embeddings.Enabled {
		return nil
	}
	base := cfg.Embeddings.BaseURL
	if base == "" {
		base = cfg.LLM.BaseURL
	}
	return []runfs.Option{runfs.WithEmbedder(ollama.NewEmbedder(base, cfg.Embeddings.Model))}
}

// buildChatClient assembles the local client plus the optional cloud
// fallback wrapper.
func buildChatClient(cfg config.Config, logger *slog.Logger) taskforce.ChatClient {
	localModel := cfg.Models[taskforce.DefaultModelKey]

	var local taskforce.ChatClient
	switch cfg.LLM.Backend {
	case "openai-compat":
		local = openaicompat.New(cfg.LLM.BaseURL, localModel,
			openaicompat.WithAPIKey(cfg.LLM.APIKey),
			openaicompat.WithTimeout(cfg.LLM.Timeout()),
			openaicompat.WithLogger(logger))
	default:
		local = ollama.New(cfg.LLM.BaseURL, localModel,
			ollama.WithLogger(logger),
			ollama.WithCompatOptions(
				openaicompat.WithAPIKey(cfg.LLM.APIKey),
				openaicompat.WithTimeout(cfg.LLM.Timeout())))
	}

	policy := taskforce.FallbackPolicy(cfg.Fallback.Policy)
	if !policy.Known() || cfg.Fallback.CloudBaseURL == "" {
		return local
	}
	cloud := openaicompat.New(cfg.Fallback.CloudBaseURL, cfg.Fallback.CloudModel,
		openaicompat.WithAPIKey(cfg.Fallback.CloudAPIKey),
		openaicompat.WithTimeout(cfg.LLM.Timeout()),
		openaicompat.WithLogger(logger))
	return taskforce.NewFallbackChatClient(local, cloud, policy, localModel, cfg.Fallback.CloudModel)
}

func cmdRun(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	pack := fs.String("pack", "", "route directly to this specialist")
	modelKey := fs.String("model-key", "", "model tier (fast, quality)")
	stream := fs.Bool("stream", false, "print run events as they happen")
	network := fs.Bool("network", false, "register network tools (web search, browser)")
	_ = fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("run: prompt required")
	}

	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	task := taskforce.Task{
		Prompt:         fs.Arg(0),
		SpecialistID:   *pack,
		ModelKey:       *modelKey,
		NetworkAllowed: *network,
	}

	var result *taskforce.RunResult
	if *stream {
		events := make(chan taskforce.RunEvent, 64)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range events {
				line, jerr := json.Marshal(ev)
				if jerr == nil {
					fmt.Println(string(line))
				}
			}
		}()
		result, err = engine.RunStream(ctx, task, events)
		close(events)
		<-done
	} else {
		result, err = engine.Run(ctx, task)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	server := httpapi.New(engine,
		httpapi.WithAPIKey(cfg.Server.APIKey),
		httpapi.WithLogger(logger))
	return server.ListenAndServe(ctx, cfg.Server.Addr)
}

func cmdPlan(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("plan: prompt required")
	}
	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	plan, err := engine.Plan(ctx, taskforce.Task{Prompt: args[0]})
	if err != nil {
		return err
	}
	return printJSON(plan)
}

func cmdResume(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("resume: run_id required")
	}
	engine, cleanup, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()
	result, err := engine.Resume(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
