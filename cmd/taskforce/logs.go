package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"

	taskforce "github.com/nevindra/taskforce"
	"github.com/nevindra/taskforce/internal/config"
	"github.com/nevindra/taskforce/store/runfs"
)

const searchLimit = 20

// cmdLogs inspects past runs without constructing an engine; only the
// stores are needed.
func cmdLogs(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("logs: expected list, show, or search")
	}
	store, err := runfs.Open(cfg.WorkspaceRoot, storeOptions(cfg)...)
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		return logsList(store)
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("logs show: run_id required")
		}
		return logsShow(store, args[1])
	case "search":
		fs := flag.NewFlagSet("logs search", flag.ExitOnError)
		semantic := fs.Bool("semantic", false, "rank by embedding similarity")
		_ = fs.Parse(args[1:])
		if fs.NArg() < 1 {
			return fmt.Errorf("logs search: query required")
		}
		return logsSearch(ctx, store, fs.Arg(0), *semantic)
	}
	return fmt.Errorf("logs: unknown subcommand %q", args[0])
}

func logsList(store *runfs.Store) error {
	ids, err := store.ListRuns()
	if err != nil {
		return err
	}
	resumable, err := store.FindResumable()
	if err != nil {
		return err
	}
	resumableSet := make(map[string]bool, len(resumable))
	for _, id := range resumable {
		resumableSet[id] = true
	}
	for _, id := range ids {
		marker := ""
		if resumableSet[id] {
			marker = "  (resumable)"
		}
		fmt.Println(id + marker)
	}
	return nil
}

func logsShow(store *runfs.Store, runID string) error {
	if _, err := store.OpenRun(runID); err != nil {
		return fmt.Errorf("unknown run: %s", runID)
	}
	events, err := store.ReadRunEvents(runID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Println(string(line))
	}
	return nil
}

func logsSearch(ctx context.Context, store *runfs.Store, query string, semantic bool) error {
	var (
		entries []taskforce.RunIndexEntry
		err     error
	)
	if semantic {
		entries, err = store.SemanticSearch(ctx, query, searchLimit)
	} else {
		entries, err = store.Search(query, searchLimit)
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s  [%s]  %s\n", e.RunID, e.RoutingMethod, e.PromptPrefix)
		if e.Summary != "" {
			fmt.Printf("    %s\n", e.Summary)
		}
	}
	return nil
}
