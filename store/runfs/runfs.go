// Package runfs persists runs on the local filesystem:
//
//	{root}/runs/{run_id}/runlog.jsonl
//	{root}/runs/{run_id}/checkpoint.json
//	{root}/runs/{run_id}/workspace/
//	{root}/run_index.jsonl
//
// One Store instance is the single writer for its root. Event appends are
// serialised per run; readers tolerate partial and malformed log lines.
package runfs

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	taskforce "github.com/nevindra/taskforce"
)

const (
	runsDirName      = "runs"
	runlogName       = "runlog.jsonl"
	checkpointName   = "checkpoint.json"
	workspaceDirName = "workspace"
	indexName        = "run_index.jsonl"
	maxLogLineBytes  = 4 * 1024 * 1024
)

// Store implements taskforce.RunRepository, taskforce.CheckpointStore, and
// taskforce.RunIndex over one workspace root.
type Store struct {
	root     string
	embedder taskforce.Embedder

	mu     sync.Mutex             // guards runMus and the index file
	runMus map[string]*sync.Mutex // per-run log writers
}

var (
	_ taskforce.RunRepository   = (*Store)(nil)
	_ taskforce.CheckpointStore = (*Store)(nil)
	_ taskforce.RunIndex        = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithEmbedder enables embedding-backed semantic search on the run index.
// Entries are embedded at append time; search degrades to keyword matching
// without it.
func WithEmbedder(e taskforce.Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// Open creates (if needed) and opens the run store rooted at root.
func Open(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, runsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	s := &Store{
		root:   abs,
		runMus: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the workspace root.
func (s *Store) Root() string { return s.root }

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.root, runsDirName, runID)
}

func (s *Store) paths(runID string) taskforce.RunPaths {
	dir := s.runDir(runID)
	return taskforce.RunPaths{
		RunID:         runID,
		RunDir:        dir,
		WorkspacePath: filepath.Join(dir, workspaceDirName),
	}
}

// CreateRun allocates runs/{id}/workspace.
func (s *Store) CreateRun(runID string) (taskforce.RunPaths, error) {
	p := s.paths(runID)
	if err := os.MkdirAll(p.WorkspacePath, 0o755); err != nil {
		return taskforce.RunPaths{}, fmt.Errorf("create run %s: %w", runID, err)
	}
	return p, nil
}

// OpenRun returns the paths of an existing run.
func (s *Store) OpenRun(runID string) (taskforce.RunPaths, error) {
	p := s.paths(runID)
	info, err := os.Stat(p.RunDir)
	if err != nil {
		return taskforce.RunPaths{}, fmt.Errorf("run %s: %w", runID, err)
	}
	if !info.IsDir() {
		return taskforce.RunPaths{}, fmt.Errorf("run %s: not a directory", runID)
	}
	return p, nil
}

// lockRun returns the per-run append mutex, creating it on first use.
func (s *Store) lockRun(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.runMus[runID]
	if !ok {
		mu = &sync.Mutex{}
		s.runMus[runID] = mu
	}
	return mu
}

// AppendEvent writes one JSONL event line. Appends from parallel packs are
// serialised here; temporal order of this store's own calls is preserved.
func (s *Store) AppendEvent(runID string, kind taskforce.EventKind, step string, payload map[string]any) error {
	ev := taskforce.RunEvent{
		TS:      taskforce.NowEpoch(),
		Kind:    kind,
		Step:    step,
		Payload: payload,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	mu := s.lockRun(runID)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.runDir(runID), runlogName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadRunEvents returns the parseable events of a run in file order.
// Malformed lines (including a partial last line) are skipped.
func (s *Store) ReadRunEvents(runID string) ([]taskforce.RunEvent, error) {
	f, err := os.Open(filepath.Join(s.runDir(runID), runlogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open run log: %w", err)
	}
	defer f.Close()

	var events []taskforce.RunEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLogLineBytes)
	for sc.Scan() {
		var ev taskforce.RunEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		// A torn final line is expected after a crash; return what parsed.
		return events, nil
	}
	return events, nil
}

// ListRuns returns run ids newest first. Run ids are UUIDv7, so reverse
// lexicographic order is reverse chronological.
func (s *Store) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, runsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}
