package taskforce

import "context"

// RunPaths locates one run on disk.
type RunPaths struct {
	RunID         string `json:"run_id"`
	RunDir        string `json:"run_dir"`
	WorkspacePath string `json:"workspace_path"`
}

// RunRepository owns the on-disk run layout:
//
//	{root}/runs/{run_id}/runlog.jsonl
//	{root}/runs/{run_id}/checkpoint.json
//	{root}/runs/{run_id}/workspace/
//
// One writer per run; event appends from parallel packs are serialised by
// the implementation. Readers tolerate partial or malformed log lines.
type RunRepository interface {
	// Root returns the workspace root the repository was opened on.
	Root() string
	// CreateRun allocates a fresh run directory with an empty workspace.
	CreateRun(runID string) (RunPaths, error)
	// OpenRun returns the paths of an existing run, failing if absent.
	OpenRun(runID string) (RunPaths, error)
	// AppendEvent writes one {ts, kind, step, payload} line to the run log.
	AppendEvent(runID string, kind EventKind, step string, payload map[string]any) error
	// ReadRunEvents returns all parseable events of a run in file order.
	ReadRunEvents(runID string) ([]RunEvent, error)
	// ListRuns returns known run ids, newest first.
	ListRuns() ([]string, error)
}

// CheckpointStore persists in-flight task-force state for resume.
type CheckpointStore interface {
	// Save atomically replaces the run's checkpoint (tmp file + rename).
	Save(runDir string, cp *RunCheckpoint) error
	// Load returns the checkpoint, or nil when the file is missing or
	// unparseable.
	Load(runDir string) (*RunCheckpoint, error)
	// Delete removes the checkpoint. Deleting an absent file is a no-op.
	Delete(runDir string) error
	// FindResumable lists run ids whose checkpoint exists and whose run
	// log lacks a run_complete event.
	FindResumable() ([]string, error)
}

// RunIndex is the append-only cross-run memory at the workspace root.
type RunIndex interface {
	// Append records one successful run. Exactly one entry per run.
	Append(ctx context.Context, entry RunIndexEntry) error
	// Search filters entries by case-insensitive substring against the
	// prompt prefix and summary, newest first, up to limit.
	Search(query string, limit int) ([]RunIndexEntry, error)
	// SemanticSearch ranks embedded entries by cosine similarity to the
	// query. It degrades to Search when no embedder is configured, no
	// entry carries an embedding, or embedding the query fails.
	SemanticSearch(ctx context.Context, query string, topK int) ([]RunIndexEntry, error)
}

// Embedder turns text into a vector for the run index's semantic search.
// provider/ollama implements it against the native embeddings endpoint.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
