package runfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	taskforce "github.com/nevindra/taskforce"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestCreateRunLayout(t *testing.T) {
	s := openStore(t)

	paths, err := s.CreateRun("run-1")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if paths.RunID != "run-1" {
		t.Errorf("RunID = %q", paths.RunID)
	}
	info, err := os.Stat(paths.WorkspacePath)
	if err != nil || !info.IsDir() {
		t.Errorf("workspace dir missing: %v", err)
	}
	if filepath.Dir(paths.WorkspacePath) != paths.RunDir {
		t.Errorf("workspace %q not under run dir %q", paths.WorkspacePath, paths.RunDir)
	}

	if _, err := s.OpenRun("run-1"); err != nil {
		t.Errorf("OpenRun existing: %v", err)
	}
	if _, err := s.OpenRun("run-missing"); err == nil {
		t.Error("OpenRun missing run should fail")
	}
}

func TestAppendAndReadEvents(t *testing.T) {
	s := openStore(t)
	if _, err := s.CreateRun("run-1"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.AppendEvent("run-1", taskforce.EventPackStart, "", map[string]any{"specialist_id": "research"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := s.AppendEvent("run-1", taskforce.EventToolCall, "0", map[string]any{"name": "echo"}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := s.ReadRunEvents("run-1")
	if err != nil {
		t.Fatalf("ReadRunEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Kind != taskforce.EventPackStart || events[1].Kind != taskforce.EventToolCall {
		t.Errorf("kinds = %s, %s", events[0].Kind, events[1].Kind)
	}
	if events[1].Step != "0" {
		t.Errorf("step = %q, want 0", events[1].Step)
	}
	if events[0].TS == 0 {
		t.Error("timestamp not set")
	}
}

func TestReadEventsSkipsMalformedLines(t *testing.T) {
	s := openStore(t)
	paths, _ := s.CreateRun("run-1")
	s.AppendEvent("run-1", taskforce.EventPackStart, "", nil)

	// Simulate a crash mid-append: garbage and a torn line at the end.
	logPath := filepath.Join(paths.RunDir, "runlog.jsonl")
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	f.WriteString("not json at all\n")
	f.Close()
	s.AppendEvent("run-1", taskforce.EventRunComplete, "", map[string]any{"summary": "x"})
	f, _ = os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	f.WriteString(`{"ts": 1, "kind": "tool_call", "pay`)
	f.Close()

	events, err := s.ReadRunEvents("run-1")
	if err != nil {
		t.Fatalf("ReadRunEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2 (garbage skipped)", len(events))
	}
	if events[1].Kind != taskforce.EventRunComplete {
		t.Errorf("events[1] = %s, want run_complete", events[1].Kind)
	}
}

func TestReadEventsMissingRun(t *testing.T) {
	s := openStore(t)
	events, err := s.ReadRunEvents("never-created")
	if err != nil || events != nil {
		t.Errorf("ReadRunEvents missing = (%v, %v), want (nil, nil)", events, err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := openStore(t)
	// UUIDv7 ids sort chronologically, so lexicographic order stands in for
	// creation order here.
	for _, id := range []string{"a-run", "b-run", "c-run"} {
		if _, err := s.CreateRun(id); err != nil {
			t.Fatalf("CreateRun(%s): %v", id, err)
		}
	}

	ids, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	want := []string{"c-run", "b-run", "a-run"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestConcurrentAppendsAllLand(t *testing.T) {
	s := openStore(t)
	s.CreateRun("run-1")

	const n = 50
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			s.AppendEvent("run-1", taskforce.EventToolCall, "", map[string]any{"i": i})
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	events, err := s.ReadRunEvents("run-1")
	if err != nil {
		t.Fatalf("ReadRunEvents: %v", err)
	}
	if len(events) != n {
		t.Errorf("events = %d, want %d", len(events), n)
	}
}

func TestCheckpointSaveLoadDelete(t *testing.T) {
	s := openStore(t)
	paths, _ := s.CreateRun("run-1")

	cp := &taskforce.RunCheckpoint{
		RunID:                "run-1",
		RunDir:               paths.RunDir,
		WorkspacePath:        paths.WorkspacePath,
		TaskPrompt:           "do the thing",
		SpecialistIDs:        []string{"engineering", "research"},
		CompletedSpecialists: []string{"engineering"},
		Payloads: map[string]map[string]any{
			"engineering": {"summary": "patched"},
		},
		TaskForceMode: taskforce.ModeSequential,
		ModelKey:      "fast",
	}
	if err := s.Save(paths.RunDir, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Atomic save leaves no temp file behind.
	if _, err := os.Stat(filepath.Join(paths.RunDir, "checkpoint.json.tmp")); !os.IsNotExist(err) {
		t.Error("tmp file survived save")
	}

	got, err := s.Load(paths.RunDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load = nil, want checkpoint")
	}
	if got.TaskPrompt != "do the thing" || !got.Completed("engineering") || got.Completed("research") {
		t.Errorf("loaded checkpoint = %+v", got)
	}
	if got.Payloads["engineering"]["summary"] != "patched" {
		t.Errorf("payload = %v", got.Payloads["engineering"])
	}

	if err := s.Delete(paths.RunDir); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Load(paths.RunDir); got != nil {
		t.Error("checkpoint survived delete")
	}
	// Deleting an absent checkpoint is a no-op.
	if err := s.Delete(paths.RunDir); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestLoadCorruptCheckpointReturnsNil(t *testing.T) {
	s := openStore(t)
	paths, _ := s.CreateRun("run-1")
	if err := os.WriteFile(filepath.Join(paths.RunDir, "checkpoint.json"), []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := s.Load(paths.RunDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("Load corrupt = %+v, want nil", got)
	}
}

func TestFindResumable(t *testing.T) {
	s := openStore(t)

	// finished: checkpoint deleted, run_complete logged.
	s.CreateRun("a-finished")
	s.AppendEvent("a-finished", taskforce.EventRunComplete, "", nil)

	// interrupted: checkpoint present, no run_complete.
	p2, _ := s.CreateRun("b-interrupted")
	s.Save(p2.RunDir, &taskforce.RunCheckpoint{RunID: "b-interrupted"})
	s.AppendEvent("b-interrupted", taskforce.EventPackStart, "", nil)

	// stale: checkpoint present but the log says complete.
	p3, _ := s.CreateRun("c-stale")
	s.Save(p3.RunDir, &taskforce.RunCheckpoint{RunID: "c-stale"})
	s.AppendEvent("c-stale", taskforce.EventRunComplete, "", nil)

	ids, err := s.FindResumable()
	if err != nil {
		t.Fatalf("FindResumable: %v", err)
	}
	if len(ids) != 1 || ids[0] != "b-interrupted" {
		t.Errorf("FindResumable = %v, want [b-interrupted]", ids)
	}
}

func TestRootIsAbsolute(t *testing.T) {
	dir := t.TempDir()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(orig)

	s, err := Open("relative-root")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !filepath.IsAbs(s.Root()) {
		t.Errorf("Root = %q, want absolute", s.Root())
	}
	if !strings.HasPrefix(s.Root(), dir) {
		t.Errorf("Root = %q, want under %q", s.Root(), dir)
	}
}
