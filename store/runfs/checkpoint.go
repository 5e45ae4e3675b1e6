package runfs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	taskforce "github.com/nevindra/taskforce"
)

// Save atomically replaces the run's checkpoint: the record is written to
// checkpoint.json.tmp and renamed over checkpoint.json, so readers never
// observe a torn file and no .tmp survives a successful save.
func (s *Store) Save(runDir string, cp *taskforce.RunCheckpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	final := filepath.Join(runDir, checkpointName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load returns the run's checkpoint, or nil when the file is missing or
// does not parse. Unknown JSON fields are ignored; other read failures are
// errors.
func (s *Store) Load(runDir string) (*taskforce.RunCheckpoint, error) {
	data, err := os.ReadFile(filepath.Join(runDir, checkpointName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp taskforce.RunCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, nil
	}
	return &cp, nil
}

// Delete removes the checkpoint. Idempotent: an absent file is a no-op.
func (s *Store) Delete(runDir string) error {
	err := os.Remove(filepath.Join(runDir, checkpointName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// FindResumable lists runs (newest first) that still carry a checkpoint and
// whose run log has no run_complete event.
func (s *Store) FindResumable() ([]string, error) {
	ids, err := s.ListRuns()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		if _, err := os.Stat(filepath.Join(s.runDir(id), checkpointName)); err != nil {
			continue
		}
		events, err := s.ReadRunEvents(id)
		if err != nil {
			continue
		}
		complete := false
		for _, ev := range events {
			if ev.Kind == taskforce.EventRunComplete {
				complete = true
				break
			}
		}
		if !complete {
			out = append(out, id)
		}
	}
	return out, nil
}
