package runfs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	taskforce "github.com/nevindra/taskforce"
)

// Append records one run in run_index.jsonl. When an embedder is configured
// and the entry has no embedding yet, one is computed from the prompt prefix
// and summary; an embedding failure degrades to a keyword-only entry rather
// than failing the append.
func (s *Store) Append(ctx context.Context, entry taskforce.RunIndexEntry) error {
	if s.embedder != nil && entry.Embedding == nil {
		text := entry.PromptPrefix + "\n" + entry.Summary
		if vec, err := s.embedder.Embed(ctx, text); err == nil {
			entry.Embedding = vec
		}
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal index entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(filepath.Join(s.root, indexName),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open run index: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append index entry: %w", err)
	}
	return nil
}

// readIndex returns all parseable index entries in file (chronological)
// order, skipping malformed lines.
func (s *Store) readIndex() ([]taskforce.RunIndexEntry, error) {
	f, err := os.Open(filepath.Join(s.root, indexName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open run index: %w", err)
	}
	defer f.Close()

	var entries []taskforce.RunIndexEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLogLineBytes)
	for sc.Scan() {
		var e taskforce.RunIndexEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return entries, nil
	}
	return entries, nil
}

// Search filters by case-insensitive substring against the prompt prefix
// and summary, newest first, up to limit.
func (s *Store) Search(query string, limit int) ([]taskforce.RunIndexEntry, error) {
	entries, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []taskforce.RunIndexEntry
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if q == "" ||
			strings.Contains(strings.ToLower(e.PromptPrefix), q) ||
			strings.Contains(strings.ToLower(e.Summary), q) {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// SemanticSearch ranks embedded entries by cosine similarity to the query.
// It falls back to Search when no embedder is configured, no entry carries
// an embedding, or embedding the query fails.
func (s *Store) SemanticSearch(ctx context.Context, query string, topK int) ([]taskforce.RunIndexEntry, error) {
	if s.embedder == nil {
		return s.Search(query, topK)
	}
	entries, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	var embedded []taskforce.RunIndexEntry
	for _, e := range entries {
		if len(e.Embedding) > 0 {
			embedded = append(embedded, e)
		}
	}
	if len(embedded) == 0 {
		return s.Search(query, topK)
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return s.Search(query, topK)
	}

	type scored struct {
		entry taskforce.RunIndexEntry
		score float64
	}
	ranked := make([]scored, 0, len(embedded))
	for _, e := range embedded {
		ranked = append(ranked, scored{e, Cosine(qvec, e.Embedding)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if topK <= 0 || topK > len(ranked) {
		topK = len(ranked)
	}
	out := make([]taskforce.RunIndexEntry, topK)
	for i := range out {
		out[i] = ranked[i].entry
	}
	return out, nil
}

// Cosine returns the cosine similarity of two vectors: symmetric, bounded
// to [-1, 1], and 0 for any zero vector or length mismatch.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
