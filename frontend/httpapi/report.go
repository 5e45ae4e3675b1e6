package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	taskforce "github.com/nevindra/taskforce"
)

// handleReport renders a human-readable HTML report for a finished or
// in-flight run: the final summary (when present) plus the event timeline.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	repo := s.engine.Repository()
	if _, err := repo.OpenRun(runID); err != nil {
		writeError(w, http.StatusNotFound, "unknown run: "+runID)
		return
	}
	events, err := repo.ReadRunEvents(runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	md := reportMarkdown(runID, events)
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md), &body); err != nil {
		writeError(w, http.StatusInternalServerError, "render report: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<!doctype html><html><head><title>run %s</title></head><body>%s</body></html>",
		runID, body.String())
}

// reportMarkdown builds the report source: summary first, then the
// timeline with one row per event.
func reportMarkdown(runID string, events []taskforce.RunEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", runID)

	for _, ev := range events {
		if ev.Kind != taskforce.EventRunComplete {
			continue
		}
		if summary, ok := ev.Payload["summary"].(string); ok && summary != "" {
			b.WriteString("## Summary\n\n")
			b.WriteString(summary)
			b.WriteString("\n\n")
		}
		break
	}

	b.WriteString("## Timeline\n\n")
	b.WriteString("| # | kind | step | payload |\n|---|---|---|---|\n")
	for i, ev := range events {
		fmt.Fprintf(&b, "| %d | %s | %s | `%s` |\n",
			i, ev.Kind, ev.Step, payloadPreview(ev.Payload))
	}
	return b.String()
}

// payloadPreview renders a payload as one short JSON cell.
func payloadPreview(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return "unrenderable"
	}
	preview := string(data)
	if len(preview) > 160 {
		preview = preview[:160] + "..."
	}
	// Pipes would break the markdown table cell.
	return strings.ReplaceAll(preview, "|", "\\|")
}
