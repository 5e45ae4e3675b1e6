// Package fsops provides the workspace file tools: read_file, write_file,
// and list_files. All paths are relative and resolved through the sandbox.
package fsops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	taskforce "github.com/nevindra/taskforce"
)

const (
	maxReadChars    = 8000
	defaultMaxFiles = 200
)

// Tool provides file operations within a sandboxed workspace.
type Tool struct {
	sb *taskforce.Sandbox
}

// New creates the file tool bound to sb.
func New(sb *taskforce.Sandbox) *Tool {
	return &Tool{sb: sb}
}

// Register adds read_file, write_file, and list_files to the pack.
func (t *Tool) Register(p *taskforce.BasePack) {
	p.RegisterTool(taskforce.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace. PDF files are returned as extracted text. Large content is truncated.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"}},"required":["path"]}`),
	}, t.readFile)
	p.RegisterTool(taskforce.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace. Creates parent directories if needed.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path relative to workspace"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`),
	}, t.writeFile)
	p.RegisterTool(taskforce.ToolDefinition{
		Name:        "list_files",
		Description: "List file paths in the workspace, lexicographically, up to max_files entries.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"max_files":{"type":"integer","description":"Maximum number of entries to return"}}}`),
	}, t.listFiles)
}

func (t *Tool) readFile(ctx context.Context, args map[string]any) (map[string]any, error) {
	rel, ok := taskforce.StringArg(args, "path")
	if !ok || rel == "" {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "read_file: path is required")
	}
	resolved, err := t.sb.SafePath(rel)
	if err != nil {
		return nil, err
	}

	var content string
	if strings.EqualFold(filepath.Ext(resolved), ".pdf") {
		content, err = pdfText(resolved)
	} else {
		var data []byte
		data, err = os.ReadFile(resolved)
		content = string(data)
	}
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "read "+rel)
	}
	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return map[string]any{"path": rel, "content": content}, nil
}

func (t *Tool) writeFile(ctx context.Context, args map[string]any) (map[string]any, error) {
	rel, ok := taskforce.StringArg(args, "path")
	if !ok || rel == "" {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "write_file: path is required")
	}
	content, ok := taskforce.StringArg(args, "content")
	if !ok {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "write_file: content is required")
	}
	resolved, err := t.sb.SafePath(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "mkdir for "+rel)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "write "+rel)
	}
	return map[string]any{"path": rel, "bytes": len(content)}, nil
}

func (t *Tool) listFiles(ctx context.Context, args map[string]any) (map[string]any, error) {
	maxFiles, ok := taskforce.IntArg(args, "max_files")
	if !ok || maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	root := t.sb.Root()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, taskforce.WrapErr(taskforce.KindIOError, err, "list workspace")
	}
	sort.Strings(files)
	truncated := false
	if len(files) > maxFiles {
		files = files[:maxFiles]
		truncated = true
	}
	return map[string]any{"files": files, "count": len(files), "truncated": truncated}, nil
}

// pdfText extracts the plain text of a PDF file.
func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}
