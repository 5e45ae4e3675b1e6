package taskforce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// maxToolOutputChars caps each captured subprocess stream before it is
// handed back to the model.
const maxToolOutputChars = 8000

// defaultCmdTimeout bounds subprocess execution when the caller passes
// no timeout.
const defaultCmdTimeout = 60 * time.Second

// DefaultAllowedCommands is the builtin command allowlist: interpreters,
// test runners, version control, search/text utilities, and package
// managers. Network reach of these commands is not restricted here; see
// Sandbox.NetworkAllowed.
var DefaultAllowedCommands = []string{
	"python", "python3", "pytest", "pip", "pip3", "uv",
	"node", "npm", "npx", "yarn",
	"go", "gofmt", "cargo", "rustc",
	"git",
	"ls", "cat", "head", "tail", "wc", "grep", "rg", "find", "diff", "sort", "uniq",
	"mkdir", "touch", "cp", "mv", "sed", "awk", "echo",
	"make",
}

// Sandbox confines tool execution to one workspace directory. It resolves
// tool paths against the root, refuses escapes, and runs subprocesses from
// a command allowlist with bounded output.
//
// NetworkAllowed is advisory: it controls which tools get registered on a
// pack (web search, browser), not OS-level isolation. Allowlisted commands
// can still reach the network; callers who need hard isolation must run the
// whole process inside a container.
type Sandbox struct {
	root           string
	networkAllowed bool
	allowed        map[string]struct{}
}

// NewSandbox returns a sandbox rooted at root. A nil allowed list selects
// DefaultAllowedCommands.
func NewSandbox(root string, networkAllowed bool, allowed []string) *Sandbox {
	if allowed == nil {
		allowed = DefaultAllowedCommands
	}
	set := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		set[c] = struct{}{}
	}
	return &Sandbox{
		root:           filepath.Clean(root),
		networkAllowed: networkAllowed,
		allowed:        set,
	}
}

// Root returns the absolute workspace root.
func (s *Sandbox) Root() string { return s.root }

// NetworkAllowed reports whether network-bearing tools may be registered.
func (s *Sandbox) NetworkAllowed() bool { return s.networkAllowed }

// CommandAllowed reports whether name passes the allowlist.
func (s *Sandbox) CommandAllowed(name string) bool {
	_, ok := s.allowed[name]
	return ok
}

// SafePath resolves rel against the sandbox root. Absolute paths, ".."
// traversal, and any resolution landing outside the root fail with a
// permission error.
func (s *Sandbox) SafePath(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", Errf(KindPermission, "absolute paths not allowed: %s", rel)
	}
	if strings.Contains(rel, "..") {
		return "", Errf(KindPermission, "path traversal not allowed: %s", rel)
	}
	resolved := filepath.Join(s.root, rel)
	if resolved != s.root && !strings.HasPrefix(resolved, s.root+string(filepath.Separator)) {
		return "", Errf(KindPermission, "path escapes workspace: %s", rel)
	}
	return resolved, nil
}

// CmdResult is the JSON-serialisable outcome of one sandboxed command.
// A timeout is reported as ReturnCode -1 with a synthetic stderr, not as
// an error.
type CmdResult struct {
	Cmd        []string `json:"cmd"`
	ReturnCode int      `json:"returncode"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
}

// RunCmd executes cmd (argv form, no shell) in the workspace with stdout
// and stderr captured and truncated to maxToolOutputChars each. cmd[0]
// must pass the allowlist. A zero timeout selects defaultCmdTimeout.
func (s *Sandbox) RunCmd(ctx context.Context, cmd []string, timeout time.Duration) (CmdResult, error) {
	if len(cmd) == 0 {
		return CmdResult{}, Errf(KindInvalidArgs, "empty command")
	}
	if !s.CommandAllowed(cmd[0]) {
		return CmdResult{}, Errf(KindPermission, "command not in allowlist: %s", cmd[0])
	}
	if timeout <= 0 {
		timeout = defaultCmdTimeout
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(cmdCtx, cmd[0], cmd[1:]...)
	c.Dir = s.root

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()

	res := CmdResult{
		Cmd:    cmd,
		Stdout: truncateStr(stdout.String(), maxToolOutputChars),
		Stderr: truncateStr(stderr.String(), maxToolOutputChars),
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		res.ReturnCode = -1
		res.Stderr = fmt.Sprintf("command timed out after %s", timeout)
		return res, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnCode = exitErr.ExitCode()
			return res, nil
		}
		// Could not start at all (missing binary, fork failure).
		return CmdResult{}, WrapErr(KindIOError, err, "run "+cmd[0])
	}
	return res, nil
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	// Fast path: byte length ≤ n guarantees rune count ≤ n,
	// avoiding the []rune allocation for short/ASCII strings.
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
