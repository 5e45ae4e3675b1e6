// Package tester provides the run_tests tool: framework detection, test
// execution through the sandbox, and output parsing into a uniform result.
package tester

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	taskforce "github.com/nevindra/taskforce"
)

const defaultTestTimeout = 300 // seconds

// Tool runs a project's test suite in the workspace.
type Tool struct {
	sb *taskforce.Sandbox
}

// New creates the tester tool bound to sb.
func New(sb *taskforce.Sandbox) *Tool {
	return &Tool{sb: sb}
}

// Register adds run_tests to the pack.
func (t *Tool) Register(p *taskforce.BasePack) {
	p.RegisterTool(taskforce.ToolDefinition{
		Name:        "run_tests",
		Description: "Run the project test suite. Auto-detects the framework (cargo, npm, pytest, unittest) from workspace manifests unless one is given.",
		Parameters: json.RawMessage(`{"type":"object","properties":{` +
			`"framework":{"type":"string","enum":["auto","pytest","unittest","cargo","npm"],"description":"Test framework; auto detects from manifests"},` +
			`"path":{"type":"string","description":"Test file or directory relative to workspace"},` +
			`"timeout":{"type":"integer","description":"Timeout in seconds"}}}`),
	}, t.runTests)
}

func (t *Tool) runTests(ctx context.Context, args map[string]any) (map[string]any, error) {
	framework, _ := taskforce.StringArg(args, "framework")
	if framework == "" || framework == "auto" {
		framework = t.detect()
	}
	path, _ := taskforce.StringArg(args, "path")
	if path != "" {
		if _, err := t.sb.SafePath(path); err != nil {
			return nil, err
		}
	}
	secs, ok := taskforce.IntArg(args, "timeout")
	if !ok || secs <= 0 {
		secs = defaultTestTimeout
	}

	cmd := commandFor(framework, path)
	res, err := t.sb.RunCmd(ctx, cmd, time.Duration(secs)*time.Second)
	if err != nil {
		return nil, err
	}

	output := strings.TrimSpace(res.Stdout + "\n" + res.Stderr)
	passedCount, failed, errs := parseCounts(framework, output)

	passed := res.ReturnCode == 0
	if !passed && failed == 0 && errs == 0 {
		// Non-zero exit with nothing parsed: collection error, missing
		// runner, or a crash before any test ran.
		errs = 1
	}

	return map[string]any{
		"passed":       passed,
		"failed_count": failed,
		"error_count":  errs,
		"summary":      summarise(framework, passed, passedCount, failed, errs),
		"output":       output,
		"framework":    framework,
	}, nil
}

// detect scans workspace manifests in priority order.
func (t *Tool) detect() string {
	root := t.sb.Root()
	if fileExists(filepath.Join(root, "Cargo.toml")) {
		return "cargo"
	}
	if pkg, err := os.ReadFile(filepath.Join(root, "package.json")); err == nil {
		var m struct {
			Scripts map[string]string `json:"scripts"`
		}
		if json.Unmarshal(pkg, &m) == nil && m.Scripts["test"] != "" {
			return "npm"
		}
	}
	if hasPytestMarkers(root) {
		return "pytest"
	}
	return "pytest"
}

// hasPytestMarkers checks the conventional pytest configuration locations
// and file naming patterns.
func hasPytestMarkers(root string) bool {
	if fileExists(filepath.Join(root, "pytest.ini")) {
		return true
	}
	if data, err := os.ReadFile(filepath.Join(root, "pyproject.toml")); err == nil &&
		strings.Contains(string(data), "[tool.pytest.ini_options]") {
		return true
	}
	if data, err := os.ReadFile(filepath.Join(root, "setup.cfg")); err == nil &&
		strings.Contains(string(data), "[tool:pytest]") {
		return true
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return false
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "test_") && strings.HasSuffix(name, ".py") {
			return true
		}
		if strings.HasSuffix(name, "_test.py") {
			return true
		}
	}
	return false
}

func commandFor(framework, path string) []string {
	switch framework {
	case "cargo":
		return []string{"cargo", "test"}
	case "npm":
		return []string{"npm", "test"}
	case "unittest":
		if path != "" {
			return []string{"python", "-m", "unittest", path}
		}
		return []string{"python", "-m", "unittest", "discover"}
	default: // pytest
		cmd := []string{"python", "-m", "pytest", "-v"}
		if path != "" {
			cmd = append(cmd, path)
		}
		return cmd
	}
}

var (
	pytestCounts  = regexp.MustCompile(`(\d+) (passed|failed|error(?:s)?)`)
	cargoCounts   = regexp.MustCompile(`(\d+) passed; (\d+) failed`)
	unittestRan   = regexp.MustCompile(`Ran (\d+) tests?`)
	unittestFails = regexp.MustCompile(`failures=(\d+)`)
	unittestErrs  = regexp.MustCompile(`errors=(\d+)`)
	jestCounts    = regexp.MustCompile(`Tests:.*?(\d+) failed.*?(\d+) passed|Tests:\s+(\d+) passed`)
)

// parseCounts extracts (passed, failed, errors) from framework output.
// Unparseable output returns zeros; the caller decides what that means.
func parseCounts(framework, output string) (passed, failed, errs int) {
	switch framework {
	case "cargo":
		for _, m := range cargoCounts.FindAllStringSubmatch(output, -1) {
			passed += atoi(m[1])
			failed += atoi(m[2])
		}
	case "npm":
		if m := jestCounts.FindStringSubmatch(output); m != nil {
			if m[3] != "" {
				passed = atoi(m[3])
			} else {
				failed = atoi(m[1])
				passed = atoi(m[2])
			}
		}
	case "unittest":
		if m := unittestRan.FindStringSubmatch(output); m != nil {
			passed = atoi(m[1])
		}
		if m := unittestFails.FindStringSubmatch(output); m != nil {
			failed = atoi(m[1])
			passed -= failed
		}
		if m := unittestErrs.FindStringSubmatch(output); m != nil {
			errs = atoi(m[1])
			passed -= errs
		}
	default: // pytest
		for _, m := range pytestCounts.FindAllStringSubmatch(output, -1) {
			switch {
			case m[2] == "passed":
				passed = atoi(m[1])
			case m[2] == "failed":
				failed = atoi(m[1])
			default:
				errs = atoi(m[1])
			}
		}
	}
	if passed < 0 {
		passed = 0
	}
	return passed, failed, errs
}

func summarise(framework string, ok bool, passed, failed, errs int) string {
	status := "passed"
	if !ok {
		status = "failed"
	}
	return fmt.Sprintf("%s: %s (%d passed, %d failed, %d errors)",
		framework, status, passed, failed, errs)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
