package taskforce

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSafePath(t *testing.T) {
	sb := NewSandbox(t.TempDir(), false, nil)

	cases := []struct {
		rel    string
		wantOK bool
	}{
		{"notes.md", true},
		{"sub/dir/file.txt", true},
		{".", true},
		{"/etc/passwd", false},
		{"../outside", false},
		{"sub/../../outside", false},
		{"..", false},
	}
	for _, tc := range cases {
		got, err := sb.SafePath(tc.rel)
		if tc.wantOK {
			if err != nil {
				t.Errorf("SafePath(%q) error = %v, want ok", tc.rel, err)
				continue
			}
			if !strings.HasPrefix(got, sb.Root()) {
				t.Errorf("SafePath(%q) = %q, escapes root %q", tc.rel, got, sb.Root())
			}
		} else {
			if err == nil {
				t.Errorf("SafePath(%q) = %q, want error", tc.rel, got)
				continue
			}
			if KindOf(err) != KindPermission {
				t.Errorf("SafePath(%q) kind = %s, want %s", tc.rel, KindOf(err), KindPermission)
			}
		}
	}
}

func TestCommandAllowlist(t *testing.T) {
	sb := NewSandbox(t.TempDir(), false, nil)
	if !sb.CommandAllowed("git") {
		t.Error("git should pass the default allowlist")
	}
	if sb.CommandAllowed("curl") {
		t.Error("curl should not pass the default allowlist")
	}

	custom := NewSandbox(t.TempDir(), false, []string{"mytool"})
	if !custom.CommandAllowed("mytool") {
		t.Error("custom allowlist entry rejected")
	}
	if custom.CommandAllowed("git") {
		t.Error("custom allowlist must replace, not extend, the default")
	}
}

func TestRunCmdCapturesOutput(t *testing.T) {
	sb := NewSandbox(t.TempDir(), false, nil)

	res, err := sb.RunCmd(context.Background(), []string{"echo", "hello sandbox"}, 0)
	if err != nil {
		t.Fatalf("RunCmd: %v", err)
	}
	if res.ReturnCode != 0 {
		t.Errorf("ReturnCode = %d, want 0", res.ReturnCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello sandbox" {
		t.Errorf("Stdout = %q, want hello sandbox", res.Stdout)
	}
}

func TestRunCmdRejectsDisallowedCommand(t *testing.T) {
	sb := NewSandbox(t.TempDir(), false, nil)

	_, err := sb.RunCmd(context.Background(), []string{"curl", "http://example.com"}, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if KindOf(err) != KindPermission {
		t.Errorf("KindOf = %s, want %s", KindOf(err), KindPermission)
	}

	_, err = sb.RunCmd(context.Background(), nil, 0)
	if KindOf(err) != KindInvalidArgs {
		t.Errorf("empty command kind = %s, want %s", KindOf(err), KindInvalidArgs)
	}
}

func TestRunCmdNonZeroExitIsNotAnError(t *testing.T) {
	sb := NewSandbox(t.TempDir(), false, nil)

	res, err := sb.RunCmd(context.Background(), []string{"grep", "needle", "absent.txt"}, 0)
	if err != nil {
		t.Fatalf("RunCmd: %v", err)
	}
	if res.ReturnCode == 0 {
		t.Errorf("ReturnCode = 0, want non-zero for missing file")
	}
}

func TestRunCmdTimeout(t *testing.T) {
	sb := NewSandbox(t.TempDir(), false, nil)

	start := time.Now()
	res, err := sb.RunCmd(context.Background(),
		[]string{"python3", "-c", "import time; time.sleep(10)"}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("RunCmd: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not take effect")
	}
	if res.ReturnCode != -1 {
		t.Errorf("ReturnCode = %d, want -1 for timeout", res.ReturnCode)
	}
	if !strings.Contains(res.Stderr, "timed out") {
		t.Errorf("Stderr = %q, want timeout message", res.Stderr)
	}
}

func TestTruncateStr(t *testing.T) {
	if got := truncateStr("short", 10); got != "short" {
		t.Errorf("truncateStr short = %q", got)
	}
	if got := truncateStr("abcdefgh", 3); got != "abc" {
		t.Errorf("truncateStr = %q, want abc", got)
	}
	// Rune-aware: multibyte characters are not split.
	if got := truncateStr("héllo wörld", 5); got != "héllo" {
		t.Errorf("truncateStr multibyte = %q, want héllo", got)
	}
}
