// Package shell provides the argv-form shell tool over the sandbox
// allowlist.
package shell

import (
	"context"
	"encoding/json"
	"time"

	taskforce "github.com/nevindra/taskforce"
)

// Tool runs allowlisted commands in the workspace.
type Tool struct {
	sb *taskforce.Sandbox
}

// New creates the shell tool bound to sb.
func New(sb *taskforce.Sandbox) *Tool {
	return &Tool{sb: sb}
}

// Register adds the shell tool to the pack.
func (t *Tool) Register(p *taskforce.BasePack) {
	p.RegisterTool(taskforce.ToolDefinition{
		Name:        "shell",
		Description: "Run a command in the workspace. Takes argv form (no shell interpretation); only allowlisted commands run.",
		Parameters: json.RawMessage(`{"type":"object","properties":{` +
			`"cmd":{"type":"array","items":{"type":"string"},"description":"Command and arguments, e.g. [\"python\",\"script.py\"]"},` +
			`"timeout":{"type":"integer","description":"Timeout in seconds"}},` +
			`"required":["cmd"]}`),
	}, t.run)
}

func (t *Tool) run(ctx context.Context, args map[string]any) (map[string]any, error) {
	cmd, ok := taskforce.StringSliceArg(args, "cmd")
	if !ok {
		return nil, taskforce.Errf(taskforce.KindInvalidArgs, "shell: cmd must be an array of strings")
	}
	secs, _ := taskforce.IntArg(args, "timeout")
	res, err := t.sb.RunCmd(ctx, cmd, time.Duration(secs)*time.Second)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"cmd":        res.Cmd,
		"returncode": res.ReturnCode,
		"stdout":     res.Stdout,
		"stderr":     res.Stderr,
	}, nil
}
