package taskforce

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// containerWorkdir is where the run workspace is mounted inside the
// container.
const containerWorkdir = "/workspace"

// ContainerPack reroutes the inner pack's shell tool into a Docker
// container. Open creates and starts a long-lived container with the
// sandbox workspace bind-mounted at /workspace; each intercepted shell call
// becomes a docker exec in it. Every other tool passes through untouched.
//
// Network is disabled inside the container unless the sandbox allows it,
// which gives the shell tool the hard isolation the plain sandbox cannot.
type ContainerPack struct {
	inner  SpecialistPack
	sb     *Sandbox
	image  string
	logger *slog.Logger

	cli         *client.Client
	containerID string
}

var _ SpecialistPack = (*ContainerPack)(nil)

// NewContainerPack wraps inner so its shell tool executes inside a container
// running image. A nil logger discards.
func NewContainerPack(inner SpecialistPack, sb *Sandbox, image string, logger *slog.Logger) *ContainerPack {
	if logger == nil {
		logger = nopLogger
	}
	return &ContainerPack{inner: inner, sb: sb, image: image, logger: logger}
}

func (p *ContainerPack) SpecialistID() string           { return p.inner.SpecialistID() }
func (p *ContainerPack) SystemPrompt() string           { return p.inner.SystemPrompt() }
func (p *ContainerPack) ToolDefinitions() []ToolDefinition {
	return p.inner.ToolDefinitions()
}
func (p *ContainerPack) FinishToolName() string         { return p.inner.FinishToolName() }
func (p *ContainerPack) FinishRequiredFields() []string { return p.inner.FinishRequiredFields() }

func (p *ContainerPack) ValidateFinishPayload(args map[string]any) string {
	return p.inner.ValidateFinishPayload(args)
}

// Open creates and starts the execution container, then opens the inner
// pack. A container that cannot be provisioned fails the open: a pack
// configured for container isolation must not fall back to host execution.
func (p *ContainerPack) Open(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return WrapErr(KindIOError, err, "docker client")
	}
	p.cli = cli

	netMode := "none"
	if p.sb.NetworkAllowed() {
		netMode = "bridge"
	}
	created, err := cli.ContainerCreate(ctx,
		&container.Config{
			Image:      p.image,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: containerWorkdir,
		},
		&container.HostConfig{
			Binds:       []string{p.sb.Root() + ":" + containerWorkdir},
			NetworkMode: container.NetworkMode(netMode),
		},
		nil, nil, "")
	if err != nil {
		return WrapErr(KindIOError, err, "create container")
	}
	p.containerID = created.ID

	if err := cli.ContainerStart(ctx, p.containerID, container.StartOptions{}); err != nil {
		p.removeContainer(ctx)
		return WrapErr(KindIOError, err, "start container")
	}
	p.logger.Info("execution container started",
		"image", p.image, "container", p.containerID[:12], "network", netMode)

	return p.inner.Open(ctx)
}

// Close removes the container and closes the inner pack. Removal is
// best-effort; the inner close error wins only when removal succeeded.
func (p *ContainerPack) Close(ctx context.Context) error {
	var firstErr error
	if p.containerID != "" {
		if err := p.removeContainer(ctx); err != nil {
			p.logger.Warn("container remove failed", "container", p.containerID[:12], "error", err)
			firstErr = err
		}
		p.containerID = ""
	}
	if p.cli != nil {
		_ = p.cli.Close()
		p.cli = nil
	}
	if err := p.inner.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (p *ContainerPack) removeContainer(ctx context.Context) error {
	return p.cli.ContainerRemove(ctx, p.containerID,
		container.RemoveOptions{Force: true})
}

// ExecuteTool intercepts exactly the shell tool; everything else passes to
// the inner pack.
func (p *ContainerPack) ExecuteTool(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if name != "shell" {
		return p.inner.ExecuteTool(ctx, name, args)
	}
	cmd, ok := StringSliceArg(args, "cmd")
	if !ok {
		return nil, Errf(KindInvalidArgs, "shell: cmd must be an array of strings")
	}
	secs, _ := IntArg(args, "timeout")
	timeout := time.Duration(secs) * time.Second
	res, err := p.execInContainer(ctx, cmd, timeout)
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

// execInContainer runs argv inside the container under the same contract as
// Sandbox.RunCmd: allowlist enforced, streams truncated, timeout reported
// as return code -1.
func (p *ContainerPack) execInContainer(ctx context.Context, cmd []string, timeout time.Duration) (CmdResult, error) {
	if len(cmd) == 0 {
		return CmdResult{}, Errf(KindInvalidArgs, "empty command")
	}
	if !p.sb.CommandAllowed(cmd[0]) {
		return CmdResult{}, Errf(KindPermission, "command not in allowlist: %s", cmd[0])
	}
	if p.containerID == "" {
		return CmdResult{}, Errf(KindIOError, "execution container not running")
	}
	if timeout <= 0 {
		timeout = defaultCmdTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := p.cli.ContainerExecCreate(execCtx, p.containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   containerWorkdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return CmdResult{}, WrapErr(KindIOError, err, "exec create")
	}
	attach, err := p.cli.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return CmdResult{}, WrapErr(KindIOError, err, "exec attach")
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)

	res := CmdResult{
		Cmd:    cmd,
		Stdout: truncateStr(stdout.String(), maxToolOutputChars),
		Stderr: truncateStr(stderr.String(), maxToolOutputChars),
	}
	if execCtx.Err() == context.DeadlineExceeded {
		res.ReturnCode = -1
		res.Stderr = fmt.Sprintf("command timed out after %s", timeout)
		return res, nil
	}
	if copyErr != nil {
		return CmdResult{}, WrapErr(KindIOError, copyErr, "exec output")
	}
	insp, err := p.cli.ContainerExecInspect(execCtx, created.ID)
	if err != nil {
		return CmdResult{}, WrapErr(KindIOError, err, "exec inspect")
	}
	res.ReturnCode = insp.ExitCode
	return res, nil
}
