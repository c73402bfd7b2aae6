package sandbox

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
)

// Exit codes reserved for failures that happen before or instead of the
// child process. Real commands never produce negative codes.
const (
	ExitRejected     = -2 // sanitizer refused the command, nothing spawned
	ExitSpawnFailure = -1 // process could not be started
)

// Result is the complete outcome of one command. Output is captured in
// full; nothing is streamed.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Executor runs sanitized commands in a login shell, dropping privileges
// to a dedicated user via sudo when available.
type Executor struct {
	policy   SanitizePolicy
	user     string
	sudoPath string // empty = run locally
	shell    string
}

// NewExecutor probes for sudo once and fixes the execution strategy for
// the lifetime of the process. forceLocal bypasses the probe.
func NewExecutor(policy SanitizePolicy, user string, forceLocal bool) *Executor {
	e := &Executor{
		policy: policy,
		user:   user,
		shell:  "bash",
	}
	if !forceLocal {
		if p, err := exec.LookPath("sudo"); err == nil {
			e.sudoPath = p
		} else {
			slog.Debug("sudo not found, commands run as current user")
		}
	}
	return e
}

// Sandboxed reports whether commands run under the privilege-drop wrapper.
func (e *Executor) Sandboxed() bool {
	return e.sudoPath != ""
}

// Execute sanitizes and runs one command, blocking until it finishes or
// ctx is cancelled. Rejected commands never reach a shell.
func (e *Executor) Execute(ctx context.Context, command string) Result {
	if ok, reason := e.policy.Check(command); !ok {
		return Result{Stderr: "Rejected: " + reason, ExitCode: ExitRejected}
	}

	var cmd *exec.Cmd
	if e.sudoPath != "" {
		cmd = exec.CommandContext(ctx, e.sudoPath, "-u", e.user, e.shell, "-lc", command)
	} else {
		cmd = exec.CommandContext(ctx, e.shell, "-lc", command)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res
		}
		// Never spawned: bad shell path, fork failure, cancelled context.
		res.Stderr = err.Error()
		res.ExitCode = ExitSpawnFailure
		return res
	}
	return res
}

// ExecuteAsync runs the command in a goroutine and delivers the result on
// the returned channel. The channel is buffered so the worker never leaks
// if the caller walks away.
func (e *Executor) ExecuteAsync(ctx context.Context, command string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- e.Execute(ctx, command)
		close(out)
	}()
	return out
}
