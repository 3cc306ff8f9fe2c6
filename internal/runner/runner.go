// Package runner executes external system tools with a per-call timeout and
// captures their exit status and output. It never retries.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when the binary is not installed.
	ErrNotFound = errors.New("command not found")
	// ErrTimeout is returned when the per-call timeout expired.
	ErrTimeout = errors.New("command timed out")
)

// Result is the outcome of a command that was started.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports whether the command exited with status 0.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Runner runs a command. A non-zero exit status is reported through
// Result.ExitCode with a nil error; the error is reserved for commands that
// could not run to completion (missing binary, timeout, cancellation).
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// Line renders a command for logs and test matching.
func Line(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

// Exec runs commands with os/exec.
type Exec struct {
	logger *zap.Logger
	// DefaultTimeout applies when Run is called with timeout <= 0.
	DefaultTimeout time.Duration
}

// Compile-time interface guard.
var _ Runner = (*Exec)(nil)

// NewExec returns a Runner backed by os/exec.
func NewExec(logger *zap.Logger) *Exec {
	return &Exec{logger: logger, DefaultTimeout: 10 * time.Second}
}

// Run executes name with args.
func (e *Exec) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}
	if timeout <= 0 {
		timeout = e.DefaultTimeout
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Daemonizing tools (wpa_supplicant -B) keep inherited pipes open.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	res := Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		res.ExitCode = -1
		return res, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		return res, fmt.Errorf("%s after %s: %w", Line(name, args...), timeout, ErrTimeout)
	case errors.Is(err, exec.ErrWaitDelay):
		// The command exited; a background child still holds its output.
		if cmd.ProcessState != nil {
			res.ExitCode = cmd.ProcessState.ExitCode()
		}
	default:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.ExitCode = -1
			return res, fmt.Errorf("run %s: %w", name, err)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	e.logger.Debug("command finished",
		zap.String("cmd", Line(name, args...)),
		zap.Int("exit", res.ExitCode),
		zap.Duration("took", res.Duration),
	)
	return res, nil
}
