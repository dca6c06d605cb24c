// Package executor runs external commands with output capture, environment
// injection, working-directory scoping, and per-invocation timeouts.
//
// Cancellation is best-effort: when the context is cancelled or the timeout
// elapses, Execute stops waiting and returns, and the process receives a kill
// signal. Child processes spawned by the command are not signalled and may
// continue running to completion.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// MaxCaptureBytes bounds how much of each output stream is retained.
// Anything beyond the bound is discarded, not buffered, so a chatty tool
// cannot grow the service's memory without limit.
const MaxCaptureBytes = 64 * 1024

// Result holds the outcome of a command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runner is the narrow execution interface the stage tooling depends on.
// Tests substitute fakes; production code uses CommandRunner.
type Runner interface {
	Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
}

// Options configures a single command execution.
type Options struct {
	// WorkingDir is the directory the command runs in. Empty means the
	// process working directory.
	WorkingDir string

	// Env holds environment variables appended to the current environment.
	Env map[string]string

	// Timeout bounds the invocation. Zero means no timeout beyond the
	// caller's context.
	Timeout time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithWorkingDir sets the working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) { o.WorkingDir = dir }
}

// WithEnv adds environment variables.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}
		for k, v := range env {
			o.Env[k] = v
		}
	}
}

// WithEnvVar adds a single environment variable.
func WithEnvVar(key, value string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, 1)
		}
		o.Env[key] = value
	}
}

// WithTimeout bounds the invocation duration.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// CommandRunner executes commands via os/exec.
type CommandRunner struct{}

// NewCommandRunner returns a Runner backed by os/exec.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

// Run executes program with args and returns the captured result.
//
// A non-zero exit is not an error: the caller inspects Result.ExitCode and
// Result.Stderr. Run returns an error only when the command could not be
// started, was cancelled, or timed out; on timeout the returned Result has
// TimedOut set alongside whatever output was captured before the deadline.
func (r *CommandRunner) Run(
	ctx context.Context,
	program string,
	args []string,
	opts ...Option,
) (*Result, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	cancel := func() {}
	if options.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(ctx, program, args...)

	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}
	if len(options.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range options.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	stdout := newBoundedBuffer(MaxCaptureBytes)
	stderr := newBoundedBuffer(MaxCaptureBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	switch {
	case err == nil:
		result.ExitCode = 0
		return result, nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.ExitCode = -1
		result.TimedOut = true
		return result, fmt.Errorf("%s timed out after %s: %w", program, duration.Round(time.Millisecond), ctx.Err())
	case errors.Is(ctx.Err(), context.Canceled):
		result.ExitCode = -1
		return result, fmt.Errorf("%s cancelled: %w", program, ctx.Err())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("failed to start %s: %w", program, err)
	}
}

// boundedBuffer keeps the first limit bytes written and silently drops the
// rest, recording that truncation happened.
type boundedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
