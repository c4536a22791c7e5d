package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	osexec "os/exec"
	"strings"
)

// Runner executes a single program without a shell.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) (Output, error)
}

// OSRunner implements Runner using os/exec.
type OSRunner struct {
	// Env overrides the child environment (nil = minimal PATH/HOME/LANG)
	Env []string
}

// NewOSRunner creates a new OS-based command runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run executes name in dir. A non-zero exit is reported in Output, not as an error.
func (r *OSRunner) Run(ctx context.Context, dir, name string, args ...string) (Output, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = r.Env
	if cmd.Env == nil {
		cmd.Env = minimalEnv()
	}

	stdout := &capWriter{limit: MaxOutput}
	stderr := &capWriter{limit: MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	out := Output{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}

	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}

func minimalEnv() []string {
	env := []string{}
	for _, key := range []string{"PATH", "HOME", "LANG"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// capWriter keeps the first limit bytes and silently drops the rest.
type capWriter struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = w.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}

func (w *capWriter) String() string {
	return strings.ToValidUTF8(w.buf.String(), "")
}
