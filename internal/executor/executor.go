// Package executor runs allow-listed programs on behalf of chat commands.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// MaxOutput caps each of stdout and stderr.
const MaxOutput = 64 * 1024

var (
	ErrNotAllowed = errors.New("command not allowed")
	ErrTimeout    = errors.New("command timed out")
)

// Output is the captured result of one execution.
type Output struct {
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	ExitCode  int    `json:"exitCode"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Executor validates requests against a Policy before handing them to a Runner.
type Executor struct {
	policy Policy
	runner Runner
	dir    string
	logger zerolog.Logger
}

// New creates an Executor running commands in dir.
func New(policy Policy, runner Runner, dir string, logger zerolog.Logger) *Executor {
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultPolicy().Timeout
	}
	return &Executor{
		policy: policy,
		runner: runner,
		dir:    dir,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// Allowed returns the names of the allow-listed commands.
func (e *Executor) Allowed() []string {
	names := make([]string, len(e.policy.Commands))
	for i, r := range e.policy.Commands {
		names[i] = r.Name
	}
	return names
}

// Check reports whether name and args would be accepted by Execute.
func (e *Executor) Check(name string, args []string) error {
	rule, ok := e.policy.rule(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAllowed, name)
	}
	for _, arg := range args {
		if hasParentSegment(arg) || !rule.allows(arg) {
			return fmt.Errorf("%w: %s %s", ErrNotAllowed, name, arg)
		}
	}
	return nil
}

// Execute runs name with args if the policy allows it.
func (e *Executor) Execute(ctx context.Context, name string, args []string) (Output, error) {
	if err := e.Check(name, args); err != nil {
		e.logger.Warn().Str("command", name).Strs("args", args).Msg("command rejected")
		return Output{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.policy.Timeout)
	defer cancel()

	start := time.Now()
	out, err := e.runner.Run(ctx, e.dir, name, args...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%w after %s", ErrTimeout, e.policy.Timeout)
	}
	if err != nil {
		return out, fmt.Errorf("run %s: %w", name, err)
	}

	e.logger.Info().
		Str("command", name).
		Int("exit_code", out.ExitCode).
		Dur("duration", time.Since(start)).
		Msg("command executed")
	return out, nil
}

func hasParentSegment(arg string) bool {
	for _, seg := range strings.FieldsFunc(arg, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}
