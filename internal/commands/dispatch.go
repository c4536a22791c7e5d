package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rzx/internal/llm"
	"github.com/eldtechnologies/rzx/internal/metrics"
)

// UnknownPolicy decides what happens to a slash token that is not registered.
type UnknownPolicy int

const (
	// PolicyForward sends the whole text to the LLM (chat relay).
	PolicyForward UnknownPolicy = iota
	// PolicyReject answers with a "command not recognized" reply (HTTP single-shot).
	PolicyReject
)

// Reply is the outcome of dispatching one user message.
type Reply struct {
	Content     string
	CommandType string
	// Result is set when a command ran.
	Result *Result
}

// Dispatcher routes user text to a command or to the LLM.
type Dispatcher struct {
	Registry *Registry
	LLM      llm.Asker
	Policy   UnknownPolicy
	Logger   zerolog.Logger
}

// Dispatch handles content. The only error returned is an LLM failure on the
// chat path; command failures are carried in the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, content string) (Reply, error) {
	if strings.HasPrefix(content, "/") {
		fields := strings.Fields(content)
		token := strings.ToLower(fields[0])

		if cmd, ok := d.Registry.Lookup(token); ok {
			d.Logger.Info().Str("command", token).Msg("executing command")
			res := cmd.Handler(ctx, fields[1:])

			outcome := "success"
			if !res.Success {
				outcome = "failure"
			}
			metrics.CommandsExecuted.WithLabelValues(token, outcome).Inc()

			// Success or failure, a command always reports its own type
			res.CommandType = cmd.Type
			return Reply{Content: res.Render(token), CommandType: cmd.Type, Result: &res}, nil
		}

		if d.Policy == PolicyReject {
			metrics.CommandsExecuted.WithLabelValues("unknown", "rejected").Inc()
			return Reply{
				Content:     fmt.Sprintf("Command not recognized: %s\nUse /ajuda to see the available commands.", token),
				CommandType: TypeUnknown,
			}, nil
		}
	}

	text, err := d.LLM.Ask(ctx, content)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: text, CommandType: TypeChat}, nil
}
