// Package commands provides the slash command system of the relay.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Result is what a command handler reports back to the chat.
type Result struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message,omitempty"`
	Error       string           `json:"error,omitempty"`
	ProjectID   string           `json:"projectId,omitempty"`
	ProjectPath string           `json:"projectPath,omitempty"`
	Files       []string         `json:"files,omitempty"`
	Projects    []ProjectSummary `json:"projects,omitempty"`
	CommandType string           `json:"commandType,omitempty"`
}

// ProjectSummary is one entry of a project listing.
type ProjectSummary struct {
	ID    string   `json:"id"`
	Path  string   `json:"path"`
	Files []string `json:"files"`
}

// Ok returns a successful result carrying msg.
func Ok(msg string) Result {
	return Result{Success: true, Message: msg}
}

// Fail returns a failed result carrying err.
func Fail(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Render converts the result into the text of an ai chat message.
func (r Result) Render(token string) string {
	var b strings.Builder
	switch {
	case r.Error != "":
		b.WriteString("## Error\n")
		b.WriteString(r.Error)
	case r.Message != "":
		b.WriteString(r.Message)
	default:
		fmt.Fprintf(&b, "Command %s executed successfully.", token)
	}

	if r.ProjectID != "" {
		fmt.Fprintf(&b, "\n\nProject ID: `%s`", r.ProjectID)
	}
	if r.ProjectPath != "" {
		fmt.Fprintf(&b, "\n\nPath: `%s`", r.ProjectPath)
	}
	return b.String()
}

// Handler executes a command. Handlers report failures in the Result.
type Handler func(ctx context.Context, args []string) Result

// Command is a registered slash command.
type Command struct {
	// Token is the command name including the slash (e.g., "/ajuda")
	Token string

	// Type is the stable commandType reported to clients (e.g., "help")
	Type string

	// Description is shown in help
	Description string

	// Usage shows argument syntax (e.g., "/gerar-js <description>")
	Usage string

	Handler Handler
}

// Registry holds the registered commands. It is built once at startup and
// only read afterwards.
type Registry struct {
	commands map[string]Command
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds or replaces a command. Tokens are stored lower-cased and a
// command without a Type reports its token instead.
func (r *Registry) Register(cmd Command) {
	cmd.Token = strings.ToLower(cmd.Token)
	if !strings.HasPrefix(cmd.Token, "/") {
		cmd.Token = "/" + cmd.Token
	}
	if cmd.Type == "" {
		cmd.Type = cmd.Token
	}
	r.commands[cmd.Token] = cmd
}

// Lookup finds a command by token, ignoring case.
func (r *Registry) Lookup(token string) (Command, bool) {
	cmd, ok := r.commands[strings.ToLower(token)]
	return cmd, ok
}

// Commands returns every registered command sorted by token.
func (r *Registry) Commands() []Command {
	list := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		list = append(list, cmd)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Token < list[j].Token })
	return list
}
