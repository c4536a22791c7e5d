package commands

import (
	"context"
	"errors"
	"fmt"
	"html"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/eldtechnologies/rzx/internal/executor"
	"github.com/eldtechnologies/rzx/internal/llm"
	"github.com/eldtechnologies/rzx/internal/models"
	"github.com/eldtechnologies/rzx/internal/projects"
)

// Command types reported to HTTP clients.
const (
	TypeCreateProject = "create-project"
	TypeListProjects  = "list-projects"
	TypeHelp          = "help"
	TypeExecute       = "execute"
	TypeChat          = "chat"
	TypeUnknown       = "unknown-command"
)

const noProjectsMessage = "No projects found. Use /gerar-js to create your first project!"

// ProjectStore is the part of the materializer the commands need.
type ProjectStore interface {
	Create(name, typ string, files []models.ProjectFile) (projects.Created, error)
	List() ([]models.ProjectRecord, error)
	ProjectsDir() string
}

// EventRecorder receives project events produced by commands.
type EventRecorder interface {
	Record(ev models.ProjectEvent) models.ProjectEvent
}

// CommandRunner executes allow-listed programs.
type CommandRunner interface {
	Execute(ctx context.Context, name string, args []string) (executor.Output, error)
	Allowed() []string
}

// Deps are the collaborators of the built-in commands. Events and Executor may be nil.
type Deps struct {
	Projects ProjectStore
	LLM      llm.Asker
	Events   EventRecorder
	Executor CommandRunner
	Now      func() time.Time
}

// Builtins returns a registry holding the built-in commands.
func Builtins(deps Deps) *Registry {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := New()

	r.Register(Command{
		Token:       "/gerar-js",
		Type:        TypeCreateProject,
		Description: "Generates a new JavaScript project from a description",
		Usage:       "/gerar-js <description>",
		Handler:     generateJS(deps),
	})
	r.Register(Command{
		Token:       "/listar-projetos",
		Type:        TypeListProjects,
		Description: "Lists all available projects",
		Usage:       "/listar-projetos",
		Handler:     listProjects(deps),
	})
	if deps.Executor != nil {
		r.Register(Command{
			Token:       "/executar",
			Type:        TypeExecute,
			Description: "Runs an allow-listed command on the server",
			Usage:       "/executar <command> [args...]",
			Handler:     execute(deps),
		})
	}
	r.Register(Command{
		Token:       "/ajuda",
		Type:        TypeHelp,
		Description: "Shows this help message",
		Usage:       "/ajuda",
		Handler:     help(r),
	})

	return r
}

func generateJS(deps Deps) Handler {
	return func(ctx context.Context, args []string) Result {
		if len(args) == 0 {
			return Fail("Provide a description of the JavaScript project")
		}
		description := strings.Join(args, " ")

		prompt := fmt.Sprintf(`Write complete JavaScript code that implements: "%s".
Use plain JavaScript only (no external libraries).
The code goes into an app.js file and must manipulate a DOM element with id="app".
Reply with the JavaScript code only, without explanations or extra comments.`, description)

		reply, err := deps.LLM.Ask(ctx, prompt)
		if err != nil {
			return Fail("Error processing command: %v", err)
		}

		name := fmt.Sprintf("js-project-%d", deps.Now().UnixMilli())
		files := scaffold(description)
		files = append(files, models.ProjectFile{Path: "app.js", Content: StripCodeFences(reply)})

		created, err := deps.Projects.Create(name, "web", files)
		if err != nil {
			return Fail("Failed to create project: %v", err)
		}

		if deps.Events != nil {
			deps.Events.Record(models.ProjectEvent{
				ProjectID: created.ID,
				Action:    models.ProjectCreated,
				Details:   map[string]any{"source": "/gerar-js", "description": description},
			})
		}

		paths := make([]string, len(files))
		for i, f := range files {
			paths[i] = f.Path
		}
		return Result{
			Success:     true,
			Message:     "JavaScript project created: " + name,
			ProjectID:   created.ID,
			ProjectPath: created.Path,
			Files:       paths,
		}
	}
}

// scaffold returns the static files of a generated web project.
func scaffold(description string) []models.ProjectFile {
	title := html.EscapeString(description)
	return []models.ProjectFile{
		{
			Path: "index.html",
			Content: `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>` + title + `</title>
  <link rel="stylesheet" href="style.css">
</head>
<body>
  <div class="container">
    <h1>` + title + `</h1>
    <div id="app"></div>
  </div>
  <script src="app.js"></script>
</body>
</html>`,
		},
		{
			Path: "style.css",
			Content: `body {
  font-family: sans-serif;
  line-height: 1.6;
  margin: 0;
  padding: 20px;
  color: #333;
}

.container {
  max-width: 800px;
  margin: 0 auto;
}

h1 {
  color: #0066cc;
  margin-bottom: 20px;
}

#app {
  background: #f7f7f7;
  padding: 20px;
  border-radius: 5px;
  min-height: 200px;
}`,
		},
	}
}

var (
	headingLine  = regexp.MustCompile(`(?m)^# .+`)
	introLine    = regexp.MustCompile(`(?m)^(Here is|Here's|This is the code).+`)
	bareFenceRow = regexp.MustCompile("(?m)^```\\s*$")
)

// StripCodeFences extracts JavaScript from an LLM reply. When a ```javascript
// fence exists the text up to the last ``` is returned; otherwise headings,
// canned intro lines and bare fence lines are dropped.
func StripCodeFences(reply string) string {
	const open = "```javascript"
	start := strings.Index(reply, open)
	end := strings.LastIndex(reply, "```")
	if start != -1 && end > start {
		return strings.TrimSpace(reply[start+len(open) : end])
	}

	clean := headingLine.ReplaceAllString(reply, "")
	clean = introLine.ReplaceAllString(clean, "")
	clean = bareFenceRow.ReplaceAllString(clean, "")
	return strings.TrimSpace(clean)
}

func listProjects(deps Deps) Handler {
	return func(ctx context.Context, args []string) Result {
		records, err := deps.Projects.List()
		if err != nil {
			return Fail("Error listing projects: %v", err)
		}
		if len(records) == 0 {
			return Ok(noProjectsMessage)
		}

		summaries := make([]ProjectSummary, len(records))
		var b strings.Builder
		fmt.Fprintf(&b, "%d project(s) found", len(records))
		for i, rec := range records {
			summaries[i] = ProjectSummary{
				ID:    rec.ID,
				Path:  filepath.Join(deps.Projects.ProjectsDir(), rec.ID),
				Files: rec.Files,
			}
			fmt.Fprintf(&b, "\n- **%s** (%s): %s", rec.ID, rec.Type, strings.Join(rec.Files, ", "))
		}

		return Result{
			Success:     true,
			Message:     b.String(),
			Projects:    summaries,
		}
	}
}

func execute(deps Deps) Handler {
	return func(ctx context.Context, args []string) Result {
		if len(args) == 0 {
			return Fail("Provide a command. Allowed: %s", strings.Join(deps.Executor.Allowed(), ", "))
		}

		out, err := deps.Executor.Execute(ctx, args[0], args[1:])
		if err != nil {
			if errors.Is(err, executor.ErrNotAllowed) {
				return Fail("%v. Allowed: %s", err, strings.Join(deps.Executor.Allowed(), ", "))
			}
			return Fail("%v", err)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "```\n$ %s\n", strings.Join(args, " "))
		b.WriteString(out.Stdout)
		if out.Stderr != "" {
			b.WriteString("\nSTDERR:\n")
			b.WriteString(out.Stderr)
		}
		fmt.Fprintf(&b, "\n```\nExit code: %d", out.ExitCode)

		return Result{
			Success:     out.ExitCode == 0,
			Message:     b.String(),
		}
	}
}

func help(r *Registry) Handler {
	return func(ctx context.Context, args []string) Result {
		var b strings.Builder
		b.WriteString("# Available commands:\n")
		for _, cmd := range r.Commands() {
			fmt.Fprintf(&b, "\n- **%s** - %s", cmd.Usage, cmd.Description)
		}
		b.WriteString("\n\nExamples:\n- /gerar-js word counter\n- /gerar-js tic-tac-toe game\n- /gerar-js temperature converter")

		return Ok(b.String())
	}
}
