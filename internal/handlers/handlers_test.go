package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/rzx/internal/commands"
	"github.com/eldtechnologies/rzx/internal/events"
	"github.com/eldtechnologies/rzx/internal/llm"
	"github.com/eldtechnologies/rzx/internal/models"
	"github.com/eldtechnologies/rzx/internal/projects"
	"github.com/eldtechnologies/rzx/internal/store"
)

type stubDispatcher struct {
	reply commands.Reply
	err   error
	got   []string
}

func (d *stubDispatcher) Dispatch(ctx context.Context, content string) (commands.Reply, error) {
	d.got = append(d.got, content)
	return d.reply, d.err
}

type stubCompleter struct {
	requests []llm.Request
	err      error
}

func (c *stubCompleter) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return llm.Completion{}, c.err
	}
	return llm.Completion{Text: "answer", Model: "test-model", InputTokens: 3, OutputTokens: 5}, nil
}

func (c *stubCompleter) Configured() bool { return true }
func (c *stubCompleter) Model() string    { return "test-model" }

type fixture struct {
	router     http.Handler
	dispatcher *stubDispatcher
	llm        *stubCompleter
	projects   *projects.Materializer
	tracker    *events.Tracker
	docs       *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dispatcher: &stubDispatcher{reply: commands.Reply{Content: "hi there", CommandType: commands.TypeChat}},
		llm:        &stubCompleter{},
		projects:   projects.New(filepath.Join(dir, "projects"), filepath.Join(dir, "previews"), zerolog.Nop()),
		tracker:    events.NewTracker(),
		docs:       store.NewMemoryStore(),
	}
	h := NewHandler(Deps{
		Projects:   f.projects,
		Dispatcher: f.dispatcher,
		LLM:        f.llm,
		Events:     f.tracker,
		Documents:  f.docs,
		Logger:     zerolog.Nop(),
	})

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Get("/api", h.Root)
	r.Get("/api/status", h.Status)
	r.Post("/api/message", h.PostMessage)
	r.Get("/api/projects", h.ListProjects)
	r.Delete("/api/projects/{id}", h.DeleteProject)
	r.Post("/api/projects/{id}/preview", h.CreateProjectPreview)
	r.Post("/api/previews", h.CreatePreview)
	r.Post("/api/project-events", h.NotifyProjectEvent)
	r.Get("/api/project-events/latest", h.LatestProjectEvent)
	r.Get("/api/chats/{clientId}/messages", h.ListChatMessages)
	r.Post("/api/chats/{clientId}/messages", h.AppendChatMessage)
	r.Post("/api/llm/completion", h.Completion)
	r.Post("/api/llm/analyze-image", h.AnalyzeImage)
	r.Post("/api/llm/analyze-code", h.AnalyzeCode)
	r.Post("/api/llm/explain-code", h.ExplainCode)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Contains(t, checks, "llm")
	assert.Contains(t, checks, "documents")
	assert.NotContains(t, checks, "redis")

	rec, body = f.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "online", body["status"])
	assert.EqualValues(t, 0, body["connections"])

	_, body = f.do(t, http.MethodGet, "/api", nil)
	assert.Equal(t, "RZX", body["name"])
	assert.Equal(t, "/ws", body["ws"])
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/message", map[string]string{"clientId": "c1", "message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "hi there", body["response"])
	assert.Equal(t, commands.TypeChat, body["commandType"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, []string{"hello"}, f.dispatcher.got)
}

func TestPostMessageAcceptsUserIDAlias(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.reply = commands.Reply{
		Content:     "done",
		CommandType: commands.TypeCreateProject,
		Result:      &commands.Result{Success: true, ProjectID: "js-project-1"},
	}

	rec, body := f.do(t, http.MethodPost, "/api/message", map[string]string{"userId": "u1", "message": "/gerar-js clock"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "js-project-1", body["projectId"])
	assert.Equal(t, commands.TypeCreateProject, body["commandType"])
}

func TestPostMessageCommandFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.reply = commands.Reply{
		Content:     "## Error\nProvide a description of the JavaScript project",
		CommandType: commands.TypeCreateProject,
		Result:      &commands.Result{Success: false, Error: "Provide a description of the JavaScript project"},
	}

	rec, body := f.do(t, http.MethodPost, "/api/message", map[string]string{"clientId": "c1", "message": "/gerar-js"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "command failed", body["error"])
	assert.Equal(t, "Provide a description of the JavaScript project", body["details"])
	assert.Equal(t, commands.TypeCreateProject, body["commandType"])
	assert.Contains(t, body["response"], "## Error")
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t)

	for name, payload := range map[string]any{
		"missing client":  map[string]string{"message": "hello"},
		"missing message": map[string]string{"clientId": "c1"},
		"blank message":   map[string]string{"clientId": "c1", "message": "   "},
	} {
		t.Run(name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodPost, "/api/message", payload)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, body["success"])
		})
	}

	rec, _ := f.do(t, http.MethodPost, "/api/message", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.dispatcher.got)
}

func TestPostMessageDispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.err = &llm.ProviderError{StatusCode: 529, Message: "overloaded"}

	rec, body := f.do(t, http.MethodPost, "/api/message", map[string]string{"clientId": "c1", "message": "hello"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error processing message", body["error"])
	assert.Contains(t, body["details"], "overloaded")
}

func createProject(t *testing.T, f *fixture, name string, withIndex bool) string {
	t.Helper()
	files := []models.ProjectFile{{Path: "script.js", Content: "console.log(1)"}}
	if withIndex {
		files = append(files, models.ProjectFile{Path: "index.html", Content: "<title>Demo</title>"})
	}
	created, err := f.projects.Create(name, "web", files)
	require.NoError(t, err)
	return created.ID
}

func TestListAndDeleteProjects(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/api/projects", nil)
	assert.Equal(t, true, body["success"])
	assert.Empty(t, body["projects"])

	id := createProject(t, f, "demo", true)
	_, body = f.do(t, http.MethodGet, "/api/projects", nil)
	list := body["projects"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].(map[string]any)["id"])

	rec, _ := f.do(t, http.MethodDelete, "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	ev, ok := f.tracker.Latest()
	require.True(t, ok)
	assert.Equal(t, id, ev.ProjectID)
	assert.Equal(t, models.ProjectDeleted, ev.Action)

	rec, _ = f.do(t, http.MethodDelete, "/api/projects/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, "/api/projects/..", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateProjectPreview(t *testing.T) {
	f := newFixture(t)
	id := createProject(t, f, "site", true)

	rec, body := f.do(t, http.MethodPost, "/api/projects/"+id+"/preview", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Regexp(t, `^/previews/preview-\d+-`, body["previewUrl"])
	_, err := os.Stat(filepath.Join(body["previewPath"].(string), "index.html"))
	assert.NoError(t, err)

	rec, _ = f.do(t, http.MethodPost, "/api/projects/missing-1/preview", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	noIndex := createProject(t, f, "bare", false)
	rec, _ = f.do(t, http.MethodPost, "/api/projects/"+noIndex+"/preview", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateRawPreview(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/previews", map[string]string{"content": "<p>x</p>", "filename": "page.html"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/previews/page.html", body["previewUrl"])
	data, err := os.ReadFile(filepath.Join(f.projects.PreviewsDir(), "page.html"))
	require.NoError(t, err)
	assert.Equal(t, "<p>x</p>", string(data))

	rec, _ = f.do(t, http.MethodPost, "/api/previews", map[string]string{"content": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/previews", map[string]string{"content": "x", "filename": "../escape.html"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectEvents(t *testing.T) {
	f := newFixture(t)

	_, body := f.do(t, http.MethodGet, "/api/project-events/latest", nil)
	assert.Equal(t, true, body["success"])
	assert.Nil(t, body["event"])

	rec, _ := f.do(t, http.MethodPost, "/api/project-events", map[string]string{"projectId": "p1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/api/project-events", map[string]any{
		"projectId": "p1",
		"action":    "modified",
		"details":   map[string]any{"file": "index.html"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["timestamp"])

	_, body = f.do(t, http.MethodGet, "/api/project-events/latest", nil)
	ev := body["event"].(map[string]any)
	assert.Equal(t, "p1", ev["projectId"])
	assert.Equal(t, "modified", ev["action"])
	assert.Equal(t, "index.html", ev["details"].(map[string]any)["file"])
}

func TestChatMessages(t *testing.T) {
	f := newFixture(t)

	for _, content := range []string{"one", "two", "three"} {
		rec, body := f.do(t, http.MethodPost, "/api/chats/c1/messages", map[string]string{"content": content})
		require.Equal(t, http.StatusCreated, rec.Code)
		doc := body["document"].(map[string]any)
		assert.NotEmpty(t, doc["id"])
	}
	rec, _ := f.do(t, http.MethodPost, "/api/chats/c1/messages", map[string]string{"content": "x", "sender": "robot"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/api/chats/c1/messages", map[string]string{"content": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := f.do(t, http.MethodGet, "/api/chats/c1/messages?limit=2&orderBy=timestamp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)

	var second models.ChatMessage
	raw, err := json.Marshal(msgs[1].(map[string]any)["data"])
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &second))
	assert.Equal(t, "three", second.Content)
	assert.Equal(t, models.SenderUser, second.Sender)

	rec, _ = f.do(t, http.MethodGet, "/api/chats/c1/messages?orderBy=id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/api/chats/c1/messages?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body = f.do(t, http.MethodGet, "/api/chats/other/messages", nil)
	assert.Empty(t, body["messages"])
}

func TestCompletion(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/llm/completion", map[string]any{"prompt": "hi", "systemPrompt": "be brief"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answer", body["completion"])
	assert.Equal(t, "test-model", body["model"])
	usage := body["usage"].(map[string]any)
	assert.EqualValues(t, 3, usage["input_tokens"])
	assert.EqualValues(t, 5, usage["output_tokens"])

	require.Len(t, f.llm.requests, 1)
	assert.Equal(t, 1000, f.llm.requests[0].MaxTokens)
	assert.Equal(t, "be brief", f.llm.requests[0].System)

	rec, _ = f.do(t, http.MethodPost, "/api/llm/completion", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompletionProviderError(t *testing.T) {
	f := newFixture(t)
	f.llm.err = errors.New("upstream down")

	rec, body := f.do(t, http.MethodPost, "/api/llm/completion", map[string]any{"prompt": "hi"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "upstream down", body["details"])
}

func TestAnalyzeImage(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/llm/analyze-image", map[string]any{"imageBase64": "iVBORw0KGgo="})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answer", body["analysis"])
	require.Len(t, f.llm.requests, 1)
	assert.Equal(t, "Describe this image in detail.", f.llm.requests[0].Prompt)
	require.NotNil(t, f.llm.requests[0].Image)

	rec, _ = f.do(t, http.MethodPost, "/api/llm/analyze-image", map[string]any{"question": "what?"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeAndExplainCode(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/llm/analyze-code", map[string]any{"code": "x := 1", "language": "go"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answer", body["analysis"])
	assert.Contains(t, f.llm.requests[0].Prompt, "Analyze the following go code:\n```\nx := 1\n```")
	assert.Equal(t, 2000, f.llm.requests[0].MaxTokens)

	rec, body = f.do(t, http.MethodPost, "/api/llm/explain-code", map[string]any{"code": "x := 1", "language": "go"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answer", body["explanation"])
	assert.Contains(t, f.llm.requests[1].Prompt, "intermediate")

	rec, _ = f.do(t, http.MethodPost, "/api/llm/analyze-code", map[string]any{"language": "go"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/api/llm/explain-code", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
