package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/rzx/internal/commands"
	"github.com/eldtechnologies/rzx/internal/events"
	"github.com/eldtechnologies/rzx/internal/handlers"
	"github.com/eldtechnologies/rzx/internal/llm"
	"github.com/eldtechnologies/rzx/internal/models"
	"github.com/eldtechnologies/rzx/internal/projects"
	"github.com/eldtechnologies/rzx/internal/relay"
	"github.com/eldtechnologies/rzx/internal/store"
	"github.com/eldtechnologies/rzx/internal/transcript"
)

type fakeDispatcher struct{}

func (fakeDispatcher) Dispatch(ctx context.Context, content string) (commands.Reply, error) {
	return commands.Reply{Content: "ok", CommandType: commands.TypeChat}, nil
}

type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	return llm.Completion{Text: "done", Model: "m"}, nil
}
func (fakeLLM) Configured() bool { return true }
func (fakeLLM) Model() string    { return "m" }

func newTestRouter(t *testing.T) (http.Handler, string, string) {
	t.Helper()
	dir := t.TempDir()
	projectsDir := filepath.Join(dir, "projects")
	previewsDir := filepath.Join(dir, "previews")

	h := handlers.NewHandler(handlers.Deps{
		Projects:   projects.New(projectsDir, previewsDir, zerolog.Nop()),
		Dispatcher: fakeDispatcher{},
		LLM:        fakeLLM{},
		Events:     events.NewTracker(),
		Documents:  store.NewMemoryStore(),
		Logger:     zerolog.Nop(),
	})
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r := NewRouter(zerolog.Nop(), Options{
		Handler:     h,
		Relay:       ws,
		ProjectsDir: projectsDir,
		PreviewsDir: previewsDir,
	})
	return r, projectsDir, previewsDir
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRoutesAreMounted(t *testing.T) {
	r, _, _ := newTestRouter(t)

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/api", "", http.StatusOK},
		{http.MethodGet, "/api/status", "", http.StatusOK},
		{http.MethodGet, "/api/projects", "", http.StatusOK},
		{http.MethodDelete, "/api/projects/nope", "", http.StatusNotFound},
		{http.MethodPost, "/api/projects/nope/preview", "", http.StatusNotFound},
		{http.MethodPost, "/api/previews", `{"content":"hi","type":"text"}`, http.StatusCreated},
		{http.MethodPost, "/api/message", `{"clientId":"c1","message":"hi"}`, http.StatusOK},
		{http.MethodPost, "/api/project-events", `{"projectId":"p","action":"created"}`, http.StatusOK},
		{http.MethodGet, "/api/project-events/latest", "", http.StatusOK},
		{http.MethodPost, "/api/chats/c1/messages", `{"content":"hi"}`, http.StatusCreated},
		{http.MethodGet, "/api/chats/c1/messages", "", http.StatusOK},
		{http.MethodPost, "/api/llm/completion", `{"prompt":"hi"}`, http.StatusOK},
		{http.MethodPost, "/api/llm/analyze-code", `{"code":"x"}`, http.StatusOK},
		{http.MethodGet, "/ws", "", http.StatusTeapot},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRootDescribesService(t *testing.T) {
	r, _, _ := newTestRouter(t)

	rec := serve(r, http.MethodGet, "/api", "")
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RZX", body["name"])
}

func TestStaticProjectsAndPreviews(t *testing.T) {
	r, projectsDir, previewsDir := newTestRouter(t)

	require.NoError(t, os.MkdirAll(filepath.Join(projectsDir, "demo"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectsDir, "demo", "script.js"), []byte("let a = 1"), 0o644))
	require.NoError(t, os.MkdirAll(previewsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(previewsDir, "page.html"), []byte("<p>hi</p>"), 0o644))

	rec := serve(r, http.MethodGet, "/projects/demo/script.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "let a = 1", rec.Body.String())
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))

	rec = serve(r, http.MethodGet, "/previews/page.html", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<p>hi</p>")

	rec = serve(r, http.MethodGet, "/api/status", "")
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRejectsNonJSONBodies(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/message", strings.NewReader("clientId=c1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/message", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketUpgradeThroughMiddleware(t *testing.T) {
	dir := t.TempDir()
	projectsDir := filepath.Join(dir, "projects")
	previewsDir := filepath.Join(dir, "previews")
	tracker := events.NewTracker()

	h := handlers.NewHandler(handlers.Deps{
		Projects:   projects.New(projectsDir, previewsDir, zerolog.Nop()),
		Dispatcher: fakeDispatcher{},
		LLM:        fakeLLM{},
		Events:     tracker,
		Documents:  store.NewMemoryStore(),
		Logger:     zerolog.Nop(),
	})
	rl := relay.New(zerolog.Nop(), transcript.NewCache(zerolog.Nop(), nil), fakeDispatcher{}, tracker)
	srv := httptest.NewServer(NewRouter(zerolog.Nop(), Options{
		Handler:     h,
		Relay:       rl,
		ProjectsDir: projectsDir,
		PreviewsDir: previewsDir,
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rl.Shutdown(ctx)
		srv.Close()
	})

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	readFrame := func() map[string]json.RawMessage {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&frame))
		return frame
	}

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "identify", "clientId": "c1"}))
	frame := readFrame()
	assert.JSONEq(t, `"history"`, string(frame["type"]))
	assert.JSONEq(t, `[]`, string(frame["messages"]))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "message", "content": "hello"}))
	frame = readFrame()
	assert.JSONEq(t, `"message"`, string(frame["type"]))
	var msg models.ChatMessage
	require.NoError(t, json.Unmarshal(frame["message"], &msg))
	assert.Equal(t, models.SenderAI, msg.Sender)
	assert.Equal(t, "ok", msg.Content)
}
