package rzx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonHandler(status int, body any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "c1")
}

func TestSendMessage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/message", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "c1", req["clientId"])
		assert.Equal(t, "/listar-projetos", req["message"])
		jsonHandler(http.StatusOK, map[string]any{
			"success":     true,
			"response":    "No projects found.",
			"commandType": "list-projects",
		})(w, r)
	})
	c := newTestClient(t, mux)

	reply, err := c.SendMessage(context.Background(), "/listar-projetos")
	require.NoError(t, err)
	assert.Equal(t, "list-projects", reply.CommandType)
	assert.Equal(t, "No projects found.", reply.Response)
}

func TestAPIErrorCarriesDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/message", jsonHandler(http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   "error processing message",
		"details": "llm provider (529): overloaded",
	}))
	mux.HandleFunc("DELETE /api/projects/{id}", jsonHandler(http.StatusNotFound, map[string]any{"error": "project not found"}))
	c := newTestClient(t, mux)

	_, err := c.SendMessage(context.Background(), "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "overloaded")

	err = c.DeleteProject(context.Background(), "missing")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestProjectsAndPreview(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/projects", jsonHandler(http.StatusOK, map[string]any{
		"success":  true,
		"projects": []Project{{ID: "demo-1", Name: "demo", Files: []string{"index.html"}}},
	}))
	mux.HandleFunc("POST /api/projects/{id}/preview", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo-1", r.PathValue("id"))
		jsonHandler(http.StatusCreated, map[string]any{
			"success":     true,
			"previewId":   "preview-1",
			"previewUrl":  "/previews/preview-1/",
			"previewPath": "/tmp/preview-1",
		})(w, r)
	})
	mux.HandleFunc("DELETE /api/projects/{id}", jsonHandler(http.StatusOK, map[string]any{"success": true}))
	c := newTestClient(t, mux)
	ctx := context.Background()

	list, err := c.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "demo-1", list[0].ID)

	preview, err := c.CreatePreview(ctx, "demo-1")
	require.NoError(t, err)
	assert.Equal(t, "/previews/preview-1/", preview.URL)

	assert.NoError(t, c.DeleteProject(ctx, "demo-1"))
}

func TestProjectEvents(t *testing.T) {
	var got ProjectEvent
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/project-events", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		jsonHandler(http.StatusOK, map[string]any{"success": true})(w, r)
	})
	mux.HandleFunc("GET /api/project-events/latest", jsonHandler(http.StatusOK, map[string]any{"success": true, "event": nil}))
	c := newTestClient(t, mux)
	ctx := context.Background()

	require.NoError(t, c.NotifyProjectEvent(ctx, ProjectEvent{ProjectID: "p1", Action: "modified"}))
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, "modified", got.Action)

	ev, err := c.LatestProjectEvent(ctx)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/chats/{clientId}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c1", r.PathValue("clientId"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "timestamp", r.URL.Query().Get("orderBy"))
		jsonHandler(http.StatusOK, map[string]any{
			"success": true,
			"messages": []Document{
				{ID: "a", Data: Message{Content: "one", Sender: "user"}},
				{ID: "b", Data: Message{Content: "two", Sender: "ai"}},
			},
		})(w, r)
	})
	mux.HandleFunc("POST /api/chats/{clientId}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		jsonHandler(http.StatusCreated, map[string]any{
			"success":  true,
			"document": Document{ID: "d1", Path: "chats/c1", Data: Message{Content: req["content"]}},
		})(w, r)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	msgs, err := c.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "ai", msgs[1].Sender)

	doc, err := c.AppendHistory(ctx, "offline note")
	require.NoError(t, err)
	assert.Equal(t, "chats/c1", doc.Path)
	assert.Equal(t, "offline note", doc.Data.Content)
}
