package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Options{APIKey: "test-key", BaseURL: server.URL}, zerolog.Nop())
}

func TestAskReturnsCompletionText(t *testing.T) {
	var got apiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"claude-test","content":[{"type":"text","text":"Hello"},{"type":"text","text":" world"}],"usage":{"input_tokens":3,"output_tokens":2}}`))
	})

	text, err := client.Ask(context.Background(), "Hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)

	assert.Equal(t, defaultModel, got.Model)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.JSONEq(t, `[{"type":"text","text":"Hi"}]`, string(got.Messages[0].Content))
}

func TestCompleteWithSystemAndImage(t *testing.T) {
	var got apiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"content":[{"type":"text","text":"a cat"}],"usage":{"input_tokens":10,"output_tokens":2}}`))
	})

	temp := 0.2
	comp, err := client.Complete(context.Background(), Request{
		Prompt:      "describe",
		System:      "be brief",
		MaxTokens:   100,
		Temperature: &temp,
		Image:       &Image{Data: "iVBORw0KGgo="},
	})
	require.NoError(t, err)

	assert.Equal(t, "a cat", comp.Text)
	assert.Equal(t, defaultModel, comp.Model)
	assert.Equal(t, 10, comp.InputTokens)
	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, 100, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 0.0001)
	assert.Contains(t, string(got.Messages[0].Content), `"media_type":"image/png"`)
}

func TestProviderErrorCarriesUpstreamMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := client.Ask(context.Background(), "Hi")
	require.Error(t, err)
	assert.True(t, IsProviderError(err))

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "slow down", pe.Message)
}

func TestEmptyContentIsProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	})

	_, err := client.Ask(context.Background(), "Hi")
	assert.True(t, IsProviderError(err))
}

func TestPingWithoutKeyFails(t *testing.T) {
	client := NewClient(Options{}, zerolog.Nop())
	assert.False(t, client.Configured())
	assert.Error(t, client.Ping(context.Background()))
}

func TestDetectMediaType(t *testing.T) {
	cases := map[string]string{
		"/9j/4AAQ":  "image/jpeg",
		"iVBORw0KG": "image/png",
		"R0lGODlh":  "image/gif",
		"UklGRiQA":  "image/webp",
		"something": "image/jpeg",
	}
	for in, want := range cases {
		assert.Equal(t, want, DetectMediaType(in), in)
	}
}
