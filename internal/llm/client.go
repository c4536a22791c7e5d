// Package llm wraps the hosted model behind a single "ask" operation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rzx/internal/metrics"
)

const (
	anthropicVersion = "2023-06-01"
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-7-sonnet-20250219"
	defaultMaxTokens = 4000
)

// Asker is the subset of the client the relay and commands depend on.
type Asker interface {
	Ask(ctx context.Context, prompt string) (string, error)
}

// ProviderError is returned when the upstream API rejects a request.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return "llm provider: " + e.Message
	}
	return fmt.Sprintf("llm provider (%d): %s", e.StatusCode, e.Message)
}

// IsProviderError reports whether err came from the provider.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// Image is a base64 payload sent alongside the prompt.
type Image struct {
	MediaType string // detected from the payload when empty
	Data      string
}

// Message is a raw conversation turn for multimodal requests.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Request describes a single completion call.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature *float64
	Image       *Image
	Messages    []Message // overrides Prompt/Image when set
}

// Completion is the provider's answer.
type Completion struct {
	Text         string `json:"completion"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Options configures a Client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// Client talks to the Anthropic Messages API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	http        *http.Client
	logger      zerolog.Logger
}

// NewClient creates a client with defaults filled in.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	c := &Client{
		apiKey:      opts.APIKey,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		http:        opts.HTTPClient,
		logger:      logger.With().Str("component", "llm").Logger(),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// Model returns the fixed model identifier.
func (c *Client) Model() string { return c.model }

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

// Ask sends prompt with the default parameters and returns the completion text.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	comp, err := c.Complete(ctx, Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return comp.Text, nil
}

// Ping verifies the provider answers; used as the startup check.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return &ProviderError{Message: "API key not configured"}
	}
	_, err := c.Complete(ctx, Request{Prompt: "Hello, just confirming you are working.", MaxTokens: 10})
	return err
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Messages    []Message `json:"messages"`
}

type apiResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) buildMessages(req Request) ([]Message, error) {
	if len(req.Messages) > 0 {
		return req.Messages, nil
	}

	var blocks []contentBlock
	if req.Image != nil {
		mediaType := req.Image.MediaType
		if mediaType == "" {
			mediaType = DetectMediaType(req.Image.Data)
		}
		blocks = append(blocks, contentBlock{
			Type:   "image",
			Source: &imageSource{Type: "base64", MediaType: mediaType, Data: req.Image.Data},
		})
	}
	blocks = append(blocks, contentBlock{Type: "text", Text: req.Prompt})

	content, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	return []Message{{Role: "user", Content: content}}, nil
}

// Complete performs one non-streaming completion.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	start := time.Now()
	comp, err := c.complete(ctx, req)

	outcome := "success"
	if err != nil {
		outcome = "error"
		c.logger.Warn().Err(err).Dur("latency", time.Since(start)).Msg("completion failed")
	} else {
		c.logger.Debug().
			Int("prompt_chars", len(req.Prompt)).
			Int("response_chars", len(comp.Text)).
			Dur("latency", time.Since(start)).
			Msg("completion received")
	}
	metrics.LLMRequests.WithLabelValues(outcome).Inc()
	metrics.LLMLatency.Observe(time.Since(start).Seconds())

	return comp, err
}

func (c *Client) complete(ctx context.Context, req Request) (Completion, error) {
	msgs, err := c.buildMessages(req)
	if err != nil {
		return Completion{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temperature := req.Temperature
	if temperature == nil {
		t := c.temperature
		temperature = &t
	}

	payload, err := json.Marshal(apiRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Temperature: temperature,
		Messages:    msgs,
	})
	if err != nil {
		return Completion{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Completion{}, &ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, &ProviderError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return Completion{}, &ProviderError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Completion{}, &ProviderError{StatusCode: resp.StatusCode, Message: "invalid response: " + err.Error()}
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Completion{}, &ProviderError{StatusCode: resp.StatusCode, Message: "empty response"}
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Text:         text.String(),
		Model:        model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

// DetectMediaType guesses an image type from its base64 prefix.
func DetectMediaType(data string) string {
	switch {
	case strings.HasPrefix(data, "/9j/"):
		return "image/jpeg"
	case strings.HasPrefix(data, "iVBORw0"):
		return "image/png"
	case strings.HasPrefix(data, "R0lGOD"):
		return "image/gif"
	case strings.HasPrefix(data, "UklGR"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
