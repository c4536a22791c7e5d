package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/eldtechnologies/rzx/internal/llm"
)

// Usage reports token consumption of a completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionRequest represents a raw text completion request.
type CompletionRequest struct {
	Prompt       string   `json:"prompt"`
	MaxTokens    int      `json:"maxTokens"`
	Temperature  *float64 `json:"temperature"`
	SystemPrompt string   `json:"systemPrompt"`
}

// CompletionResponse represents a raw text completion.
type CompletionResponse struct {
	Success    bool   `json:"success"`
	Completion string `json:"completion"`
	Model      string `json:"model"`
	Usage      Usage  `json:"usage"`
}

// Completion forwards a prompt to the LLM.
func (h *Handler) Completion(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.Error(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1000
	}

	c, err := h.llm.Complete(r.Context(), llm.Request{
		Prompt:      req.Prompt,
		System:      req.SystemPrompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		h.llmError(w, "completion", err)
		return
	}

	h.JSON(w, http.StatusOK, CompletionResponse{
		Success:    true,
		Completion: c.Text,
		Model:      c.Model,
		Usage:      Usage{InputTokens: c.InputTokens, OutputTokens: c.OutputTokens},
	})
}

// AnalysisResponse carries a free-text analysis.
type AnalysisResponse struct {
	Success     bool   `json:"success"`
	Analysis    string `json:"analysis,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Model       string `json:"model"`
}

// AnalyzeImageRequest represents an image question.
type AnalyzeImageRequest struct {
	ImageBase64 string `json:"imageBase64"`
	Question    string `json:"question"`
}

// AnalyzeImage asks the LLM about a base64 encoded image.
func (h *Handler) AnalyzeImage(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeImageRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ImageBase64 == "" {
		h.Error(w, http.StatusBadRequest, "imageBase64 is required")
		return
	}
	question := req.Question
	if question == "" {
		question = "Describe this image in detail."
	}

	c, err := h.llm.Complete(r.Context(), llm.Request{
		Prompt:    question,
		MaxTokens: 1000,
		Image:     &llm.Image{Data: req.ImageBase64},
	})
	if err != nil {
		h.llmError(w, "image analysis", err)
		return
	}
	h.JSON(w, http.StatusOK, AnalysisResponse{Success: true, Analysis: c.Text, Model: c.Model})
}

// CodeRequest represents a code analysis or explanation request.
type CodeRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Question string `json:"question"`
	Level    string `json:"level"`
}

// AnalyzeCode asks the LLM to review a snippet.
func (h *Handler) AnalyzeCode(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		h.Error(w, http.StatusBadRequest, "code is required")
		return
	}
	question := req.Question
	if question == "" {
		question = "Give a detailed analysis of this code, explaining what it does, possible improvements and potential problems."
	}
	prompt := fmt.Sprintf("Analyze the following %s code:\n```\n%s\n```\n\n%s", req.Language, req.Code, question)

	c, err := h.llm.Complete(r.Context(), llm.Request{Prompt: prompt, MaxTokens: 2000})
	if err != nil {
		h.llmError(w, "code analysis", err)
		return
	}
	h.JSON(w, http.StatusOK, AnalysisResponse{Success: true, Analysis: c.Text, Model: c.Model})
}

// ExplainCode asks the LLM for a line by line explanation.
func (h *Handler) ExplainCode(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		h.Error(w, http.StatusBadRequest, "code is required")
		return
	}
	level := req.Level
	if level == "" {
		level = "intermediate"
	}
	prompt := fmt.Sprintf("Explain the following %s code for a %s level programmer:\n```\n%s\n```\n\n"+
		"Give a line by line explanation, highlighting the important concepts and the execution flow.",
		req.Language, level, req.Code)

	c, err := h.llm.Complete(r.Context(), llm.Request{Prompt: prompt, MaxTokens: 2000})
	if err != nil {
		h.llmError(w, "code explanation", err)
		return
	}
	h.JSON(w, http.StatusOK, AnalysisResponse{Success: true, Explanation: c.Text, Model: c.Model})
}

func (h *Handler) llmError(w http.ResponseWriter, op string, err error) {
	h.logger.Error().Err(err).Str("op", op).Msg("llm request failed")
	h.ErrorDetails(w, http.StatusInternalServerError, "error processing "+op, err)
}
