package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GenAIClient calls Gemini through the official genai SDK.
type GenAIClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGenAIClient constructs an SDK-backed client for the Gemini API.
func NewGenAIClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini: missing API key")
	}
	return newGenAIClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, model, timeout)
}

func newGenAIClient(ctx context.Context, cfg *genai.ClientConfig, model string, timeout time.Duration) (*GenAIClient, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create genai client: %w", err)
	}
	return &GenAIClient{
		client:  client,
		model:   normalizeModel(model),
		timeout: timeout,
	}, nil
}

// ChatCompletion sends the conversation and returns the text of the first candidate.
func (c *GenAIClient) ChatCompletion(ctx context.Context, messages []ChatMessage, temperature float64) (string, error) {
	var systemPrompts []string
	var contents []*genai.Content
	for _, msg := range messages {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system":
			systemPrompts = append(systemPrompts, msg.Content)
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", fmt.Errorf("gemini: missing user or assistant messages")
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if len(systemPrompts) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(systemPrompts, "\n\n"), genai.RoleUser)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", classifyGenAIError(err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if trimmed := strings.TrimSpace(part.Text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("gemini candidate missing text")
	}
	return strings.Join(parts, "\n\n"), nil
}

// classifyGenAIError marks rate limits and server errors as retryable.
func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
		return &RetryableError{Provider: "gemini", StatusCode: apiErr.Code, Message: apiErr.Message}
	}
	return err
}
