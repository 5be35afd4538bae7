package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient wraps minimal functionality needed for chat completions.
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIClient constructs a client using the provided API key and default model.
func NewOpenAIClient(apiKey, model string, timeout time.Duration) *OpenAIClient {
	if strings.TrimSpace(model) == "" || strings.HasPrefix(model, "gemini") {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultOpenAIBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func (c *OpenAIClient) WithBaseURL(base string) *OpenAIClient {
	c.baseURL = strings.TrimSuffix(base, "/")
	return c
}

// ChatCompletion sends chat messages to OpenAI and returns the first response content.
func (c *OpenAIClient) ChatCompletion(ctx context.Context, messages []ChatMessage, temperature float64) (string, error) {
	payload := map[string]any{
		"model":       c.model,
		"temperature": temperature,
		"messages":    messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal openai payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var failure struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &failure)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &RetryableError{Provider: "openai", StatusCode: resp.StatusCode, Message: failure.Error.Message}
		}
		return "", fmt.Errorf("openai status %d: %s", resp.StatusCode, failure.Error.Message)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return completion.Choices[0].Message.Content, nil
}
