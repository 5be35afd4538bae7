package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// ChatMessage represents a generic chat turn in the prompt history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client defines the behaviour required by the pipeline.
type Client interface {
	ChatCompletion(ctx context.Context, messages []ChatMessage, temperature float64) (string, error)
}

// UserMessage wraps a single request string as the only turn of a conversation.
func UserMessage(prompt string) []ChatMessage {
	return []ChatMessage{{Role: "user", Content: prompt}}
}

// RetryableError marks a transient provider failure (rate limit, overload) worth another attempt.
type RetryableError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable error (status %d): %s", e.Provider, e.StatusCode, truncate(e.Message, 200))
}

// IsRetryable reports whether err wraps a RetryableError.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Options selects and configures a provider.
type Options struct {
	Provider           string
	Model              string
	APIKey             string
	ServiceAccount     string
	ServiceAccountJSON string
	ProjectID          string
	Location           string
	Timeout            time.Duration
}

// New constructs the client for opts.Provider.
func New(ctx context.Context, opts Options) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "gemini":
		client, err := NewGenAIClient(ctx, opts.APIKey, opts.Model, opts.Timeout)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "gemini-rest":
		var serviceAccount []byte
		switch {
		case opts.ServiceAccountJSON != "":
			serviceAccount = []byte(opts.ServiceAccountJSON)
		case opts.ServiceAccount != "" && opts.APIKey == "":
			data, err := os.ReadFile(opts.ServiceAccount)
			if err != nil {
				return nil, fmt.Errorf("read service account: %w", err)
			}
			serviceAccount = data
		}
		tokenSource, err := ServiceAccountTokenSource(ctx, serviceAccount)
		if err != nil {
			return nil, err
		}
		return NewGeminiClient(opts.APIKey, opts.Model, opts.Timeout, tokenSource), nil
	case "vertex":
		client, err := NewVertexClient(ctx, VertexConfig{
			ProjectID:          opts.ProjectID,
			Location:           opts.Location,
			Model:              opts.Model,
			APIKey:             opts.APIKey,
			ServiceAccount:     opts.ServiceAccount,
			ServiceAccountJSON: opts.ServiceAccountJSON,
			Timeout:            opts.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "openai":
		return NewOpenAIClient(opts.APIKey, opts.Model, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", opts.Provider)
	}
}

// Close releases provider resources when the client holds any.
func Close(c Client) error {
	if closer, ok := c.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
