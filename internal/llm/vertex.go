package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// VertexConfig describes how to reach Gemini on Vertex AI.
type VertexConfig struct {
	ProjectID          string
	Location           string
	Model              string
	APIKey             string
	ServiceAccount     string
	ServiceAccountJSON string
	Timeout            time.Duration
}

// VertexClient calls publisher Gemini models through the Vertex AI prediction service.
type VertexClient struct {
	client  *aiplatform.PredictionClient
	model   string
	timeout time.Duration
}

// NewVertexClient dials the regional prediction endpoint.
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	location := strings.TrimSpace(cfg.Location)
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("vertex: missing project/location")
	}

	options := []option.ClientOption{option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", location))}
	if cfg.ServiceAccountJSON != "" {
		options = append(options, option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)))
	} else if cfg.ServiceAccount != "" {
		options = append(options, option.WithCredentialsFile(cfg.ServiceAccount))
	} else if cfg.APIKey != "" {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	}

	client, err := aiplatform.NewPredictionClient(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("vertex: prediction client: %w", err)
	}
	return &VertexClient{
		client:  client,
		model:   fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", projectID, location, normalizeModel(cfg.Model)),
		timeout: cfg.Timeout,
	}, nil
}

// ChatCompletion runs GenerateContent and joins the text parts of the first candidate.
func (v *VertexClient) ChatCompletion(ctx context.Context, messages []ChatMessage, temperature float64) (string, error) {
	req := &aiplatformpb.GenerateContentRequest{
		Model: v.model,
		GenerationConfig: &aiplatformpb.GenerationConfig{
			Temperature: proto.Float32(float32(temperature)),
		},
	}

	var systemPrompts []string
	for _, msg := range messages {
		role := "user"
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system":
			systemPrompts = append(systemPrompts, msg.Content)
			continue
		case "assistant", "model":
			role = "model"
		}
		req.Contents = append(req.Contents, &aiplatformpb.Content{
			Role:  role,
			Parts: []*aiplatformpb.Part{{Data: &aiplatformpb.Part_Text{Text: msg.Content}}},
		})
	}
	if len(req.Contents) == 0 {
		return "", fmt.Errorf("vertex: missing user or assistant messages")
	}
	if len(systemPrompts) > 0 {
		req.SystemInstruction = &aiplatformpb.Content{
			Parts: []*aiplatformpb.Part{{Data: &aiplatformpb.Part_Text{Text: strings.Join(systemPrompts, "\n\n")}}},
		}
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	resp, err := v.client.GenerateContent(ctx, req)
	if err != nil {
		switch status.Code(err) {
		case codes.ResourceExhausted, codes.Unavailable:
			return "", &RetryableError{Provider: "vertex", StatusCode: int(status.Code(err)), Message: err.Error()}
		}
		return "", fmt.Errorf("vertex: generate content: %w", err)
	}
	if len(resp.GetCandidates()) == 0 {
		return "", fmt.Errorf("vertex: empty response")
	}

	var parts []string
	for _, part := range resp.GetCandidates()[0].GetContent().GetParts() {
		if trimmed := strings.TrimSpace(part.GetText()); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("vertex: candidate missing text")
	}
	return strings.Join(parts, "\n\n"), nil
}

// Close releases the gRPC connection.
func (v *VertexClient) Close() error {
	return v.client.Close()
}
