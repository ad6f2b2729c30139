package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/maxibaudrix/Kiui/internal/config"
	"github.com/maxibaudrix/Kiui/internal/shared"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
)

// GeminiClient is a client for the Google Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a new Gemini API client.
func NewGeminiClient(ctx context.Context, cfg *config.Config) (*GeminiClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, ErrMissingCredential
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Generation.Model}, nil
}

// GenerateContent sends the prompts to the Gemini model and returns the generated text.
func (c *GeminiClient) GenerateContent(ctx context.Context, req Request) (ContentResponse, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(req.Options.Temperature)
	if req.Options.TopP > 0 {
		model.SetTopP(req.Options.TopP)
	}
	if req.Options.TopK > 0 {
		model.SetTopK(req.Options.TopK)
	}
	if req.Options.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(req.Options.MaxOutputTokens)
	}
	model.ResponseMIMEType = "application/json"
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		return ContentResponse{}, classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ContentResponse{}, fmt.Errorf("no content generated")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	usage := shared.TokenUsage{Model: c.model}
	if md := resp.UsageMetadata; md != nil {
		usage.PromptTokens = int(md.PromptTokenCount)
		usage.CompletionTokens = int(md.CandidatesTokenCount)
		usage.TotalTokens = int(md.TotalTokenCount)
	}

	return ContentResponse{Content: text.String(), Usage: usage}, nil
}

// Close closes the underlying Gemini client.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

func classifyGeminiError(err error) error {
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Reason() == "API_KEY_INVALID" {
			return NewAuthError(err)
		}
		if code := apiErr.HTTPCode(); code > 0 {
			// Gemini answers a bad key with 400, so the message still counts.
			return classifyGeneric(classifyStatus(code, err))
		}
		switch apiErr.GRPCStatus().Code() {
		case codes.ResourceExhausted, codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return NewTransientError(err)
		case codes.Unauthenticated, codes.PermissionDenied:
			return NewAuthError(err)
		}
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("gemini blocked the response: %w", err)
	}
	return classifyGeneric(err)
}
