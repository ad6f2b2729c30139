package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/maxibaudrix/Kiui/internal/config"
	"github.com/maxibaudrix/Kiui/internal/shared"
)

const (
	groqAPIURL = "https://api.groq.com/openai/v1/chat/completions"
	groqModel  = "llama-3.3-70b-versatile"
)

// GroqClient is a client for Groq's OpenAI-compatible chat completions API.
type GroqClient struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

// NewGroqClient creates a new Groq API client. Timeouts come from the request
// context, not the HTTP client.
func NewGroqClient(cfg *config.Config) (*GroqClient, error) {
	if cfg.GroqAPIKey == "" {
		return nil, ErrMissingCredential
	}
	model := cfg.Generation.Model
	if model == "" || model == config.Default().Generation.Model {
		model = groqModel
	}
	url := cfg.GroqURL
	if url == "" {
		url = groqAPIURL
	}
	return &GroqClient{
		apiKey:     cfg.GroqAPIKey,
		model:      model,
		url:        url,
		httpClient: &http.Client{},
	}, nil
}

type groqMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type groqRequest struct {
	Model          string            `json:"model"`
	Messages       []groqMessage     `json:"messages"`
	Temperature    float32           `json:"temperature"`
	TopP           float32           `json:"top_p,omitempty"`
	MaxTokens      int32             `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type groqResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateContent sends the prompts to the Groq model and returns the generated text.
func (c *GroqClient) GenerateContent(ctx context.Context, req Request) (ContentResponse, error) {
	messages := make([]groqMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, groqMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, groqMessage{Role: "user", Content: req.User})

	jsonBody, err := json.Marshal(groqRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    req.Options.Temperature,
		TopP:           req.Options.TopP,
		MaxTokens:      req.Options.MaxOutputTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonBody))
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ContentResponse{}, classifyGeneric(fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ContentResponse{}, classifyStatus(resp.StatusCode,
			fmt.Errorf("groq api error: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var groqResp groqResponse
	if err := json.NewDecoder(resp.Body).Decode(&groqResp); err != nil {
		return ContentResponse{}, classifyGeneric(fmt.Errorf("failed to decode response: %w", err))
	}

	if len(groqResp.Choices) == 0 {
		return ContentResponse{}, fmt.Errorf("no content generated")
	}

	return ContentResponse{
		Content: groqResp.Choices[0].Message.Content,
		Usage: shared.TokenUsage{
			PromptTokens:     groqResp.Usage.PromptTokens,
			CompletionTokens: groqResp.Usage.CompletionTokens,
			TotalTokens:      groqResp.Usage.TotalTokens,
			Model:            c.model,
		},
	}, nil
}
