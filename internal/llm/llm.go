package llm

import (
	"context"
	"time"

	"github.com/maxibaudrix/Kiui/internal/shared"
)

// Options are the sampling parameters of one model call.
type Options struct {
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	// Timeout bounds a single attempt; zero means no per-attempt limit.
	Timeout time.Duration
}

// Request is a system/user prompt pair plus its options.
type Request struct {
	System  string
	User    string
	Options Options
}

// ContentResponse contains the generated text and metadata like token usage.
type ContentResponse struct {
	Content string
	Usage   shared.TokenUsage
}

// TextGenerator is implemented by every model provider.
type TextGenerator interface {
	GenerateContent(ctx context.Context, req Request) (ContentResponse, error)
}

// Closer is an interface for closing resources.
type Closer interface {
	Close() error
}
