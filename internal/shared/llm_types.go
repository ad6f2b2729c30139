package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// Add returns the sum of u and other. The model name of u wins when set.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	model := u.Model
	if model == "" {
		model = other.Model
	}
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		Model:            model,
	}
}

// AgentMeta holds operational metadata for one model call made on behalf of a
// generation run ("combined", "training", "nutrition", "corrective").
type AgentMeta struct {
	AgentName string
	Usage     TokenUsage
	Latency   time.Duration
	Attempts  int
}

// SumUsage totals the token usage of several calls.
func SumUsage(metas []AgentMeta) TokenUsage {
	var total TokenUsage
	for _, m := range metas {
		total = total.Add(m.Usage)
	}
	return total
}
