package provider

import (
	"context"
	"fmt"

	"github.com/CloudBridgeTechnologies/cloudable/config"
)

// Passage is one retrieved chunk handed to the model for grounding.
type Passage struct {
	Text   string
	Source string
	Score  float64
}

// Provider is the opaque model capability boundary: embedding generation,
// summarization and grounded answering. How any of it is computed is not
// this system's concern.
type Provider interface {
	// CreateEmbedding generates one vector per input text, in input order.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	// Summarize produces a short summary of a document's text.
	Summarize(ctx context.Context, text string) (string, error)
	// Answer composes a reply to a question grounded in the given passages.
	Answer(ctx context.Context, question string, passages []Passage) (string, error)
	// Model reports the completion model identifier, for attribution.
	Model() string
}

// New constructs the configured provider.
func New(cfg config.ProvidersConfig) (Provider, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("providers.openai.api_key not configured")
	}
	return NewOpenAIClient(cfg.OpenAI), nil
}
