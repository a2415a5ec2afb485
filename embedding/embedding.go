// Package embedding provides text embedders backing the semantic cache.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects and configures an embedder.
type Config struct {
	Provider string // openai or genai
	Model    string
	APIKey   string
}

// New builds the embedder named by cfg.Provider. An empty provider disables
// embeddings and returns (nil, nil).
func New(ctx context.Context, cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "":
		return nil, nil
	case "openai":
		return NewOpenAI(func(o *OpenAIOptions) {
			o.APIKey = cfg.APIKey
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
		}), nil
	case "genai", "gemini":
		return NewGenAI(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Normalize prepares a question for embedding and cache keys: lower case with
// collapsed whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
