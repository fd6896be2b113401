package research

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/TobiSchelling/cityresearch/internal/llm"
)

// GeminiProvider answers research queries with Gemini grounded on Google Search.
type GeminiProvider struct {
	Model   string
	apiKey  string
	baseURL string
	timeout time.Duration

	once   sync.Once
	client *genai.Client
	err    error
}

// NewGeminiProvider creates a grounded-search provider. An empty apiKey
// leaves it unconfigured.
func NewGeminiProvider(model, apiKey, baseURL string, timeout time.Duration) *GeminiProvider {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &GeminiProvider{Model: model, apiKey: apiKey, baseURL: baseURL, timeout: timeout}
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) IsConfigured() bool { return g.apiKey != "" }

// Search runs query with the Google Search tool enabled.
func (g *GeminiProvider) Search(ctx context.Context, query string, opts SearchOptions) (string, error) {
	if g.apiKey == "" {
		return "", ErrNotConfigured
	}
	g.once.Do(func() {
		g.client, g.err = llm.NewGenAIClient(ctx, g.apiKey, g.baseURL, g.timeout)
	})
	if g.err != nil {
		return "", g.err
	}

	model := g.Model
	if opts.Model != "" {
		model = opts.Model
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(researcherPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(opts.Temperature)),
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(query), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini search: %w", err)
	}
	return resp.Text(), nil
}
