package llm

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider generates text through the Gemini API.
type GeminiProvider struct {
	Model   string
	apiKey  string
	baseURL string
	timeout time.Duration

	once   sync.Once
	client *genai.Client
	err    error
}

// NewGeminiProvider creates a Gemini provider. An empty apiKey leaves the
// provider unconfigured; baseURL overrides the API endpoint when set.
func NewGeminiProvider(model, apiKey, baseURL string, timeout time.Duration) *GeminiProvider {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &GeminiProvider{Model: model, apiKey: apiKey, baseURL: baseURL, timeout: timeout}
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) IsConfigured() bool { return g.apiKey != "" }

// Generate sends a prompt to Gemini and returns the response text.
func (g *GeminiProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return g.generate(ctx, prompt, opts, "")
}

// GenerateJSON requests application/json output and decodes it into v.
func (g *GeminiProvider) GenerateJSON(ctx context.Context, prompt string, opts Options, v any) error {
	text, err := g.generate(ctx, prompt, opts, "application/json")
	if err != nil {
		return err
	}
	return DecodeJSON(g.Name(), text, v)
}

func (g *GeminiProvider) generate(ctx context.Context, prompt string, opts Options, mime string) (string, error) {
	cli, err := g.getClient(ctx)
	if err != nil {
		return "", err
	}

	model := g.Model
	if opts.Model != "" {
		model = opts.Model
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(opts.Temperature)),
		ResponseMIMEType: mime,
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}

	resp, err := cli.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini: empty response")
	}
	return text, nil
}

func (g *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	if g.apiKey == "" {
		return nil, ErrNotConfigured
	}
	g.once.Do(func() {
		g.client, g.err = NewGenAIClient(ctx, g.apiKey, g.baseURL, g.timeout)
	})
	return g.client, g.err
}

// NewGenAIClient builds a Gemini API client with its own HTTP timeout.
func NewGenAIClient(ctx context.Context, apiKey, baseURL string, timeout time.Duration) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return cli, nil
}
