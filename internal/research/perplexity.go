package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const researcherPrompt = "You are a meticulous local-culture researcher. Answer with concrete, verifiable facts about the city asked about. Prefer specific names over generalities."

// PerplexityProvider searches through Perplexity's chat completions API.
type PerplexityProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewPerplexityProvider creates a Perplexity provider. An empty apiKey
// leaves it unconfigured.
func NewPerplexityProvider(model, apiKey, baseURL string, timeout time.Duration) *PerplexityProvider {
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &PerplexityProvider{
		Model:   model,
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *PerplexityProvider) Name() string { return "perplexity" }

func (p *PerplexityProvider) IsConfigured() bool { return p.APIKey != "" }

// Search sends the query and returns the answer text.
func (p *PerplexityProvider) Search(ctx context.Context, query string, opts SearchOptions) (string, error) {
	if p.APIKey == "" {
		return "", ErrNotConfigured
	}

	model := p.Model
	if opts.Model != "" {
		model = opts.Model
	}
	body := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": researcherPrompt},
			{"role": "user", "content": query},
		},
		"temperature": opts.Temperature,
	}
	if opts.MaxTokens > 0 {
		body["max_tokens"] = opts.MaxTokens
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("perplexity API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("perplexity API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("perplexity error payload: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in perplexity response")
	}
	return result.Choices[0].Message.Content, nil
}
