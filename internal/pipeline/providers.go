package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/cityresearch/internal/config"
	"github.com/TobiSchelling/cityresearch/internal/llm"
	"github.com/TobiSchelling/cityresearch/internal/logger"
	"github.com/TobiSchelling/cityresearch/internal/research"
)

// New creates a pipeline with providers built from cfg, in the configured
// order. Providers without credentials are kept but skipped at run time.
func New(cfg *config.Config, store Store, log *logger.Logger) (*Pipeline, error) {
	researchers, err := ResearchProviders(cfg)
	if err != nil {
		return nil, err
	}
	synths, err := SynthesisProviders(cfg)
	if err != nil {
		return nil, err
	}

	opts := Options{
		Research: research.SearchOptions{
			Temperature: cfg.Research.Temperature,
			MaxTokens:   cfg.Research.MaxTokens,
		},
		Synthesis: llm.Options{
			Temperature: cfg.Synthesis.Temperature,
			MaxTokens:   cfg.Synthesis.MaxTokens,
		},
		Thresholds:  cfg.Validation,
		Concurrency: cfg.Research.Concurrency,
	}
	return NewWithProviders(store, researchers, synths, opts, log), nil
}

// ResearchProviders builds the research chain members named in
// cfg.Research.Providers.
func ResearchProviders(cfg *config.Config) ([]research.Provider, error) {
	rc := cfg.Research
	timeout := seconds(rc.TimeoutSeconds)

	var out []research.Provider
	for _, name := range rc.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "perplexity":
			out = append(out, research.NewPerplexityProvider(
				rc.Perplexity.Model, config.Credential(rc.Perplexity.APIKeyEnv), rc.Perplexity.BaseURL, timeout))
		case "gemini":
			out = append(out, research.NewGeminiProvider(
				rc.Gemini.Model, config.Credential(rc.Gemini.APIKeyEnv), rc.Gemini.BaseURL, timeout))
		case "newsapi":
			if !rc.NewsAPI.Enabled {
				continue
			}
			out = append(out, research.NewNewsAPIProvider(
				config.Credential(rc.NewsAPI.APIKeyEnv), rc.NewsAPI.BaseURL, rc.NewsAPI.PageSize, timeout))
		case "feeds":
			out = append(out, research.NewFeedProvider(
				rc.Feeds.Enabled, rc.Feeds.SearchURL, rc.Feeds.MaxItems, rc.Feeds.FetchContent, timeout))
		default:
			return nil, fmt.Errorf("unknown research provider %q", name)
		}
	}
	return out, nil
}

// SynthesisProviders builds the synthesis chain members named in
// cfg.Synthesis.Providers. The first is the structured-mode primary.
func SynthesisProviders(cfg *config.Config) ([]llm.Provider, error) {
	sc := cfg.Synthesis
	timeout := seconds(sc.TimeoutSeconds)

	var out []llm.Provider
	for _, name := range sc.Providers {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "openai":
			out = append(out, llm.NewOpenAIProvider(
				sc.OpenAI.Model, config.Credential(sc.OpenAI.APIKeyEnv), sc.OpenAI.BaseURL, timeout))
		case "gemini":
			out = append(out, llm.NewGeminiProvider(
				sc.Gemini.Model, config.Credential(sc.Gemini.APIKeyEnv), sc.Gemini.BaseURL, timeout))
		case "ollama":
			if !sc.Ollama.Enabled {
				continue
			}
			out = append(out, llm.NewOllamaProvider(sc.Ollama.Model, sc.Ollama.URL, timeout))
		default:
			return nil, fmt.Errorf("unknown synthesis provider %q", name)
		}
	}
	return out, nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
