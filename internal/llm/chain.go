package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/TobiSchelling/cityresearch/internal/logger"
)

var (
	// ErrNoProvider means no provider in the chain is configured.
	ErrNoProvider = errors.New("llm: no synthesis provider configured")
	// ErrAllFailed means every configured provider failed to answer.
	ErrAllFailed = errors.New("llm: all synthesis providers failed")
)

// Chain tries synthesis providers in order. The first provider is the
// structured-mode primary; the rest are fallbacks run in free-text mode.
type Chain struct {
	providers []Provider
	log       *logger.Logger
}

// NewChain creates a provider chain. Nil providers are ignored.
func NewChain(log *logger.Logger, providers ...Provider) *Chain {
	c := &Chain{log: log}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Configured returns the names of configured providers in order.
func (c *Chain) Configured() []string {
	var names []string
	for _, p := range c.providers {
		if p.IsConfigured() {
			names = append(names, p.Name())
		}
	}
	return names
}

// GenerateJSON produces a JSON object for prompt and decodes it into v,
// returning the name of the provider that answered. Transport errors fall
// through to the next provider; a *ParseError is returned immediately.
func (c *Chain) GenerateJSON(ctx context.Context, prompt string, opts Options, v any) (string, error) {
	var lastErr error
	attempted := 0
	for i, p := range c.providers {
		if !p.IsConfigured() {
			c.log.Debug("synthesis provider not configured", "provider", p.Name())
			continue
		}
		attempted++

		var err error
		jp, structured := p.(JSONProvider)
		if i == 0 && structured {
			c.log.Info("synthesizing", "provider", p.Name(), "mode", "json")
			err = jp.GenerateJSON(ctx, prompt, opts, v)
		} else {
			c.log.Info("synthesizing", "provider", p.Name(), "mode", "text")
			var text string
			text, err = p.Generate(ctx, prompt, opts)
			if err == nil {
				err = DecodeEmbeddedJSON(p.Name(), text, v)
			}
		}
		if err == nil {
			return p.Name(), nil
		}

		var perr *ParseError
		if errors.As(err, &perr) {
			return p.Name(), err
		}
		c.log.Warn("synthesis provider failed", "provider", p.Name(), "error", err)
		lastErr = err
	}

	if attempted == 0 {
		return "", ErrNoProvider
	}
	return "", fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
