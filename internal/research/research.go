// Package research queries external research backends for prose about a
// city. Providers are tried in order until one returns text.
package research

import (
	"context"
	"errors"
	"strings"

	"github.com/TobiSchelling/cityresearch/internal/logger"
)

var (
	// ErrNotConfigured is returned by a provider called without credentials.
	ErrNotConfigured = errors.New("research: provider not configured")
	// ErrNoProvider means no provider in the chain is configured.
	ErrNoProvider = errors.New("research: no research provider configured")
	// ErrNoResult means every configured provider failed or returned no text.
	ErrNoResult = errors.New("research: no provider returned text")
)

// SearchOptions tune a single search. Subject and Keywords are hints for
// keyword-driven backends that cannot use the natural-language query.
type SearchOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Subject     string
	Keywords    []string
}

// Provider is a research backend returning prose for a query. Each call is
// a single attempt; an error or empty text means "try the next provider".
type Provider interface {
	Name() string
	IsConfigured() bool
	Search(ctx context.Context, query string, opts SearchOptions) (string, error)
}

// Chain tries research providers in order.
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

// Search returns the first non-empty answer and the provider that gave it.
func (c *Chain) Search(ctx context.Context, query string, opts SearchOptions) (string, string, error) {
	attempted := 0
	for _, p := range c.providers {
		if !p.IsConfigured() {
			continue
		}
		attempted++

		text, err := p.Search(ctx, query, opts)
		if err != nil {
			c.log.Warn("research provider failed", "provider", p.Name(), "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			c.log.Warn("research provider returned no text", "provider", p.Name())
			continue
		}
		return text, p.Name(), nil
	}

	if attempted == 0 {
		return "", "", ErrNoProvider
	}
	return "", "", ErrNoResult
}
