package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/fault"
)

// Chain routes chat requests to the primary provider and walks the
// fallback list when it fails. A caller-deadline timeout is not retried;
// retry policy belongs to the caller.
type Chain struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	logger    *zap.Logger
}

// NewChain builds an empty chain. The first registered provider is
// primary; later ones are fallbacks in registration order.
func NewChain(logger *zap.Logger) *Chain {
	return &Chain{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register appends a provider to the chain.
func (c *Chain) Register(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.providers[p.ID()]; !ok {
		c.order = append(c.order, p.ID())
	}
	c.providers[p.ID()] = p
	c.logger.Info("registered provider", zap.String("id", p.ID()))
}

// Chat tries each provider in order until one answers.
func (c *Chain) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	c.mu.RLock()
	order := append([]string(nil), c.order...)
	providers := c.providers
	c.mu.RUnlock()

	if len(order) == 0 {
		return nil, fmt.Errorf("no providers registered")
	}

	var lastErr error
	for i, id := range order {
		resp, err := providers[id].Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var te *fault.TimeoutError
		if errors.As(err, &te) || ctx.Err() != nil {
			return nil, err
		}
		if i < len(order)-1 {
			c.logger.Warn("provider failed, trying fallback",
				zap.String("provider", id), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Providers lists the chain in order.
func (c *Chain) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Provider, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.providers[id])
	}
	return out
}

// HealthCheck probes every provider and returns the first failure.
func (c *Chain) HealthCheck(ctx context.Context) error {
	for _, p := range c.Providers() {
		if err := p.HealthCheck(ctx); err != nil {
			return fmt.Errorf("provider %s: %w", p.ID(), err)
		}
	}
	return nil
}

// FromConfig builds a provider from one config entry.
func FromConfig(cfg Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "openai", "openai-compatible", "":
		return NewOpenAI(cfg, logger), nil
	case "anthropic":
		return NewAnthropic(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
