package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/fault"
)

// ServerConfig describes one external tool server.
type ServerConfig struct {
	Name   string `json:"name"`
	SSEURL string `json:"sse_url"`
}

// Gateway aggregates external tool servers behind a single Invoke call.
// Tool ids are "server.tool"; a bare tool name resolves against every
// connected server.
type Gateway struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *zap.Logger
}

// New builds an empty gateway.
func New(logger *zap.Logger) *Gateway {
	return &Gateway{
		clients: make(map[string]*client),
		logger:  logger,
	}
}

// Connect attaches one tool server. A server that fails to connect is
// skipped with a warning so one dead dependency does not take the core
// down.
func (g *Gateway) Connect(ctx context.Context, cfg ServerConfig) error {
	c := newClient(cfg.Name, cfg.SSEURL, g.logger)
	if err := c.connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Name, err)
	}
	g.mu.Lock()
	g.clients[cfg.Name] = c
	g.mu.Unlock()
	return nil
}

// Tools lists every discovered external tool as "server.tool" ids.
func (g *Gateway) Tools() map[string]ToolInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]ToolInfo)
	for name, c := range g.clients {
		for _, t := range c.tools {
			out[name+"."+t.Name] = t
		}
	}
	return out
}

// Invoke runs one external tool under the given deadline. Exceeding it
// returns a typed timeout; the gateway never retries on the core's
// behalf.
func (g *Gateway) Invoke(ctx context.Context, toolID string, params map[string]interface{}, deadline time.Duration) (string, error) {
	c, toolName, err := g.resolve(toolID)
	if err != nil {
		return "", err
	}

	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	result, err := c.callTool(ctx, toolName, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &fault.TimeoutError{Op: "tool " + toolID, Deadline: deadline}
		}
		return "", &fault.ExternalError{Tool: toolID, Err: err}
	}
	return result, nil
}

func (g *Gateway) resolve(toolID string) (*client, string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if server, tool, ok := strings.Cut(toolID, "."); ok {
		if c, found := g.clients[server]; found {
			return c, tool, nil
		}
	}
	for _, c := range g.clients {
		for _, t := range c.tools {
			if t.Name == toolID {
				return c, toolID, nil
			}
		}
	}
	return nil, "", fmt.Errorf("no tool server exposes %q: %w", toolID, fault.ErrNotFound)
}

// Close shuts down every server connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.clients {
		c.close()
	}
	g.clients = make(map[string]*client)
}
