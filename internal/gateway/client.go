// Package gateway connects the core to external tool servers. Tools the
// LLM requests that are not available in-process are delegated here.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ToolInfo describes one tool exposed by a tool server.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// client speaks JSON-RPC to one tool server over an SSE side channel:
// requests go out as HTTP POSTs, responses come back as SSE messages
// matched by request id.
type client struct {
	name    string
	sseURL  string
	rpcURL  string
	tools   []ToolInfo
	pending map[int]chan json.RawMessage
	nextID  atomic.Int64
	mu      sync.Mutex
	cancel  context.CancelFunc
	logger  *zap.Logger
}

func newClient(name, sseURL string, logger *zap.Logger) *client {
	return &client{
		name:    name,
		sseURL:  sseURL,
		pending: make(map[int]chan json.RawMessage),
		logger:  logger,
	}
}

// connect opens the SSE stream, learns the RPC endpoint from the first
// event and discovers the server's tools.
func (c *client) connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.sseURL, nil)
	if err != nil {
		return fmt.Errorf("gateway connect: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("gateway sse status %d", resp.StatusCode)
	}

	rpcPath, err := readEndpointEvent(resp.Body)
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("gateway endpoint event: %w", err)
	}
	c.rpcURL = c.resolveURL(rpcPath)
	c.logger.Info("tool server endpoint discovered",
		zap.String("server", c.name), zap.String("rpc", c.rpcURL))

	sseCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.readSSE(sseCtx, resp.Body)

	if err := c.fetchTools(ctx); err != nil {
		return fmt.Errorf("gateway list tools: %w", err)
	}
	c.logger.Info("tool server tools discovered",
		zap.String("server", c.name), zap.Int("count", len(c.tools)))
	return nil
}

func readEndpointEvent(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			if eventType == "endpoint" {
				return strings.TrimPrefix(line, "data: "), nil
			}
		}
	}
	return "", fmt.Errorf("SSE stream ended without endpoint event")
}

func (c *client) resolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	idx := strings.LastIndex(c.sseURL, "/")
	if idx > 8 {
		return c.sseURL[:idx] + "/" + strings.TrimPrefix(path, "/")
	}
	return c.sseURL + "/" + strings.TrimPrefix(path, "/")
}

func (c *client) readSSE(ctx context.Context, r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	var eventType string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			if eventType == "message" {
				c.dispatch([]byte(strings.TrimPrefix(line, "data: ")))
			}
			eventType = ""
		}
	}
}

func (c *client) dispatch(data []byte) {
	var envelope struct {
		ID     int             `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logger.Debug("gateway: ignoring non-jsonrpc SSE data")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[envelope.ID]
	if ok {
		delete(c.pending, envelope.ID)
	}
	c.mu.Unlock()

	if ok {
		if len(envelope.Error) > 0 && string(envelope.Error) != "null" {
			ch <- envelope.Error
		} else {
			ch <- envelope.Result
		}
	}
}

// sendRPC posts one request and waits for its SSE response. The caller's
// context bounds the wait.
func (c *client) sendRPC(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := int(c.nextID.Add(1))

	ch := make(chan json.RawMessage, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	rpcReq := struct {
		JSONRPC string      `json:"jsonrpc"`
		ID      int         `json:"id"`
		Method  string      `json:"method"`
		Params  interface{} `json:"params,omitempty"`
	}{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("marshal rpc: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		c.drop(id)
		return nil, fmt.Errorf("send rpc: %w", err)
	}
	resp.Body.Close()

	select {
	case result := <-ch:
		return result, nil
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	}
}

func (c *client) drop(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *client) fetchTools(ctx context.Context) error {
	result, err := c.sendRPC(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list: %w", err)
	}
	c.tools = resp.Tools
	return nil
}

// callTool invokes one tool and returns its text result.
func (c *client) callTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	result, err := c.sendRPC(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("call %s: %w", name, err)
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return string(result), nil
	}
	if len(resp.Content) > 0 {
		return resp.Content[0].Text, nil
	}
	return string(result), nil
}

func (c *client) close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}
