package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/quivermind/mnemo/internal/fault"
)

type fakeProvider struct {
	id   string
	resp *ChatResponse
	err  error
	hits int
}

func (f *fakeProvider) ID() string { return f.id }
func (f *fakeProvider) Chat(context.Context, *ChatRequest) (*ChatResponse, error) {
	f.hits++
	return f.resp, f.err
}
func (f *fakeProvider) HealthCheck(context.Context) error { return nil }

func TestChainFallsBack(t *testing.T) {
	primary := &fakeProvider{id: "a", err: errors.New("boom")}
	backup := &fakeProvider{id: "b", resp: &ChatResponse{Content: "hi"}}

	c := NewChain(zap.NewNop())
	c.Register(primary)
	c.Register(backup)

	resp, err := c.Chat(context.Background(), &ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi" {
		t.Fatalf("content = %q", resp.Content)
	}
	if primary.hits != 1 || backup.hits != 1 {
		t.Fatalf("hits = %d/%d, want 1/1", primary.hits, backup.hits)
	}
}

func TestChainStopsOnTimeout(t *testing.T) {
	primary := &fakeProvider{id: "a", err: &fault.TimeoutError{Op: "llm chat"}}
	backup := &fakeProvider{id: "b", resp: &ChatResponse{Content: "hi"}}

	c := NewChain(zap.NewNop())
	c.Register(primary)
	c.Register(backup)

	_, err := c.Chat(context.Background(), &ChatRequest{})
	if !fault.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if backup.hits != 0 {
		t.Fatal("fallback ran after a deadline timeout")
	}
}

func TestChainEmpty(t *testing.T) {
	c := NewChain(zap.NewNop())
	if _, err := c.Chat(context.Background(), &ChatRequest{}); err == nil {
		t.Fatal("expected error from empty chain")
	}
}

func TestOpenAIChatToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "gpt-test" {
			t.Errorf("model = %q, want configured default", req.Model)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "resp-1",
			"model": "gpt-test",
			"choices": []map[string]interface{}{{
				"finish_reason": "tool_calls",
				"message": map[string]interface{}{
					"role": "assistant",
					"tool_calls": []map[string]interface{}{{
						"id":   "call-1",
						"type": "function",
						"function": map[string]interface{}{
							"name":      "list_tasks",
							"arguments": "{}",
						},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	p := NewOpenAI(Config{ID: "test", Endpoint: srv.URL, APIKey: "test-key", Model: "gpt-test"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ToolCalls[0].Function.Name != "list_tasks" {
		t.Fatalf("tool call = %+v", resp.ToolCalls[0])
	}
}

func TestAnthropicChatToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "claude-test" {
			t.Errorf("model = %q, want configured default", req.Model)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "msg-1",
			"model":       "claude-test",
			"stop_reason": "tool_use",
			"content": []map[string]interface{}{
				{"type": "text", "text": "Checking your tasks."},
				{"type": "tool_use", "id": "toolu_1", "name": "list_tasks", "input": map[string]interface{}{}},
			},
		})
	}))
	defer srv.Close()

	p := NewAnthropic(Config{ID: "claude", Endpoint: srv.URL, APIKey: "test-key", Model: "claude-test"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "what's on my plate"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("finish reason = %q, want normalized tool_calls", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "list_tasks" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.Content != "Checking your tasks." {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestOpenAIChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI(Config{ID: "test", Endpoint: srv.URL}, zap.NewNop())
	_, err := p.Chat(context.Background(), &ChatRequest{})
	var ee *fault.ExternalError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExternalError", err)
	}
}

func TestFromConfigUnknownType(t *testing.T) {
	if _, err := FromConfig(Config{Type: "mystery"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown provider type")
	}
}
