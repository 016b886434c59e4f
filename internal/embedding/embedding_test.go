package embedding

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedOpenAICompatible(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 1 || req.Input[0] != "hello" {
			t.Errorf("input = %v", req.Input)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Model: "test-model"})
	vec, err := c.Embed("hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("vector length = %d, want 3", len(vec))
	}
	if c.Dimension() != 3 {
		t.Errorf("Dimension = %d, want 3", c.Dimension())
	}
}

func TestEmbedOllama(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embeddings", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.5, 0.5}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{Provider: "local", Endpoint: srv.URL, Model: "nomic-embed-text"})
	vec, err := c.Embed("hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("vector length = %d, want 2", len(vec))
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL})
	if _, err := c.Embed("hello"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestNewWithoutEndpoint(t *testing.T) {
	if c := New(Config{}); c != nil {
		t.Fatal("expected nil client for empty endpoint")
	}
}

func TestDimensionFallback(t *testing.T) {
	c := New(Config{Endpoint: "http://unused", Dimension: 256})
	if d := c.Dimension(); d != 256 {
		t.Fatalf("Dimension = %d, want configured 256", d)
	}
}
