// Package embedding turns text into vectors for hybrid retrieval. Two
// backends are supported: an OpenAI-compatible /embeddings endpoint and
// an Ollama-style /api/embeddings endpoint. Either one satisfies
// memory.Embedder; a failed or absent backend degrades retrieval to
// lexical ranking instead of failing writes.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Config holds embedding backend settings.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// Client embeds single texts against a remote endpoint. Writes happen on
// the hot path of memory updates, so every call is bounded by a short
// timeout independent of the turn deadline.
type Client struct {
	kind     string
	endpoint string
	model    string
	apiKey   string
	http     *http.Client

	once sync.Once
	dim  int

	configuredDim int
}

const requestTimeout = 10 * time.Second

// New builds a client from config. Returns nil for an empty endpoint so
// callers can pass the result straight to memory.NewStore.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		return nil
	}
	kind := cfg.Provider
	if kind == "" {
		kind = "api"
	}
	return &Client{
		kind:          kind,
		endpoint:      cfg.Endpoint,
		model:         cfg.Model,
		apiKey:        cfg.APIKey,
		http:          &http.Client{Timeout: requestTimeout},
		configuredDim: cfg.Dimension,
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the vector for one text.
func (c *Client) Embed(text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var (
		vec []float32
		err error
	)
	if c.kind == "local" {
		vec, err = c.embedOllama(ctx, text)
	} else {
		vec, err = c.embedAPI(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	if len(vec) > 0 {
		c.once.Do(func() { c.dim = len(vec) })
	}
	return vec, nil
}

func (c *Client) embedAPI(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(apiRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding: empty response")
	}
	return result.Data[0].Embedding, nil
}

func (c *Client) embedOllama(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	return result.Embedding, nil
}

// Dimension returns the vector width: learned from the first successful
// embed, or the configured default before that.
func (c *Client) Dimension() int {
	if c.dim > 0 {
		return c.dim
	}
	return c.configuredDim
}
