package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultLocalEndpoint is where an Ollama daemon listens by default.
const DefaultLocalEndpoint = "http://localhost:11434"

// LocalProvider embeds through an Ollama-compatible /api/embeddings
// endpoint, one text per request.
type LocalProvider struct {
	endpoint  string
	model     string
	dimension int
	client    *http.Client

	mu      sync.Mutex
	learned int
}

// NewLocalProvider creates a LocalProvider from cfg. An empty endpoint
// points at a local Ollama daemon.
func NewLocalProvider(cfg Config) *LocalProvider {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultLocalEndpoint
	}
	return &LocalProvider{
		endpoint:  endpoint,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests one vector per text. Every vector must match the
// provider's dimension.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		if want := p.Dimension(); want > 0 && len(vec) != want {
			return nil, fmt.Errorf("embedding: model %s returned dimension %d, want %d", p.model, len(vec), want)
		}
		p.learn(len(vec))
		out = append(out, vec)
	}
	return out, nil
}

func (p *LocalProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(localRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding: status %d: %s", resp.StatusCode, msg)
	}

	var result localResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedding: model %s returned an empty vector", p.model)
	}
	return result.Embedding, nil
}

func (p *LocalProvider) learn(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.learned == 0 {
		p.learned = n
	}
}

// Dimension returns the configured size, or the size of the first
// vector the model produced when none was configured.
func (p *LocalProvider) Dimension() int {
	if p.dimension > 0 {
		return p.dimension
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.learned
}
