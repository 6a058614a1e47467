package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fenwick-labs/sift/internal/config"
)

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint. The model
// behind that endpoint is always external (spec §6): this is a thin
// transport client, not a model implementation.
type HTTPEmbedder struct {
	baseURL    string
	path       string
	model      string
	dimensions int
	client     *http.Client

	apiKey    string
	apiHeader string
}

// NewHTTPEmbedder builds an embedder against cfg's configured endpoint.
func NewHTTPEmbedder(cfg config.EmbeddingConfig) *HTTPEmbedder {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEmbedder{
		baseURL:    cfg.BaseURL,
		path:       cfg.Path,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		apiKey:     cfg.APIKey,
		apiHeader:  cfg.APIHeader,
		client:     &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder.
func (h *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := h.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder, preserving input order.
func (h *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(embedRequest{Model: h.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+h.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		if h.apiHeader == "Authorization" {
			req.Header.Set("Authorization", "Bearer "+h.apiKey)
		} else if h.apiHeader != "" {
			req.Header.Set(h.apiHeader, h.apiKey)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding endpoint returned %s: %s", resp.Status, string(respBody))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding endpoint returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		out[i] = parsed.Data[i].Embedding
	}
	return out, nil
}

// Dimensions implements Embedder.
func (h *HTTPEmbedder) Dimensions() int { return h.dimensions }

// ModelName implements Embedder.
func (h *HTTPEmbedder) ModelName() string { return h.model }

// Available implements Embedder by issuing a one-word embedding probe.
func (h *HTTPEmbedder) Available(ctx context.Context) bool {
	_, err := h.Embed(ctx, "ping")
	return err == nil
}

// Close implements Embedder; the underlying http.Client owns no
// closable resources.
func (h *HTTPEmbedder) Close() error { return nil }
