package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ckg/internal/config"
	ckgerrors "ckg/internal/errors"
)

// HTTPEmbedder talks to an external embedding service over its JSON API:
// POST /embed with a batch of texts, GET /health. All failures surface as
// EMBEDDING_UNAVAILABLE so callers can retry or degrade; the service being
// down must never fail an ingest.
type HTTPEmbedder struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPEmbedder(cfg config.EmbeddingConfig) *HTTPEmbedder {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	return &HTTPEmbedder{
		baseURL: strings.TrimRight(cfg.Endpoint, "/"),
		model:   cfg.Model,
		dim:     cfg.Dimension,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (c *HTTPEmbedder) Model() string {
	return c.model
}

func (c *HTTPEmbedder) Dim() int {
	return c.dim
}

type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Model   string      `json:"model"`
	Dim     int         `json:"dim"`
	Vectors [][]float32 `json:"vectors"`
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

func (c *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ckgerrors.New(ckgerrors.InvalidInput, "cannot embed empty text", nil)
	}
	vecs, err := c.BatchEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// BatchEmbed sends one request for many texts. The rate limiter paces
// whole requests, not texts, so batching is also how callers stay under
// the limit.
func (c *HTTPEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Texts: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ckgerrors.NewEmbeddingUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, ckgerrors.NewEmbeddingUnavailableError(
			fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(detail)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ckgerrors.NewEmbeddingUnavailableError(err)
	}
	if len(out.Vectors) != len(texts) {
		return nil, ckgerrors.NewEmbeddingUnavailableError(
			fmt.Errorf("embedding service returned %d vectors for %d texts", len(out.Vectors), len(texts)))
	}
	for _, vec := range out.Vectors {
		if len(vec) != c.dim {
			return nil, ckgerrors.NewEmbeddingUnavailableError(
				fmt.Errorf("embedding service returned dim %d, configured %d", len(vec), c.dim))
		}
	}
	return out.Vectors, nil
}

// Health verifies the service is up and serving the configured model.
func (c *HTTPEmbedder) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return ckgerrors.NewEmbeddingUnavailableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ckgerrors.NewEmbeddingUnavailableError(
			fmt.Errorf("health endpoint returned status %d", resp.StatusCode))
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return ckgerrors.NewEmbeddingUnavailableError(err)
	}
	if health.Status != "ok" {
		return ckgerrors.NewEmbeddingUnavailableError(
			fmt.Errorf("embedding service not ready: %s", health.Status))
	}
	return nil
}
