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

	"github.com/cenkalti/backoff/v4"
)

// client implements Embedder using the OpenAI /v1/embeddings API format.
// This covers vLLM, Ollama, ONNX Runtime Server, Vertex-compatible
// gateways, and OpenAI itself.
type client struct {
	endpoint string
	cfg      Config
	http     *http.Client
}

func newClient(cfg Config) *client {
	return &client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		batch := texts[start:end]

		vecs, err := c.callWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d] after %d attempts: %w",
				start, end, c.cfg.MaxAttempts, err)
		}
		copy(result[start:end], vecs)
	}
	return result, nil
}

// callWithRetry wraps a single API call in the bounded exponential
// backoff envelope: wait BaseDelay * Multiplier^attempt between tries,
// give up after MaxAttempts.
func (c *client) callWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseDelay
	bo.Multiplier = c.cfg.Multiplier
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour // effectively uncapped: the attempt count is the limit
	bo.MaxElapsedTime = 0

	attempt := 0
	op := func() ([][]float32, error) {
		vecs, err := c.callAPI(ctx, texts)
		if err != nil {
			attempt++
			c.cfg.Logger.Warn("embedding call failed, backing off",
				"attempt", attempt, "max_attempts", c.cfg.MaxAttempts, "error", err)
		}
		return vecs, err
	}

	return backoff.RetryWithData(op,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxAttempts-1)), ctx))
}

func (c *client) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{
		Model: c.cfg.Model,
		Input: texts,
	})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	url := c.endpoint + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, url, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned from %s", url)
	}

	// Reassemble in input order, servers return entries sorted by index.
	vecs := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index >= 0 && d.Index < len(vecs) {
			vecs[d.Index] = d.Embedding
		}
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("missing embedding for input index %d", i)
		}
		if c.cfg.Dimension > 0 && len(v) != c.cfg.Dimension {
			return nil, backoff.Permanent(fmt.Errorf(
				"embedding dimension %d, expected %d", len(v), c.cfg.Dimension))
		}
	}
	return vecs, nil
}

func (c *client) Dimension() int { return c.cfg.Dimension }
func (c *client) Model() string  { return c.cfg.Model }
