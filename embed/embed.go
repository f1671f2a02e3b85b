// Package embed converts text to dense float32 vectors via any
// OpenAI-compatible embedding server.
//
// It decouples embedding generation from chunking and storage so the
// ingestion pipeline and the similarity search can share one client. The
// upstream service is rate-limited, so every HTTP call runs inside a
// bounded exponential-backoff retry envelope.
//
// Usage:
//
//	emb := embed.New(embed.Config{
//	    Endpoint: "http://localhost:8003",
//	    Model:    "text-embedding-gecko",
//	})
//	vecs, err := emb.EmbedBatch(ctx, chunks)
package embed

import (
	"context"
	"log/slog"
	"time"
)

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts, one-to-one with
	// the input order. Requests are issued in batches of Config.BatchSize.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server. If empty, New
	// returns a NoopEmbedder.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Dimension is the expected vector dimension. Default: 768.
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize is the maximum number of texts per HTTP request.
	// Default: 5, small batches keep each request under the upstream
	// rate limiter's payload budget.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// MaxAttempts bounds the retry loop per batch. Default: 10.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the first retry wait; each attempt multiplies it by
	// Multiplier. Default: 5s.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// Multiplier is the backoff growth factor. Default: 2.
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Dimension <= 0 {
		c.Dimension = 768
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config. If Endpoint is empty, returns a
// NoopEmbedder that produces zero vectors of the configured dimension.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return &noopEmbedder{dim: cfg.Dimension, model: cfg.Model}
	}
	return newClient(cfg)
}

// noopEmbedder returns zero vectors, useful for testing without a server.
type noopEmbedder struct {
	dim   int
	model string
}

func (n *noopEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, n.dim), nil
}

func (n *noopEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, n.dim)
	}
	return out, nil
}

func (n *noopEmbedder) Dimension() int { return n.dim }
func (n *noopEmbedder) Model() string  { return n.model }
