// Package chunker splits section text into topically coherent chunks for
// embedding.
//
// Instead of fixed-width windows, boundaries are placed where the
// embedding distance between adjacent sentence windows jumps; a concept
// cut mid-thought embeds poorly and degrades similarity precision. Text
// is scrubbed through a character allow-list first to suppress encoding
// noise from PDF extraction.
package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"innoscan/embed"
	"innoscan/extract"
)

var (
	// Characters outside this set come from broken PDF text runs and
	// only pollute storage encoding downstream.
	disallowed = regexp.MustCompile(`[^a-zA-Z0-9\s.,<>=]`)

	// Period only: Scrub has already removed ! and ? by the time text
	// reaches the splitter.
	sentenceSplit = regexp.MustCompile(`[^.]+\.`)
)

// Scrub lowercases text and strips every character outside the allow-list
// (alphanumeric, whitespace, and a small punctuation set).
func Scrub(text string) string {
	return disallowed.ReplaceAllString(strings.ToLower(text), "")
}

// Config configures the chunker.
type Config struct {
	// Embedder supplies the sentence-window vectors used to detect
	// topic boundaries.
	Embedder embed.Embedder

	// BoundaryThreshold is the cosine distance between adjacent
	// sentence windows above which a chunk boundary is placed.
	// Default: 0.22.
	BoundaryThreshold float64 `json:"boundary_threshold" yaml:"boundary_threshold"`

	// WindowSentences is how many neighbouring sentences are joined
	// into each comparison window. Default: 3.
	WindowSentences int `json:"window_sentences" yaml:"window_sentences"`

	// FallbackSentences is the chunk size (in sentences) used when the
	// embedder is unavailable or fails. Default: 5.
	FallbackSentences int `json:"fallback_sentences" yaml:"fallback_sentences"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BoundaryThreshold <= 0 {
		c.BoundaryThreshold = 0.22
	}
	if c.WindowSentences <= 0 {
		c.WindowSentences = 3
	}
	if c.FallbackSentences <= 0 {
		c.FallbackSentences = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Chunker splits text at semantic boundaries. It is stateless: boundaries
// are a pure function of the input text and the configured thresholds.
type Chunker struct {
	cfg Config
}

// New creates a Chunker with the given configuration.
func New(cfg Config) *Chunker {
	cfg.defaults()
	return &Chunker{cfg: cfg}
}

// Chunk splits text into coherent chunks, in input order. Text equal to
// the NOT_FOUND sentinel (case-insensitive) or empty after scrubbing
// produces zero chunks and no embedding calls.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]string, error) {
	if !extract.IsFound(text) {
		return nil, nil
	}
	cleaned := strings.TrimSpace(Scrub(text))
	if cleaned == "" {
		return nil, nil
	}

	sentences := splitSentences(cleaned)
	if len(sentences) <= c.cfg.WindowSentences {
		return []string{strings.Join(sentences, " ")}, nil
	}

	boundaries, err := c.semanticBoundaries(ctx, sentences)
	if err != nil {
		// Degraded mode: fixed sentence grouping still lets ingestion
		// finish; precision suffers, availability does not.
		c.cfg.Logger.Warn("semantic boundary detection failed, using fixed grouping", "error", err)
		return group(sentences, c.cfg.FallbackSentences), nil
	}

	return assemble(sentences, boundaries), nil
}

// semanticBoundaries embeds a sliding window around each sentence and
// returns the indexes after which a new chunk starts.
func (c *Chunker) semanticBoundaries(ctx context.Context, sentences []string) ([]int, error) {
	if c.cfg.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	windows := make([]string, len(sentences))
	half := c.cfg.WindowSentences / 2
	for i := range sentences {
		lo := max(0, i-half)
		hi := min(len(sentences), i+half+1)
		windows[i] = strings.Join(sentences[lo:hi], " ")
	}

	vecs, err := c.cfg.Embedder.EmbedBatch(ctx, windows)
	if err != nil {
		return nil, err
	}

	var boundaries []int
	for i := 0; i < len(vecs)-1; i++ {
		if cosineDistance(vecs[i], vecs[i+1]) > c.cfg.BoundaryThreshold {
			boundaries = append(boundaries, i)
		}
	}
	return boundaries, nil
}

func splitSentences(text string) []string {
	matches := sentenceSplit.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	out := make([]string, 0, len(matches)+1)
	end := 0
	for _, m := range matches {
		if s := strings.TrimSpace(text[m[0]:m[1]]); s != "" {
			out = append(out, s)
		}
		end = m[1]
	}
	// Text past the last period is still a sentence; dropping it would
	// lose the tail of any section that does not end with one.
	if tail := strings.TrimSpace(text[end:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// assemble joins sentences into chunks, cutting after each boundary index.
func assemble(sentences []string, boundaries []int) []string {
	cut := make(map[int]bool, len(boundaries))
	for _, b := range boundaries {
		cut[b] = true
	}

	var chunks []string
	var current []string
	for i, s := range sentences {
		current = append(current, s)
		if cut[i] {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

func group(sentences []string, size int) []string {
	var chunks []string
	for i := 0; i < len(sentences); i += size {
		chunks = append(chunks, strings.Join(sentences[i:min(i+size, len(sentences))], " "))
	}
	return chunks
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
