// Package extract turns submitted PDF documents into named text sections
// using a multimodal language model behind an OpenAI-compatible API.
//
// The model is asked for a JSON object mapping section names to extracted
// text. Model output is rarely clean JSON, so the package also carries the
// salvage parser that recovers sections from fenced code blocks or loose
// brace spans before giving up and filling the NOT_FOUND sentinel.
//
// Usage:
//
//	ex := extract.New(extract.Config{
//	    Endpoint: "http://localhost:8001",
//	    Model:    "gemini-2.0-flash",
//	})
//	out, err := ex.Sections(ctx, pdfBytes, extract.SectionKeys)
//	sections := extract.ParseSections(out)
package extract

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// NotFound marks a section the extractor ran over but could not locate.
// It is distinct from an empty string, which means "never populated".
const NotFound = "NOT_FOUND"

// SectionKeys are the fixed section names requested from the extractor.
var SectionKeys = []string{"background", "purpose", "description"}

// Sections holds the fixed set of extracted document sections.
// Absent sections carry the NotFound sentinel, never an empty field map.
type Sections struct {
	Background  string `json:"background"`
	Purpose     string `json:"purpose"`
	Description string `json:"description"`
}

// SectionsFromMap builds Sections from a key→text map, filling NotFound
// for any missing key.
func SectionsFromMap(m map[string]string) Sections {
	get := func(key string) string {
		if v, ok := m[key]; ok && v != "" {
			return v
		}
		return NotFound
	}
	return Sections{
		Background:  get("background"),
		Purpose:     get("purpose"),
		Description: get("description"),
	}
}

// Map returns the sections as a key→text map over SectionKeys.
func (s Sections) Map() map[string]string {
	return map[string]string{
		"background":  s.Background,
		"purpose":     s.Purpose,
		"description": s.Description,
	}
}

// IsFound reports whether text carries real content rather than the
// sentinel. The comparison is case-insensitive.
func IsFound(text string) bool {
	t := strings.TrimSpace(text)
	return t != "" && !strings.EqualFold(t, NotFound)
}

// AllMissing reports whether every section is empty or the sentinel.
func (s Sections) AllMissing() bool {
	return !IsFound(s.Background) && !IsFound(s.Purpose) && !IsFound(s.Description)
}

// Concat joins all found sections in declaration order, separated by
// newlines. Sentinel sections contribute nothing.
func (s Sections) Concat() string {
	var parts []string
	for _, key := range SectionKeys {
		if text := s.Map()[key]; IsFound(text) {
			parts = append(parts, strings.TrimSpace(text))
		}
	}
	return strings.Join(parts, "\n")
}

// Output is the raw result of a section extraction call. Either Sections
// is populated (the model returned parseable JSON) or RawResponse holds
// the unparsed model text for the salvage parser.
type Output struct {
	Sections    map[string]string
	RawResponse string
}

// Extractor drives the multimodal model.
type Extractor interface {
	// Sections asks the model to extract the named sections from a PDF.
	Sections(ctx context.Context, pdf []byte, keys []string) (Output, error)

	// Prompt sends a free-form prompt, optionally grounded on a PDF
	// (pdf may be nil), and returns the raw model text.
	Prompt(ctx context.Context, pdf []byte, prompt string) (string, error)
}

// Config configures the extraction client.
type Config struct {
	// Endpoint is the base URL of the OpenAI-compatible chat server.
	// If empty, New returns a noop extractor for testing.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Timeout per HTTP request. Default: 120s, multimodal PDF calls are slow.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Extractor from config. An empty Endpoint returns a
// NoopExtractor that reports every section as NotFound.
func New(cfg Config) Extractor {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return &NoopExtractor{}
	}
	return newChatClient(cfg)
}

// NoopExtractor reports every requested section as NotFound. Useful for
// running the pipeline without a model server.
type NoopExtractor struct{}

func (NoopExtractor) Sections(_ context.Context, _ []byte, keys []string) (Output, error) {
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		m[k] = NotFound
	}
	return Output{Sections: m}, nil
}

func (NoopExtractor) Prompt(_ context.Context, _ []byte, _ string) (string, error) {
	return "", nil
}
