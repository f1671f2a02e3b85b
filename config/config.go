// Package config holds the innoscand configuration: YAML file with
// environment-variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full innoscand configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Postgres PostgresConfig `yaml:"postgres"`
	Minio    MinioConfig    `yaml:"minio"`
	Model    ModelConfig    `yaml:"model"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Events   EventsConfig   `yaml:"events"`
	MCP      MCPConfig      `yaml:"mcp"`
}

// PostgresConfig configures the document and vector stores.
type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// MinioConfig configures the PDF blob store.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
	BaseURL   string `yaml:"base_url"`
}

// ModelConfig configures the LLM endpoints.
type ModelConfig struct {
	ExtractEndpoint string        `yaml:"extract_endpoint"`
	ExtractModel    string        `yaml:"extract_model"`
	EmbedEndpoint   string        `yaml:"embed_endpoint"`
	EmbedModel      string        `yaml:"embed_model"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
}

// PipelineConfig tunes chunking and similarity.
type PipelineConfig struct {
	EmbedDimension      int     `yaml:"embed_dimension"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	SimilarityLimit     int     `yaml:"similarity_limit"`
	Language            string  `yaml:"language"`
}

// EventsConfig configures the SQLite pipeline-event store.
type EventsConfig struct {
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// MCPConfig configures the optional MCP stdio surface.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8080",
		LogLevel: "info",
		Postgres: PostgresConfig{
			DSN:   "postgres://postgres@localhost:5432/innoscan",
			Table: "innovations",
		},
		Minio: MinioConfig{
			Endpoint: "localhost:9000",
			Bucket:   "ai-innovation",
		},
		Pipeline: PipelineConfig{
			EmbedDimension:      768,
			SimilarityThreshold: 0.5,
			SimilarityLimit:     10,
			Language:            "english",
		},
		Events: EventsConfig{
			DBPath:        "innoscan_events.db",
			RetentionDays: 30,
		},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig
// merged with the file and environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// FromEnv returns DefaultConfig with environment overrides applied,
// for deployments that configure everything through the environment.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv overrides credentials and endpoints from the environment, so
// secrets can stay out of the config file.
func (c *Config) applyEnv() {
	setString(&c.Postgres.DSN, "INNOSCAN_PG_DSN")
	setString(&c.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Minio.Bucket, "MINIO_BUCKET")
	setString(&c.Minio.BaseURL, "MINIO_BASE_URL")
	setBool(&c.Minio.UseSSL, "MINIO_SECURE")
	setString(&c.Model.APIKey, "INNOSCAN_MODEL_API_KEY")
	setString(&c.Model.ExtractEndpoint, "INNOSCAN_EXTRACT_ENDPOINT")
	setString(&c.Model.EmbedEndpoint, "INNOSCAN_EMBED_ENDPOINT")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, env string) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Postgres.Table == "" {
		return fmt.Errorf("postgres.table is required")
	}
	if c.Minio.Bucket == "" {
		return fmt.Errorf("minio.bucket is required")
	}
	if c.Pipeline.EmbedDimension <= 0 {
		return fmt.Errorf("pipeline.embed_dimension must be > 0")
	}
	if c.Pipeline.SimilarityThreshold < 0 || c.Pipeline.SimilarityThreshold >= 1 {
		return fmt.Errorf("pipeline.similarity_threshold must be in [0, 1)")
	}
	if c.Pipeline.SimilarityLimit <= 0 {
		return fmt.Errorf("pipeline.similarity_limit must be > 0")
	}
	if c.Events.DBPath == "" {
		return fmt.Errorf("events.db_path is required")
	}
	return nil
}
