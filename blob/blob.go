// Package blob stores uploaded PDF documents in S3-compatible object
// storage and hands back stable public links for them.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store is the object-storage surface the ingestion pipeline needs.
type Store interface {
	// Put uploads the object and returns its public link.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get streams the object back.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}

// Config configures a MinIO-backed Store.
type Config struct {
	// Endpoint is the MinIO host:port, without scheme.
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// Bucket receives all objects. Created on New if missing.
	Bucket string

	// BaseURL is the public prefix for links, e.g. "https://files.example.org".
	// Defaults to the endpoint with the matching scheme.
	BaseURL string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		scheme := "http"
		if c.UseSSL {
			scheme = "https"
		}
		c.BaseURL = scheme + "://" + c.Endpoint
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type minioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
	log     *slog.Logger
}

// New connects to MinIO and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (Store, error) {
	cfg.defaults()
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: connect %s: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blob: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("blob: create bucket %s: %w", cfg.Bucket, err)
		}
		cfg.Logger.Info("bucket created", "bucket", cfg.Bucket)
	}

	return &minioStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		log:     cfg.Logger,
	}, nil
}

func (s *minioStore) link(key string) string {
	return s.baseURL + "/" + s.bucket + "/" + key
}

func (s *minioStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("blob: put %s: %w", key, err)
	}
	s.log.Debug("object stored", "bucket", s.bucket, "key", key, "bytes", len(data))
	return s.link(key), nil
}

func (s *minioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blob: get %s: %w", key, err)
	}
	// GetObject is lazy; surface missing objects now rather than on
	// the first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("blob: stat %s: %w", key, err)
	}
	return obj, nil
}

func (s *minioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}
