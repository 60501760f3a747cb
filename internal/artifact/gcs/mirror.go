// Package gcs mirrors produced documents to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to mirror into GCS.
type Config struct {
	Bucket string
	Prefix string
}

// ObjectWriterFactory opens a writer for bucket/object. Tests swap it out.
type ObjectWriterFactory func(ctx context.Context, bucket, object string) io.WriteCloser

// Mirror uploads local artifacts to a bucket.
type Mirror struct {
	bucket    string
	prefix    string
	newWriter ObjectWriterFactory
}

// New creates a GCS-backed mirror.
func New(client *storage.Client, cfg Config) (*Mirror, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return NewWithWriter(func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/pdf"
		return w
	}, cfg)
}

// NewWithWriter creates a mirror around a custom writer factory.
func NewWithWriter(factory ObjectWriterFactory, cfg Config) (*Mirror, error) {
	if factory == nil {
		return nil, errors.New("writer factory is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &Mirror{bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/"), newWriter: factory}, nil
}

// ObjectName returns the object key used for localPath.
func (m *Mirror) ObjectName(localPath string) string {
	return path.Join(m.prefix, filepath.Base(localPath))
}

// Upload copies localPath to the bucket and returns a gs:// URI.
func (m *Mirror) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath) // #nosec G304 -- path comes from the output directory
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	object := m.ObjectName(localPath)
	writer := m.newWriter(ctx, m.bucket, object)
	if _, err := io.Copy(writer, f); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", m.bucket, object), nil
}
