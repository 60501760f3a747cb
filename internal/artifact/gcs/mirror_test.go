package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type bufferWriter struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (w *bufferWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func TestUploadCopiesFile(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "amazon_order_2021-03-03_111.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o600))

	var gotBucket, gotObject string
	w := &bufferWriter{}
	m, err := NewWithWriter(func(_ context.Context, bucket, object string) io.WriteCloser {
		gotBucket, gotObject = bucket, object
		return w
	}, Config{Bucket: "orders", Prefix: "/archive/"})
	require.NoError(t, err)

	uri, err := m.Upload(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, "gs://orders/archive/amazon_order_2021-03-03_111.pdf", uri)
	require.Equal(t, "orders", gotBucket)
	require.Equal(t, "archive/amazon_order_2021-03-03_111.pdf", gotObject)
	require.Equal(t, "%PDF-1.4", w.String())
	require.True(t, w.closed)
}

func TestUploadCloseError(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	m, err := NewWithWriter(func(context.Context, string, string) io.WriteCloser {
		return &bufferWriter{closeErr: errors.New("boom")}
	}, Config{Bucket: "orders"})
	require.NoError(t, err)

	_, err = m.Upload(context.Background(), src)
	require.ErrorContains(t, err, "close writer")
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	m, err := NewWithWriter(func(context.Context, string, string) io.WriteCloser {
		return &bufferWriter{}
	}, Config{Bucket: "orders"})
	require.NoError(t, err)

	_, err = m.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = NewWithWriter(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = NewWithWriter(func(context.Context, string, string) io.WriteCloser { return nil }, Config{})
	require.Error(t, err)
}
