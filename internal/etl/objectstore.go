package etl

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/logger"
)

// Bucket is the part of an object store client the writer needs.
type Bucket interface {
	Name() string
	// Exists fails when the bucket is missing or not accessible.
	Exists(ctx context.Context) error
	Put(ctx context.Context, object string, body io.Reader, contentType, contentEncoding string) error
	URI(object string) string
}

type ObjectStorageOptions struct {
	Bucket      string `mapstructure:"bucket" validate:"required"`
	Prefix      string `mapstructure:"prefix"`
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=none zstd"`
}

// ObjectStorageWriter uploads each chunk as one object named
// <prefix>/<key><ext>. Uploading a key again overwrites the object.
type ObjectStorageWriter struct {
	typ    string
	bucket Bucket
	prefix string
	enc    encoding
	client io.Closer
}

// NewObjectStorageWriter checks that the bucket exists before returning.
func NewObjectStorageWriter(ctx context.Context, typ string, b Bucket, o ObjectStorageOptions) (*ObjectStorageWriter, error) {
	enc, err := newEncoding(o.Compression)
	if err != nil {
		return nil, err
	}
	if err := b.Exists(ctx); err != nil {
		return nil, fmt.Errorf("bucket %s: %w", b.Name(), err)
	}
	return &ObjectStorageWriter{
		typ:    typ,
		bucket: b,
		prefix: strings.Trim(o.Prefix, "/"),
		enc:    enc,
	}, nil
}

func (w *ObjectStorageWriter) Type() string { return w.typ }

func (w *ObjectStorageWriter) Close(context.Context) error {
	if w.client == nil {
		return nil
	}
	return w.client.Close()
}

// Object is the object name a key is uploaded to.
func (w *ObjectStorageWriter) Object(key partition.Key) string {
	name := string(key) + w.enc.extension()
	if w.prefix == "" {
		return name
	}
	return path.Join(w.prefix, name)
}

func (w *ObjectStorageWriter) Write(ctx context.Context, chunk *stream.Chunk, key partition.Key) error {
	object := w.Object(key)
	body, err := w.enc.body(chunk)
	if err != nil {
		return err
	}
	if err := w.bucket.Put(ctx, object, body, stream.ContentType, w.enc.contentEncoding()); err != nil {
		return fmt.Errorf("upload %s: %w", w.bucket.URI(object), err)
	}
	logger.Info("uploaded chunk", "uri", w.bucket.URI(object), "records", chunk.Len(), "bytes", chunk.Size())
	return nil
}
