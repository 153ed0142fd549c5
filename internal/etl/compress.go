package etl

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/etlerr"
)

const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// encoding describes how a chunk is laid down as bytes.
type encoding struct {
	compression string
}

func newEncoding(compression string) (encoding, error) {
	switch compression {
	case "", CompressionNone:
		return encoding{compression: CompressionNone}, nil
	case CompressionZstd:
		return encoding{compression: CompressionZstd}, nil
	default:
		return encoding{}, etlerr.Configf("compression", "unknown compression %q", compression)
	}
}

func (e encoding) extension() string {
	if e.compression == CompressionZstd {
		return stream.Extension + ".zst"
	}
	return stream.Extension
}

func (e encoding) contentEncoding() string {
	if e.compression == CompressionZstd {
		return "zstd"
	}
	return ""
}

// copyTo writes the chunk's serialization to w, compressing when configured.
func (e encoding) copyTo(w io.Writer, chunk *stream.Chunk) error {
	if e.compression != CompressionZstd {
		_, err := chunk.WriteTo(w)
		return err
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd: %w", err)
	}
	if _, err := chunk.WriteTo(enc); err != nil {
		_ = enc.Close()
		return fmt.Errorf("zstd: %w", err)
	}
	return enc.Close()
}

// body returns a fresh reader over the encoded chunk.
func (e encoding) body(chunk *stream.Chunk) (io.Reader, error) {
	if e.compression != CompressionZstd {
		return chunk.Reader(), nil
	}
	var buf bytes.Buffer
	if err := e.copyTo(&buf, chunk); err != nil {
		return nil, err
	}
	return &buf, nil
}
