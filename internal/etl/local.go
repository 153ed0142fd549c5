package etl

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/logger"
)

type LocalOptions struct {
	Dir         string `mapstructure:"dir" validate:"required"`
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=none zstd"`
}

// LocalWriter writes each chunk to <dir>/<key><ext>. The file is written to
// a temporary name and renamed into place, so a key is either absent, the old
// content or the new content.
type LocalWriter struct {
	fs  afero.Fs
	dir string
	enc encoding
}

func newLocalWriter(_ context.Context, o *LocalOptions, d Deps) (Writer, error) {
	w, err := NewLocalWriter(d.fs(), *o)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func NewLocalWriter(fs afero.Fs, o LocalOptions) (*LocalWriter, error) {
	enc, err := newEncoding(o.Compression)
	if err != nil {
		return nil, err
	}
	return &LocalWriter{fs: fs, dir: o.Dir, enc: enc}, nil
}

func (l *LocalWriter) Type() string { return "local" }

// Path is the file a key is written to.
func (l *LocalWriter) Path(key partition.Key) string {
	return filepath.Join(l.dir, filepath.FromSlash(string(key))+l.enc.extension())
}

func (l *LocalWriter) Write(_ context.Context, chunk *stream.Chunk, key partition.Key) error {
	path := l.Path(key)
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp-" + uuid.NewString()
	f, err := l.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := l.enc.copyTo(f, chunk); err != nil {
		_ = f.Close()
		_ = l.fs.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = l.fs.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := l.fs.Rename(tmp, path); err != nil {
		_ = l.fs.Remove(tmp)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	logger.Debug("wrote chunk", "path", path, "records", chunk.Len())
	return nil
}
