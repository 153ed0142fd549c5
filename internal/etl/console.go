package etl

import (
	"context"
	"io"
	"sync"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/logger"
)

type ConsoleOptions struct{}

// ConsoleWriter prints each chunk's line-delimited records. Concurrent streams
// share the output, so writes are serialized per chunk.
type ConsoleWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleWriter(_ context.Context, _ *ConsoleOptions, d Deps) (Writer, error) {
	return NewConsoleWriter(d.stdout()), nil
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

func (c *ConsoleWriter) Type() string { return "console" }

func (c *ConsoleWriter) Write(_ context.Context, chunk *stream.Chunk, key partition.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger.Debug("printing chunk", "key", key, "records", chunk.Len())
	_, err := chunk.WriteTo(c.out)
	return err
}
