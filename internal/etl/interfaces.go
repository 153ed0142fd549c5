package etl

import (
	"context"
	"iter"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/models"
)

// Reader produces raw records for one logical source. Produce must not start
// any I/O until the returned sequence is ranged over, and it must stop as soon
// as yield returns false.
type Reader interface {
	Type() string
	Produce(ctx context.Context) iter.Seq2[models.Mapping, error]
}

// Writer persists one chunk under one partition key. Writing the same chunk
// to the same key twice must leave the destination as if written once.
type Writer interface {
	Type() string
	Write(ctx context.Context, chunk *stream.Chunk, key partition.Key) error
}

// Closer is implemented by connectors that hold a client or a pool.
type Closer interface {
	Close(ctx context.Context) error
}
