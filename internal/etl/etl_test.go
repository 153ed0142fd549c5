package etl

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/models"
)

// sliceReader yields its records and then, when set, err. pulled counts the
// records handed out.
type sliceReader struct {
	records []models.Mapping
	err     error
	pulled  int
}

func (r *sliceReader) Type() string { return "fake" }

func (r *sliceReader) Produce(context.Context) iter.Seq2[models.Mapping, error] {
	return func(yield func(models.Mapping, error) bool) {
		for _, m := range r.records {
			r.pulled++
			if !yield(m, nil) {
				return
			}
		}
		if r.err != nil {
			yield(nil, r.err)
		}
	}
}

func users(n int) []models.Mapping {
	out := make([]models.Mapping, n)
	for i := range out {
		out[i] = models.Mapping{
			{Key: "id", Value: models.Int(int64(i + 1))},
			{Key: "profile", Value: models.Mapping{{Key: "active", Value: models.Bool(i%2 == 0)}}},
		}
	}
	return out
}

type written struct {
	stream string
	key    partition.Key
	n      int
	body   string
}

// recordingWriter keeps every chunk it receives and fails the chunk whose
// ordinal is failAt.
type recordingWriter struct {
	name   string
	failAt int
	calls  int
	mu     sync.Mutex
	chunks []written
}

func newRecordingWriter(name string) *recordingWriter {
	return &recordingWriter{name: name, failAt: -1}
}

func (w *recordingWriter) Type() string { return w.name }

func (w *recordingWriter) Write(_ context.Context, c *stream.Chunk, key partition.Key) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if c.Ordinal == w.failAt {
		return errors.New("disk full")
	}
	w.chunks = append(w.chunks, written{stream: c.Stream, key: key, n: c.Len(), body: string(c.Bytes())})
	return nil
}

func (w *recordingWriter) keys() []partition.Key {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]partition.Key, len(w.chunks))
	for i, c := range w.chunks {
		out[i] = c.key
	}
	return out
}

func testChunk(t *testing.T, name string, ordinal int, recs ...models.Flat) *stream.Chunk {
	t.Helper()
	c, err := stream.NewChunk(name, ordinal, recs...)
	require.NoError(t, err)
	return c
}

func testNormalizer(t *testing.T) *stream.Normalizer {
	t.Helper()
	n, err := stream.NewNormalizer(stream.Policy{})
	require.NoError(t, err)
	return n
}
