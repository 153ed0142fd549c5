package etl

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/metrics"
)

func newTestPipeline(t *testing.T, tmpl string, limit stream.Limit, dryRun bool) *Pipeline {
	t.Helper()
	r, err := partition.NewResolver(tmpl)
	require.NoError(t, err)
	p, err := NewEnhancedPipeline(r, limit, 2, dryRun)
	require.NoError(t, err)
	p.Context = partition.Context{RunDate: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), RunID: "run-1"}
	return p
}

func userTask(t *testing.T, name string, r Reader) Task {
	t.Helper()
	return Task{Name: name, Reader: r, Normalizer: testNormalizer(t)}
}

func TestNewEnhancedPipeline(t *testing.T) {
	t.Run("Should reject an invalid chunk limit", func(t *testing.T) {
		_, err := NewEnhancedPipeline(nil, stream.RecordLimit(0), 1, false)
		var ce *etlerr.ConfigurationError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("Should default the resolver and concurrency", func(t *testing.T) {
		p, err := NewEnhancedPipeline(nil, stream.RecordLimit(10), 0, false)
		require.NoError(t, err)
		assert.Equal(t, partition.DefaultTemplate, p.Resolver.Template())
		assert.Equal(t, 1, p.Concurrency)
	})
}

func TestPipeline_Run(t *testing.T) {
	t.Run("Should hand every chunk to every writer under its key", func(t *testing.T) {
		p := newTestPipeline(t, "", stream.RecordLimit(2), false)
		a, b := newRecordingWriter("a"), newRecordingWriter("b")

		reports := p.Run(context.Background(), []Task{userTask(t, "users", &sliceReader{records: users(5)})}, []Writer{a, b})

		require.Len(t, reports, 1)
		rep := reports[0]
		require.NoError(t, rep.Err)
		assert.Equal(t, 5, rep.Records)
		assert.Equal(t, 3, rep.Chunks)
		want := []partition.Key{"users_00000", "users_00001", "users_00002"}
		assert.Equal(t, want, a.keys())
		assert.Equal(t, want, b.keys())
		assert.Equal(t, "{\"id\":1,\"profile.active\":true}\n{\"id\":2,\"profile.active\":false}\n", a.chunks[0].body)
		require.NotNil(t, rep.LastWritten)
		assert.Equal(t, ChunkRef{Ordinal: 2, Key: "users_00002", Records: 1}, *rep.LastWritten)
	})

	t.Run("Should resolve keys from the run context", func(t *testing.T) {
		p := newTestPipeline(t, "{name}/{date}/{run}-{ordinal:2}", stream.RecordLimit(10), false)
		w := newRecordingWriter("a")

		reports := p.Run(context.Background(), []Task{userTask(t, "users", &sliceReader{records: users(1)})}, []Writer{w})

		require.NoError(t, reports[0].Err)
		assert.Equal(t, []partition.Key{"users/2024-05-06/run-1-00"}, w.keys())
	})

	t.Run("Should not call writers in dry-run mode", func(t *testing.T) {
		p := newTestPipeline(t, "", stream.RecordLimit(2), true)
		w := newRecordingWriter("a")

		reports := p.Run(context.Background(), []Task{userTask(t, "users", &sliceReader{records: users(5)})}, []Writer{w})

		require.NoError(t, reports[0].Err)
		assert.Equal(t, 3, reports[0].Chunks)
		assert.Zero(t, w.calls)
	})

	t.Run("Should stop a stream whose template repeats a key", func(t *testing.T) {
		p := newTestPipeline(t, "{name}", stream.RecordLimit(2), false)
		w := newRecordingWriter("a")

		reports := p.Run(context.Background(), []Task{userTask(t, "users", &sliceReader{records: users(3)})}, []Writer{w})

		var ae *etlerr.AmbiguousPartitionError
		require.ErrorAs(t, reports[0].Err, &ae)
		assert.Equal(t, 0, ae.First)
		assert.Equal(t, 1, ae.Second)
		assert.Equal(t, []partition.Key{"users"}, w.keys())
		assert.Equal(t, 0, reports[0].LastWritten.Ordinal)
	})

	t.Run("Should report the failing writer and the last durable chunk", func(t *testing.T) {
		p := newTestPipeline(t, "", stream.RecordLimit(1), false)
		a, b := newRecordingWriter("a"), newRecordingWriter("b")
		a.failAt = 2

		reports := p.Run(context.Background(), []Task{userTask(t, "users", &sliceReader{records: users(5)})}, []Writer{a, b})

		var de *etlerr.DestinationError
		require.ErrorAs(t, reports[0].Err, &de)
		assert.Equal(t, "a", de.Writer)
		assert.Equal(t, 2, de.Ordinal)
		assert.Equal(t, "users_00002", de.Key)
		assert.Equal(t, 2, reports[0].Chunks)
		assert.Equal(t, "users_00001", string(reports[0].LastWritten.Key))
		assert.Len(t, b.keys(), 2)
	})

	t.Run("Should keep running other streams when one fails", func(t *testing.T) {
		p := newTestPipeline(t, "", stream.RecordLimit(10), false)
		w := newRecordingWriter("a")
		tasks := []Task{
			userTask(t, "broken", &sliceReader{records: users(1), err: errors.New("401 unauthorized")}),
			userTask(t, "users", &sliceReader{records: users(3)}),
		}

		reports := p.Run(context.Background(), tasks, []Writer{w})

		require.Len(t, reports, 2)
		assert.Equal(t, "broken", reports[0].Stream)
		var se *etlerr.SourceError
		assert.ErrorAs(t, reports[0].Err, &se)
		assert.Nil(t, reports[0].LastWritten)
		assert.NoError(t, reports[1].Err)
		assert.Equal(t, []partition.Key{"users_00000"}, w.keys())
		assert.Len(t, Failed(reports), 1)
	})

	t.Run("Should stop before the next chunk once cancelled", func(t *testing.T) {
		p := newTestPipeline(t, "", stream.RecordLimit(1), false)
		w := newRecordingWriter("a")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		reports := p.Run(ctx, []Task{userTask(t, "users", &sliceReader{records: users(3)})}, []Writer{w})

		assert.ErrorIs(t, reports[0].Err, context.Canceled)
		assert.Zero(t, w.calls)
	})

	t.Run("Should not pull another chunk after a cancel during a write", func(t *testing.T) {
		p := newTestPipeline(t, "", stream.RecordLimit(1), false)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		src := &sliceReader{records: users(3)}
		w := &cancellingWriter{recordingWriter: newRecordingWriter("a"), cancel: cancel}

		reports := p.Run(ctx, []Task{userTask(t, "users", src)}, []Writer{w})

		assert.ErrorIs(t, reports[0].Err, context.Canceled)
		assert.Equal(t, 1, src.pulled)
		assert.Equal(t, 0, reports[0].LastWritten.Ordinal)
	})

	t.Run("Should refuse several streams under a template without a name", func(t *testing.T) {
		p := newTestPipeline(t, "report_{date}_{ordinal}", stream.RecordLimit(10), false)
		w := newRecordingWriter("a")
		tasks := []Task{
			userTask(t, "users", &sliceReader{records: users(2)}),
			userTask(t, "orders", &sliceReader{records: users(3)}),
		}

		reports := p.Run(context.Background(), tasks, []Writer{w})

		require.Len(t, reports, 2)
		for _, r := range reports {
			var ce *etlerr.ConfigurationError
			require.ErrorAs(t, r.Err, &ce)
			assert.Equal(t, "partition.template", ce.Field)
		}
		assert.Zero(t, w.calls)
	})

	t.Run("Should refuse the same stream twice in one run", func(t *testing.T) {
		p := newTestPipeline(t, "", stream.RecordLimit(10), false)
		w := newRecordingWriter("a")
		tasks := []Task{
			userTask(t, "users", &sliceReader{records: users(2)}),
			userTask(t, "users", &sliceReader{records: users(2)}),
		}

		reports := p.Run(context.Background(), tasks, []Writer{w})

		var ce *etlerr.ConfigurationError
		require.ErrorAs(t, reports[0].Err, &ce)
		require.ErrorAs(t, reports[1].Err, &ce)
		assert.Zero(t, w.calls)
	})

	t.Run("Should allow one stream under a template without a name", func(t *testing.T) {
		p := newTestPipeline(t, "report_{date}_{ordinal}", stream.RecordLimit(10), false)
		w := newRecordingWriter("a")

		reports := p.Run(context.Background(), []Task{userTask(t, "users", &sliceReader{records: users(2)})}, []Writer{w})

		require.NoError(t, reports[0].Err)
		assert.Equal(t, []partition.Key{"report_2024-05-06_00000"}, w.keys())
	})

	t.Run("Should count written chunks per writer", func(t *testing.T) {
		p := newTestPipeline(t, "", stream.RecordLimit(2), false)
		p.Metrics = metrics.New()

		p.Run(context.Background(), []Task{userTask(t, "users", &sliceReader{records: users(5)})}, []Writer{newRecordingWriter("a")})

		expected := `
# HELP ack_chunks_written_total Chunks persisted by a writer.
# TYPE ack_chunks_written_total counter
ack_chunks_written_total{stream="users",writer="a"} 3
`
		require.NoError(t, testutil.GatherAndCompare(p.Metrics.Registry(), strings.NewReader(expected), "ack_chunks_written_total"))
	})
}

func TestPipeline_Checkpoints(t *testing.T) {
	t.Run("Should save a checkpoint on failure and clear it on success", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		p := newTestPipeline(t, "", stream.RecordLimit(1), false)
		p.Checkpoints = NewCheckpoints(fs, "state")
		w := newRecordingWriter("a")
		w.failAt = 1

		p.Run(context.Background(), []Task{userTask(t, "users", &sliceReader{records: users(3)})}, []Writer{w})

		cp, ok := p.Checkpoints.Load("users")
		require.True(t, ok)
		assert.Equal(t, "run-1", cp.RunID)
		assert.Equal(t, 0, cp.LastOrdinal)
		assert.Equal(t, partition.Key("users_00000"), cp.LastKey)
		assert.Contains(t, cp.Error, "disk full")

		w.failAt = -1
		reports := p.Run(context.Background(), []Task{userTask(t, "users", &sliceReader{records: users(3)})}, []Writer{w})
		require.NoError(t, reports[0].Err)
		_, ok = p.Checkpoints.Load("users")
		assert.False(t, ok)
	})

	t.Run("Should record no chunk when nothing was written", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		cps := NewCheckpoints(fs, "state")

		cps.Save("run-2", Report{Stream: "orders", Err: errors.New("boom")})

		cp, ok := cps.Load("orders")
		require.True(t, ok)
		assert.Equal(t, -1, cp.LastOrdinal)
		assert.Empty(t, cp.LastKey)
	})

	t.Run("Should do nothing without a checkpoint directory", func(t *testing.T) {
		cps := NewCheckpoints(afero.NewMemMapFs(), "")
		cps.Save("run", Report{Stream: "x"})
		cps.Clear("x")
		_, ok := cps.Load("x")
		assert.False(t, ok)
	})
}

// cancellingWriter records the chunk and then cancels the run.
type cancellingWriter struct {
	*recordingWriter
	cancel context.CancelFunc
}

func (w *cancellingWriter) Write(ctx context.Context, c *stream.Chunk, key partition.Key) error {
	err := w.recordingWriter.Write(ctx, c, key)
	w.cancel()
	return err
}
