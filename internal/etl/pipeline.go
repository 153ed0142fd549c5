package etl

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/logger"
	"github.com/BartekS5/ack/pkg/metrics"
)

// Task is one logical source of a run. It becomes exactly one stream.
type Task struct {
	Name       string
	Reader     Reader
	Normalizer *stream.Normalizer
	Options    []stream.Option
}

// ChunkRef identifies a chunk that every writer persisted.
type ChunkRef struct {
	Ordinal int           `json:"ordinal"`
	Key     partition.Key `json:"key"`
	Records int           `json:"records"`
}

// Report is the outcome of one task: full success, or the error together with
// the last chunk known to be durable.
type Report struct {
	Stream      string
	Records     int
	Skipped     int
	Chunks      int
	Bytes       int64
	LastWritten *ChunkRef
	Err         error
	Duration    time.Duration
}

func (r Report) OK() bool { return r.Err == nil }

type Pipeline struct {
	Resolver    *partition.Resolver
	Limit       stream.Limit
	Concurrency int
	DryRun      bool
	Context     partition.Context
	Metrics     *metrics.Recorder
	Checkpoints *Checkpoints
}

// NewEnhancedPipeline creates a pipeline with dry-run support.
func NewEnhancedPipeline(resolver *partition.Resolver, limit stream.Limit, concurrency int, dryRun bool) (*Pipeline, error) {
	if err := limit.Validate(); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if resolver == nil {
		var err error
		if resolver, err = partition.NewResolver(""); err != nil {
			return nil, err
		}
	}
	return &Pipeline{
		Resolver:    resolver,
		Limit:       limit,
		Concurrency: concurrency,
		DryRun:      dryRun,
	}, nil
}

// Run processes every task, up to Concurrency at a time, and returns one
// report per task in task order. Each stream is pulled by a single goroutine;
// a failing stream does not stop the others. Cancelling ctx stops every
// stream before its next chunk. Tasks whose keys could collide are refused
// before anything is read.
func (p *Pipeline) Run(ctx context.Context, tasks []Task, writers []Writer) []Report {
	reports := make([]Report, len(tasks))
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	if err := p.Resolver.CheckStreams(names); err != nil {
		for i, t := range tasks {
			reports[i] = Report{Stream: t.Name, Err: err}
		}
		return reports
	}
	var g errgroup.Group
	g.SetLimit(p.Concurrency)
	for i, t := range tasks {
		g.Go(func() error {
			reports[i] = p.runTask(ctx, t, writers)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (p *Pipeline) runTask(ctx context.Context, t Task, writers []Writer) Report {
	log := logger.With("stream", t.Name, "run", p.Context.RunID)
	start := time.Now()
	rep := Report{Stream: t.Name}

	if cp, ok := p.Checkpoints.Load(t.Name); ok {
		log.Warn("previous run did not finish", "last_key", cp.LastKey, "last_ordinal", cp.LastOrdinal, "err", cp.Error)
	}
	log.Infof("Starting stream. Reader: %s, Chunk limit: %d %s, DryRun: %v",
		t.Reader.Type(), p.Limit.Size, p.Limit.Unit, p.DryRun)

	opts := append([]stream.Option{stream.WithLogger(log)}, t.Options...)
	s := stream.New(t.Name, t.Reader.Produce(ctx), t.Normalizer, opts...)
	defer s.Close()

	rep.Err = p.drain(ctx, s, writers, &rep, log)
	stats := s.Stats()
	rep.Records = stats.Emitted
	rep.Skipped = stats.Skipped
	rep.Duration = time.Since(start)
	p.Metrics.RecordsEmitted(t.Name, stats.Emitted)
	p.Metrics.RecordsSkipped(t.Name, stats.Skipped)

	if rep.Err != nil {
		log.Error("stream failed", "chunks_written", rep.Chunks, "err", rep.Err)
		if !p.DryRun {
			p.Checkpoints.Save(p.Context.RunID, rep)
		}
		return rep
	}
	if !p.DryRun {
		p.Checkpoints.Clear(t.Name)
	}
	rate := 0.0
	if rep.Duration.Seconds() > 0 {
		rate = float64(rep.Records) / rep.Duration.Seconds()
	}
	log.Infof("Stream done. Records: %d, Chunks: %d, Rate: %.2f records/sec", rep.Records, rep.Chunks, rate)
	return rep
}

func (p *Pipeline) drain(ctx context.Context, s *stream.Stream, writers []Writer, rep *Report, log *charmlog.Logger) error {
	chunks, err := s.Chunks(p.Limit)
	if err != nil {
		return err
	}
	tracker := p.Resolver.Track(s.Name(), p.Context)
	next, stop := iter.Pull2(chunks)
	defer stop()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}
		chunk, err, ok := next()
		if !ok {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}
		key, err := tracker.Key(chunk.Ordinal)
		if err != nil {
			return err
		}
		if p.DryRun {
			log.Infof("[DRY RUN] Would write chunk %d (%d records, %d bytes) as %s", chunk.Ordinal, chunk.Len(), chunk.Size(), key)
		} else if err := p.deliver(ctx, chunk, key, writers); err != nil {
			return err
		}
		rep.Chunks++
		rep.Bytes += int64(chunk.Size())
		rep.LastWritten = &ChunkRef{Ordinal: chunk.Ordinal, Key: key, Records: chunk.Len()}
	}
}

// deliver hands one chunk to every writer in order. The chunk only counts as
// written when all writers succeed.
func (p *Pipeline) deliver(ctx context.Context, chunk *stream.Chunk, key partition.Key, writers []Writer) error {
	for _, w := range writers {
		if err := w.Write(ctx, chunk, key); err != nil {
			p.Metrics.WriteFailed(chunk.Stream, w.Type())
			var de *etlerr.DestinationError
			if errors.As(err, &de) {
				return err
			}
			return &etlerr.DestinationError{Writer: w.Type(), Key: string(key), Ordinal: chunk.Ordinal, Err: err}
		}
		p.Metrics.ChunkWritten(chunk.Stream, w.Type(), chunk.Size())
	}
	return nil
}

// Failed returns the reports that carry an error.
func Failed(reports []Report) []Report {
	var out []Report
	for _, r := range reports {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// NewCheckpoints keeps checkpoint files under dir on fs. An empty dir
// disables checkpoints.
func NewCheckpoints(fs afero.Fs, dir string) *Checkpoints {
	if dir == "" {
		return nil
	}
	return &Checkpoints{fs: fs, dir: dir}
}
