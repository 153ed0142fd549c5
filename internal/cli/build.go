package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/BartekS5/ack/internal/config"
	"github.com/BartekS5/ack/internal/etl"
	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/logger"
)

// plan is a job turned into runnable components.
type plan struct {
	pipeline *etl.Pipeline
	tasks    []etl.Task
	writers  []etl.Writer
	closers  []etl.Closer
}

func (p *plan) close(ctx context.Context) {
	for _, c := range p.closers {
		if err := c.Close(ctx); err != nil {
			logger.Warn("close failed", "err", err)
		}
	}
}

func chunkLimit(job *config.Job) stream.Limit {
	return stream.Limit{Size: job.Chunk.MaxSize, Unit: stream.Unit(job.Chunk.Unit)}
}

func separator(job *config.Job) string {
	if job.Normalize.Separator == "" {
		return "."
	}
	return job.Normalize.Separator
}

// newPipeline checks the job-wide settings: partition template, chunk limit
// and error policy.
func newPipeline(job *config.Job, dryRun bool) (*etl.Pipeline, stream.ErrorPolicy, error) {
	resolver, err := partition.NewResolver(job.Partition.Template)
	if err != nil {
		return nil, 0, err
	}
	names := make([]string, len(job.Sources))
	for i, src := range job.Sources {
		names[i] = src.Name
	}
	if err := resolver.CheckStreams(names); err != nil {
		return nil, 0, err
	}
	policy, err := stream.ParseErrorPolicy(job.Normalize.OnError)
	if err != nil {
		return nil, 0, err
	}
	p, err := etl.NewEnhancedPipeline(resolver, chunkLimit(job), job.Run.Concurrency, dryRun)
	if err != nil {
		return nil, 0, err
	}
	return p, policy, nil
}

// newTask builds the normalizer and stream options of one source. The reader
// is attached by the caller.
func newTask(job *config.Job, src config.SourceConfig, policy stream.ErrorPolicy, d etl.Deps) (etl.Task, error) {
	mapping, err := src.LoadMapping(d.Fs)
	if err != nil {
		return etl.Task{}, err
	}
	n, err := stream.NewNormalizer(stream.Policy{
		Separator:     job.Normalize.Separator,
		JoinDelimiter: job.Normalize.JoinDelimiter,
		Expand:        mapping.Expand,
		NormalizeKeys: job.Normalize.NormalizeKeys,
	})
	if err != nil {
		return etl.Task{}, err
	}
	opts := []stream.Option{
		stream.WithErrorPolicy(policy),
		stream.WithTransformers(etl.BuildTransformers(mapping, separator(job))...),
	}
	if len(mapping.Required) > 0 {
		opts = append(opts, stream.WithValidator(etl.NewValidator(mapping.Required).ValidateRecord))
	}
	return etl.Task{Name: src.Name, Normalizer: n, Options: opts}, nil
}

// buildPlan connects every reader and, unless dryRun, every writer. On error
// the connectors built so far are closed.
func buildPlan(ctx context.Context, job *config.Job, dryRun bool, d etl.Deps) (_ *plan, err error) {
	p, policy, err := newPipeline(job, dryRun)
	if err != nil {
		return nil, err
	}
	pl := &plan{pipeline: p}
	defer func() {
		if err != nil {
			pl.close(context.WithoutCancel(ctx))
		}
	}()

	for _, src := range job.Sources {
		logger.Debug("building reader", "source", src.Name, "type", src.Type, "options", etl.MaskOptions(src.Options))
		task, err := newTask(job, src, policy, d)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		r, err := etl.NewReader(ctx, src.Type, src.Name, src.Options, d)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name, err)
		}
		if c, ok := r.(etl.Closer); ok {
			pl.closers = append(pl.closers, c)
		}
		task.Reader = r
		pl.tasks = append(pl.tasks, task)
	}

	for i, wc := range job.Writers {
		if dryRun {
			if err := etl.CheckWriter(wc.Type, wc.Options); err != nil {
				return nil, fmt.Errorf("writer %d (%s): %w", i, wc.Type, err)
			}
			continue
		}
		logger.Debug("building writer", "type", wc.Type, "options", etl.MaskOptions(wc.Options))
		w, err := etl.NewWriter(ctx, wc.Type, wc.Options, d)
		if err != nil {
			return nil, fmt.Errorf("writer %d (%s): %w", i, wc.Type, err)
		}
		if c, ok := w.(etl.Closer); ok {
			pl.closers = append(pl.closers, c)
		}
		pl.writers = append(pl.writers, etl.WithRetry(w, wc.Retries, 0))
	}
	return pl, nil
}

// checkJob validates every component of the job without any I/O.
func checkJob(job *config.Job, d etl.Deps) error {
	_, policy, err := newPipeline(job, true)
	if err != nil {
		return err
	}
	var errs []error
	for _, src := range job.Sources {
		if _, err := newTask(job, src, policy, d); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name, err))
		}
		if err := etl.CheckReader(src.Type, src.Options); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name, err))
		}
	}
	for i, wc := range job.Writers {
		if err := etl.CheckWriter(wc.Type, wc.Options); err != nil {
			errs = append(errs, fmt.Errorf("writer %d (%s): %w", i, wc.Type, err))
		}
	}
	return errors.Join(errs...)
}
