package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BartekS5/ack/internal/config"
	"github.com/BartekS5/ack/internal/etl"
	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/pkg/logger"
	"github.com/BartekS5/ack/pkg/metrics"
)

type RunOptions struct {
	JobFile     string
	Date        string
	DryRun      bool
	Sources     []string
	MetricsFile string
}

func NewRunCmd() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every source of a job file through the pipeline",
		RunE: func(c *cobra.Command, args []string) error {
			return runJob(c.Context(), opts, afero.NewOsFs(), c.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.JobFile, "config", "c", "job.yaml", "Path to the job file")
	cmd.Flags().StringVar(&opts.Date, "date", "", "Run date (YYYY-MM-DD) used by {date} and {datetime}")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Read and chunk without writing")
	cmd.Flags().StringSliceVarP(&opts.Sources, "source", "s", nil, "Only run the named sources")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this file when done")

	return cmd
}

func runJob(ctx context.Context, opts *RunOptions, fs afero.Fs, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := config.LoadConfig()
	if err != nil {
		return err
	}
	job, err := config.LoadJob(fs, opts.JobFile)
	if err != nil {
		return err
	}
	if opts.Date != "" {
		job.Run.Date = opts.Date
		if err := job.Validate(); err != nil {
			return err
		}
	}
	if err := job.Select(opts.Sources); err != nil {
		return err
	}
	dryRun := opts.DryRun || job.Run.DryRun

	d := etl.Deps{Env: env, Fs: fs, Stdout: out}
	pl, err := buildPlan(ctx, job, dryRun, d)
	if err != nil {
		return err
	}
	defer pl.close(context.WithoutCancel(ctx))

	rec := metrics.New()
	p := pl.pipeline
	p.Context = partition.Context{RunDate: job.RunDate(time.Now().UTC()), RunID: uuid.NewString()}
	p.Metrics = rec
	p.Checkpoints = etl.NewCheckpoints(fs, job.Run.CheckpointDir)

	logger.Info("starting run", "run", p.Context.RunID, "job", opts.JobFile,
		"sources", len(pl.tasks), "writers", len(pl.writers), "dry_run", dryRun)
	reports := p.Run(ctx, pl.tasks, pl.writers)

	for _, r := range reports {
		kv := []any{"stream", r.Stream, "records", r.Records, "skipped", r.Skipped,
			"chunks", r.Chunks, "bytes", r.Bytes, "duration", r.Duration.Round(time.Millisecond)}
		if r.LastWritten != nil {
			kv = append(kv, "last_key", r.LastWritten.Key)
		}
		if r.OK() {
			logger.Info("stream summary", kv...)
		} else {
			logger.Error("stream summary", append(kv, "err", r.Err)...)
		}
	}

	if opts.MetricsFile != "" {
		if err := rec.WriteFile(opts.MetricsFile); err != nil {
			logger.Warn("cannot write metrics file", "path", opts.MetricsFile, "err", err)
		}
	}

	failed := etl.Failed(reports)
	if len(failed) == 0 {
		logger.Info("run finished", "run", p.Context.RunID, "streams", len(reports))
		return nil
	}
	errs := make([]error, len(failed))
	for i, r := range failed {
		errs[i] = fmt.Errorf("%s: %w", r.Stream, r.Err)
	}
	return fmt.Errorf("%d of %d streams failed: %w", len(failed), len(reports), errors.Join(errs...))
}
