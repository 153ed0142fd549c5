package etl

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/logger"
)

const defaultRetryBase = 500 * time.Millisecond

// RetryWriter retries failed chunk writes with exponential backoff. It relies
// on the wrapped writer being idempotent per partition key.
type RetryWriter struct {
	Writer
	attempts uint64
	base     time.Duration
}

// WithRetry wraps w so that each chunk is tried up to attempts+1 times.
// Configuration errors are never retried.
func WithRetry(w Writer, attempts int, base time.Duration) Writer {
	if attempts <= 0 {
		return w
	}
	if base <= 0 {
		base = defaultRetryBase
	}
	return &RetryWriter{Writer: w, attempts: uint64(attempts), base: base}
}

func (r *RetryWriter) Write(ctx context.Context, chunk *stream.Chunk, key partition.Key) error {
	backoff := retry.WithMaxRetries(r.attempts, retry.WithJitter(r.base/4, retry.NewExponential(r.base)))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := r.Writer.Write(ctx, chunk, key)
		if err == nil {
			return nil
		}
		var ce *etlerr.ConfigurationError
		if errors.As(err, &ce) {
			return err
		}
		logger.Warn("chunk write failed, retrying",
			"writer", r.Writer.Type(), "stream", chunk.Stream, "key", key, "attempt", attempt, "err", err)
		return retry.RetryableError(err)
	})
}

// Unwrap returns the decorated writer.
func (r *RetryWriter) Unwrap() Writer { return r.Writer }
