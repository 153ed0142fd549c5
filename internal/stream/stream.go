// Package stream is the layer between readers and writers: it flattens raw
// records lazily, cuts them into bounded chunks and serializes them as
// line-delimited JSON. A Stream is single-pass and pull-driven; nothing is
// read from the source until the consumer asks for a record.
package stream

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	charmlog "github.com/charmbracelet/log"

	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/logger"
	"github.com/BartekS5/ack/pkg/models"
)

// ErrorPolicy decides what happens to a record that fails normalization or
// validation.
type ErrorPolicy int

const (
	// Abort stops the stream at the first bad record.
	Abort ErrorPolicy = iota
	// Skip drops the bad record, logs it and continues.
	Skip
)

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return Abort, nil
	case "skip":
		return Skip, nil
	default:
		return Abort, etlerr.Configf("normalize.on_error", "unknown policy %q", s)
	}
}

func (p ErrorPolicy) String() string {
	if p == Skip {
		return "skip"
	}
	return "abort"
}

// Transformer rewrites a flat record; returning false drops it. An error
// rejects the record under the stream's error policy.
type Transformer interface {
	Transform(models.Flat) (models.Flat, bool, error)
}

// TransformerFunc adapts a plain function to the Transformer interface.
type TransformerFunc func(models.Flat) (models.Flat, bool, error)

func (f TransformerFunc) Transform(r models.Flat) (models.Flat, bool, error) { return f(r) }

// Stats counts what a stream has done so far.
type Stats struct {
	Pulled  int
	Emitted int
	Skipped int
}

type Option func(*Stream)

func WithErrorPolicy(p ErrorPolicy) Option {
	return func(s *Stream) { s.policy = p }
}

func WithTransformers(ts ...Transformer) Option {
	return func(s *Stream) { s.transforms = append(s.transforms, ts...) }
}

// WithLogger sets the logger used to report skipped records.
func WithLogger(l *charmlog.Logger) Option {
	return func(s *Stream) { s.log = l }
}

// WithValidator rejects flat records for which fn returns an error. Rejected
// records follow the stream's error policy.
func WithValidator(fn func(models.Flat) error) Option {
	return func(s *Stream) { s.validate = fn }
}

// Stream is an ordered, finite, single-pass sequence of flat records bound to
// one reader invocation.
type Stream struct {
	name       string
	seq        iter.Seq2[models.Mapping, error]
	next       func() (models.Mapping, error, bool)
	stop       func()
	normalizer *Normalizer
	transforms []Transformer
	validate   func(models.Flat) error
	policy     ErrorPolicy
	log        *charmlog.Logger

	cur   *Expansion
	done  bool
	err   error
	stats Stats
}

// New binds a stream to a reader's raw sequence. It does not pull anything.
func New(name string, seq iter.Seq2[models.Mapping, error], n *Normalizer, opts ...Option) *Stream {
	s := &Stream{name: name, seq: seq, normalizer: n}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.With("stream", name)
	}
	return s
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) Stats() Stats { return s.stats }

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

// Next returns the next flat record. It returns io.EOF once the reader is
// exhausted and keeps returning it afterwards; the reader is never invoked
// twice. A reader or normalization failure is returned on every later call.
func (s *Stream) Next() (models.Flat, error) {
	for {
		if s.cur != nil {
			if rec, ok := s.cur.Next(); ok {
				out, keep, err := s.apply(rec)
				if err != nil {
					return models.Flat{}, err
				}
				if !keep {
					continue
				}
				s.stats.Emitted++
				return out, nil
			}
			s.cur = nil
		}
		if s.err != nil {
			return models.Flat{}, s.err
		}
		if s.done {
			return models.Flat{}, io.EOF
		}

		raw, err, ok := s.pull()
		if !ok {
			s.release()
			return models.Flat{}, io.EOF
		}
		if err != nil {
			return models.Flat{}, s.fail(s.sourceError(err))
		}
		s.stats.Pulled++

		x, err := s.normalizer.Normalize(raw)
		if err != nil {
			if s.policy == Skip {
				s.skip(err)
				continue
			}
			return models.Flat{}, s.fail(err)
		}
		s.cur = x
	}
}

// Records is the range-over-func view of Next. A failure is yielded once as
// the final element.
func (s *Stream) Records() iter.Seq2[models.Flat, error] {
	return func(yield func(models.Flat, error) bool) {
		for {
			rec, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(models.Flat{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Chunks cuts the rest of the stream into chunks bounded by limit. An invalid
// limit is reported before anything is pulled. Ordinals start at 0 and
// increase by one; only the last chunk may be smaller than the limit. When
// the stream fails mid-chunk, the partial chunk is dropped and the error is
// yielded instead.
func (s *Stream) Chunks(limit Limit) (iter.Seq2[*Chunk, error], error) {
	if err := limit.Validate(); err != nil {
		return nil, err
	}
	return func(yield func(*Chunk, error) bool) {
		var (
			heldRec  models.Flat
			heldLine []byte
			eof      bool
		)
		for ordinal := 0; !eof; ordinal++ {
			c := &Chunk{Stream: s.name, Ordinal: ordinal}
			if heldLine != nil {
				c.add(heldRec, heldLine)
				heldLine = nil
			}
			for !limit.full(c) {
				rec, err := s.Next()
				if errors.Is(err, io.EOF) {
					eof = true
					break
				}
				if err != nil {
					yield(nil, err)
					return
				}
				line, err := AppendLine(nil, rec)
				if err != nil {
					yield(nil, s.fail(&etlerr.NormalizationError{Reason: err.Error()}))
					return
				}
				if !limit.fits(c, len(line)) {
					heldRec, heldLine = rec, line
					break
				}
				c.add(rec, line)
			}
			if c.Len() == 0 {
				return
			}
			if !yield(c, nil) {
				return
			}
		}
	}, nil
}

// Serialize writes the rest of the stream as line-delimited JSON.
func (s *Stream) Serialize(w io.Writer) (int64, error) {
	enc := NewEncoder(w)
	for rec, err := range s.Records() {
		if err != nil {
			return enc.Written(), err
		}
		if err := enc.Encode(rec); err != nil {
			return enc.Written(), err
		}
	}
	return enc.Written(), nil
}

// Close stops pulling from the reader. Later calls to Next return io.EOF
// unless the stream had already failed.
func (s *Stream) Close() {
	s.cur = nil
	s.release()
}

func (s *Stream) pull() (models.Mapping, error, bool) {
	if s.next == nil {
		s.next, s.stop = iter.Pull2(s.seq)
	}
	return s.next()
}

func (s *Stream) release() {
	s.done = true
	if s.stop != nil {
		s.stop()
	}
}

func (s *Stream) fail(err error) error {
	s.err = err
	s.cur = nil
	s.release()
	return err
}

func (s *Stream) skip(err error) {
	s.stats.Skipped++
	s.log.Warn("skipping record", "record", s.stats.Pulled, "err", err)
}

func (s *Stream) apply(rec models.Flat) (models.Flat, bool, error) {
	for _, t := range s.transforms {
		out, keep, err := t.Transform(rec)
		if err != nil {
			return s.reject(rec, err)
		}
		if !keep {
			return out, false, nil
		}
		rec = out
	}
	if s.validate != nil {
		if err := s.validate(rec); err != nil {
			return s.reject(rec, err)
		}
	}
	return rec, true, nil
}

func (s *Stream) reject(rec models.Flat, err error) (models.Flat, bool, error) {
	if s.policy == Skip {
		s.skip(err)
		return rec, false, nil
	}
	return rec, false, s.fail(err)
}

func (s *Stream) sourceError(err error) error {
	var se *etlerr.SourceError
	if errors.As(err, &se) {
		return err
	}
	return &etlerr.SourceError{Source: s.name, Err: fmt.Errorf("read: %w", err)}
}
