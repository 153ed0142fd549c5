// Package partition maps a stream name and chunk ordinal to the key under
// which a writer persists the chunk.
package partition

import (
	"fmt"
	"strings"
	"time"

	"github.com/BartekS5/ack/pkg/etlerr"
)

// DefaultTemplate gives every chunk of a stream its own key.
const DefaultTemplate = "{name}_{ordinal}"

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02-15-04-05"
)

// Key is the destination identity of one chunk. Writing the same chunk twice
// under the same key must leave the destination unchanged.
type Key string

func (k Key) String() string { return string(k) }

// Context carries the run-level values a template may reference.
type Context struct {
	RunDate time.Time
	RunID   string
}

// Resolver renders partition keys from a parsed template.
type Resolver struct {
	template string
	tokens   []token
}

// NewResolver parses tmpl. An empty template selects DefaultTemplate.
func NewResolver(tmpl string) (*Resolver, error) {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultTemplate
	}
	toks, err := parse(tmpl)
	if err != nil {
		return nil, err
	}
	return &Resolver{template: tmpl, tokens: toks}, nil
}

func (r *Resolver) Template() string { return r.template }

// HasOrdinal reports whether distinct chunks of a stream can resolve to
// distinct keys.
func (r *Resolver) HasOrdinal() bool {
	for _, t := range r.tokens {
		if t.kind == tokOrdinal {
			return true
		}
	}
	return false
}

// HasName reports whether keys of different streams can differ.
func (r *Resolver) HasName() bool {
	for _, t := range r.tokens {
		if t.kind == tokName {
			return true
		}
	}
	return false
}

// CheckStreams fails when the streams of one run could resolve to the same
// keys: a repeated stream name, or several streams under a template without
// {name}.
func (r *Resolver) CheckStreams(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			return etlerr.Configf("partition.template", "stream %q appears twice in one run", n)
		}
		seen[n] = struct{}{}
	}
	if len(names) > 1 && !r.HasName() {
		return etlerr.Configf("partition.template", "template %q has no {name} but the run has %d streams", r.template, len(names))
	}
	return nil
}

// Resolve renders the key for one chunk. It is pure: equal inputs give equal
// keys.
func (r *Resolver) Resolve(name string, ordinal int, ctx Context) (Key, error) {
	if ordinal < 0 {
		return "", etlerr.Configf("partition.ordinal", "negative ordinal %d", ordinal)
	}
	var b strings.Builder
	for _, t := range r.tokens {
		switch t.kind {
		case tokLiteral:
			b.WriteString(t.text)
		case tokName:
			b.WriteString(name)
		case tokDate:
			b.WriteString(ctx.RunDate.Format(dateLayout))
		case tokDateTime:
			b.WriteString(ctx.RunDate.Format(dateTimeLayout))
		case tokRun:
			b.WriteString(ctx.RunID)
		case tokOrdinal:
			fmt.Fprintf(&b, "%0*d", t.width, ordinal)
		}
	}
	return Key(b.String()), nil
}

// Track starts collision tracking for one stream of one run.
func (r *Resolver) Track(name string, ctx Context) *Tracker {
	return &Tracker{r: r, name: name, ctx: ctx, seen: make(map[Key]int)}
}

// Tracker resolves the keys of a single stream and refuses a key already
// handed out to an earlier ordinal. Not safe for concurrent use; each stream
// owns its tracker.
type Tracker struct {
	r    *Resolver
	name string
	ctx  Context
	seen map[Key]int
}

// Key resolves ordinal and fails with AmbiguousPartitionError if another
// ordinal already produced the same key.
func (t *Tracker) Key(ordinal int) (Key, error) {
	k, err := t.r.Resolve(t.name, ordinal, t.ctx)
	if err != nil {
		return "", err
	}
	if first, ok := t.seen[k]; ok && first != ordinal {
		return "", &etlerr.AmbiguousPartitionError{Stream: t.name, Key: string(k), First: first, Second: ordinal}
	}
	t.seen[k] = ordinal
	return k, nil
}
