package stream

import (
	"bytes"
	"io"

	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/models"
)

// Unit is the measure a Limit counts in.
type Unit string

const (
	UnitRecords Unit = "records"
	UnitBytes   Unit = "bytes"
)

// Limit bounds the size of one chunk.
type Limit struct {
	Size int
	Unit Unit
}

// RecordLimit caps chunks at n flat records.
func RecordLimit(n int) Limit { return Limit{Size: n, Unit: UnitRecords} }

// ByteLimit caps chunks at n serialized bytes.
func ByteLimit(n int) Limit { return Limit{Size: n, Unit: UnitBytes} }

func (l Limit) Validate() error {
	if l.Size <= 0 {
		return etlerr.Configf("chunk.max_size", "must be positive, got %d", l.Size)
	}
	switch l.Unit {
	case UnitRecords, UnitBytes:
		return nil
	default:
		return etlerr.Configf("chunk.unit", "unknown unit %q", l.Unit)
	}
}

func (l Limit) full(c *Chunk) bool {
	if l.Unit == UnitBytes {
		return c.Size() >= l.Size
	}
	return c.Len() >= l.Size
}

// fits reports whether a serialized record of n bytes can join c.
// An empty chunk always accepts, so an oversized record travels alone.
func (l Limit) fits(c *Chunk, n int) bool {
	if l.Unit != UnitBytes || c.Len() == 0 {
		return true
	}
	return c.Size()+n <= l.Size
}

// Chunk is a contiguous slice of a stream's records, already serialized.
type Chunk struct {
	Stream  string
	Ordinal int
	Records []models.Flat
	buf     []byte
}

// NewChunk builds a chunk from records outside of a Stream.
func NewChunk(stream string, ordinal int, recs ...models.Flat) (*Chunk, error) {
	c := &Chunk{Stream: stream, Ordinal: ordinal}
	for _, rec := range recs {
		line, err := AppendLine(nil, rec)
		if err != nil {
			return nil, err
		}
		c.add(rec, line)
	}
	return c, nil
}

func (c *Chunk) add(rec models.Flat, line []byte) {
	c.Records = append(c.Records, rec)
	c.buf = append(c.buf, line...)
}

func (c *Chunk) Len() int { return len(c.Records) }

// Size is the serialized size in bytes.
func (c *Chunk) Size() int { return len(c.buf) }

// Bytes returns the line-delimited serialization. The slice must not be
// modified.
func (c *Chunk) Bytes() []byte { return c.buf }

// Reader returns a fresh reader over the serialization; each call starts at
// the first byte, so a retried write sends the same content.
func (c *Chunk) Reader() io.Reader { return bytes.NewReader(c.buf) }

func (c *Chunk) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(c.buf)
	return int64(n), err
}

// Columns is the union of field paths across the chunk in first-seen order.
func (c *Chunk) Columns() []string {
	seen := make(map[string]bool)
	var cols []string
	for _, rec := range c.Records {
		for _, f := range rec.Fields {
			if !seen[f.Path] {
				seen[f.Path] = true
				cols = append(cols, f.Path)
			}
		}
	}
	return cols
}
