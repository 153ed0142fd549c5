package stream

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/BartekS5/ack/pkg/models"
)

// ContentType of the line-delimited record format.
const ContentType = "application/x-ndjson"

// Extension used for files in the line-delimited record format.
const Extension = ".njson"

var bom = []byte{0xEF, 0xBB, 0xBF}

// AppendLine appends rec as one JSON object followed by a newline. JSON string
// escaping keeps embedded newlines off the record boundary.
func AppendLine(buf []byte, rec models.Flat) ([]byte, error) {
	buf, err := rec.AppendJSON(buf)
	if err != nil {
		return nil, err
	}
	return append(buf, '\n'), nil
}

// Encoder writes flat records as line-delimited JSON.
type Encoder struct {
	w   io.Writer
	buf []byte
	n   int64
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(rec models.Flat) error {
	var err error
	e.buf, err = AppendLine(e.buf[:0], rec)
	if err != nil {
		return err
	}
	n, err := e.w.Write(e.buf)
	e.n += int64(n)
	return err
}

// Written is the number of bytes written so far.
func (e *Encoder) Written() int64 { return e.n }

// Decode reads line-delimited JSON back into flat records. Blank lines are
// skipped and a leading byte-order mark is tolerated.
func Decode(r io.Reader) iter.Seq2[models.Flat, error] {
	return func(yield func(models.Flat, error) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		lineNum := 0
		for {
			line, err := br.ReadBytes('\n')
			if len(line) > 0 {
				lineNum++
				if lineNum == 1 {
					line = bytes.TrimPrefix(line, bom)
				}
				line = bytes.TrimRight(line, "\r\n")
				if len(bytes.TrimSpace(line)) > 0 {
					var rec models.Flat
					if uerr := rec.UnmarshalJSON(line); uerr != nil {
						yield(models.Flat{}, fmt.Errorf("line %d: %w", lineNum, uerr))
						return
					}
					if !yield(rec, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(models.Flat{}, err)
				return
			}
		}
	}
}
