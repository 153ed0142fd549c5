package etl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/models"
	"github.com/BartekS5/ack/pkg/utils"
)

type FileOptions struct {
	Path string `mapstructure:"path" validate:"required"`
	// Format is ndjson (one object per line) or json (an array of objects,
	// or a document whose records sit under DataPath).
	Format   string `mapstructure:"format" validate:"omitempty,oneof=ndjson json"`
	DataPath string `mapstructure:"data_path"`
}

// FileReader reads raw records from a local file.
type FileReader struct {
	name string
	fs   afero.Fs
	opts FileOptions
}

func newFileReader(_ context.Context, name string, o *FileOptions, d Deps) (Reader, error) {
	return NewFileReader(name, d.fs(), *o), nil
}

func NewFileReader(name string, fs afero.Fs, o FileOptions) *FileReader {
	if o.Format == "" {
		o.Format = "ndjson"
		if strings.HasSuffix(o.Path, ".json") || o.DataPath != "" {
			o.Format = "json"
		}
	}
	return &FileReader{name: name, fs: fs, opts: o}
}

func (r *FileReader) Type() string { return "file" }

func (r *FileReader) Produce(ctx context.Context) iter.Seq2[models.Mapping, error] {
	return func(yield func(models.Mapping, error) bool) {
		f, err := r.fs.Open(r.opts.Path)
		if err != nil {
			yield(nil, r.fail(err))
			return
		}
		defer closeQuietly(f, r.opts.Path)

		switch {
		case r.opts.DataPath != "":
			r.produceDocument(ctx, f, yield)
		case r.opts.Format == "json":
			r.produceArray(ctx, f, yield)
		default:
			r.produceLines(ctx, f, yield)
		}
	}
}

func (r *FileReader) produceLines(ctx context.Context, f io.Reader, yield func(models.Mapping, error) bool) {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			yield(nil, r.fail(err))
			return
		}
		text := bytes.TrimSpace(sc.Bytes())
		if line == 1 {
			text = bytes.TrimPrefix(text, []byte{0xEF, 0xBB, 0xBF})
		}
		if len(text) == 0 {
			continue
		}
		m, err := utils.ParseJSONObject(text)
		if err != nil {
			yield(nil, r.fail(fmt.Errorf("line %d: %w", line, err)))
			return
		}
		if !yield(m, nil) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		yield(nil, r.fail(err))
	}
}

// produceArray streams the elements of a top-level JSON array without
// loading the whole file.
func (r *FileReader) produceArray(ctx context.Context, f io.Reader, yield func(models.Mapping, error) bool) {
	dec := utils.NewJSONDecoder(f)
	v, err := dec.Token()
	if err != nil {
		yield(nil, r.fail(err))
		return
	}
	if d, ok := v.(json.Delim); !ok || d != '[' {
		yield(nil, r.fail(fmt.Errorf("expected a JSON array, set data_path for documents")))
		return
	}
	for i := 0; dec.More(); i++ {
		if err := ctx.Err(); err != nil {
			yield(nil, r.fail(err))
			return
		}
		val, err := utils.DecodeValue(dec)
		if err != nil {
			yield(nil, r.fail(fmt.Errorf("element %d: %w", i, err)))
			return
		}
		m, ok := val.(models.Mapping)
		if !ok {
			yield(nil, r.fail(fmt.Errorf("element %d is not an object", i)))
			return
		}
		if !yield(m, nil) {
			return
		}
	}
}

func (r *FileReader) produceDocument(_ context.Context, f io.Reader, yield func(models.Mapping, error) bool) {
	data, err := io.ReadAll(f)
	if err != nil {
		yield(nil, r.fail(err))
		return
	}
	if !gjson.ValidBytes(data) {
		yield(nil, r.fail(fmt.Errorf("invalid JSON document")))
		return
	}
	emitResults(gjson.GetBytes(data, r.opts.DataPath), func(err error) error { return r.fail(err) }, yield)
}

func (r *FileReader) fail(err error) error {
	return &etlerr.SourceError{Source: r.name, Err: fmt.Errorf("%s: %w", r.opts.Path, err)}
}

// emitResults yields every object selected by a gjson result: each element
// of an array, or the object itself. It reports whether the consumer wants
// more.
func emitResults(res gjson.Result, fail func(error) error, yield func(models.Mapping, error) bool) bool {
	if !res.Exists() {
		return true
	}
	items := []gjson.Result{res}
	if res.IsArray() {
		items = res.Array()
	}
	for i, it := range items {
		if !it.IsObject() {
			yield(nil, fail(fmt.Errorf("record %d is not an object", i)))
			return false
		}
		m, err := utils.ParseJSONObject([]byte(it.Raw))
		if err != nil {
			yield(nil, fail(fmt.Errorf("record %d: %w", i, err)))
			return false
		}
		if !yield(m, nil) {
			return false
		}
	}
	return true
}
