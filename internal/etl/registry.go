package etl

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/afero"

	"github.com/BartekS5/ack/internal/config"
	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/logger"
)

// Deps are the process-level collaborators handed to connector factories.
type Deps struct {
	Env    *config.Config
	Fs     afero.Fs
	Stdout io.Writer
}

func (d Deps) fs() afero.Fs {
	if d.Fs == nil {
		return afero.NewOsFs()
	}
	return d.Fs
}

func (d Deps) stdout() io.Writer {
	if d.Stdout == nil {
		return os.Stdout
	}
	return d.Stdout
}

func (d Deps) env() *config.Config {
	if d.Env == nil {
		return &config.Config{}
	}
	return d.Env
}

type readerEntry struct {
	decode func(map[string]any) (any, error)
	build  func(context.Context, string, any, Deps) (Reader, error)
}

type writerEntry struct {
	decode func(map[string]any) (any, error)
	build  func(context.Context, any, Deps) (Writer, error)
}

var (
	readers  = map[string]readerEntry{}
	writers  = map[string]writerEntry{}
	validate = validator.New(validator.WithRequiredStructEnabled())
)

// registerReader binds a reader type to its options struct and constructor.
// The source name is passed so readers can default collection or table names.
func registerReader[O any](typ string, build func(ctx context.Context, name string, o *O, d Deps) (Reader, error)) {
	readers[typ] = readerEntry{
		decode: func(raw map[string]any) (any, error) { return DecodeOptions[O](typ, raw) },
		build: func(ctx context.Context, name string, o any, d Deps) (Reader, error) {
			return build(ctx, name, o.(*O), d)
		},
	}
}

func registerWriter[O any](typ string, build func(ctx context.Context, o *O, d Deps) (Writer, error)) {
	writers[typ] = writerEntry{
		decode: func(raw map[string]any) (any, error) { return DecodeOptions[O](typ, raw) },
		build: func(ctx context.Context, o any, d Deps) (Writer, error) {
			return build(ctx, o.(*O), d)
		},
	}
}

func init() {
	registerReader("file", newFileReader)
	registerReader("http", newHTTPReader)
	registerReader("sql", newSQLReader)
	registerReader("mongo", newMongoReader)

	registerWriter("console", newConsoleWriter)
	registerWriter("local", newLocalWriter)
	registerWriter("gcs", newGCSWriter)
	registerWriter("s3", newS3Writer)
	registerWriter("postgres", newPostgresWriter)
	registerWriter("mongo", newMongoWriter)
}

// ReaderTypes lists the registered reader types in name order.
func ReaderTypes() []string { return keys(readers) }

// WriterTypes lists the registered writer types in name order.
func WriterTypes() []string { return keys(writers) }

// CheckReader decodes and validates reader options without any I/O.
func CheckReader(typ string, opts map[string]any) error {
	e, ok := readers[typ]
	if !ok {
		return etlerr.Configf("sources.type", "unknown reader type %q (known: %s)", typ, strings.Join(ReaderTypes(), ", "))
	}
	_, err := e.decode(opts)
	return err
}

// CheckWriter decodes and validates writer options without any I/O.
func CheckWriter(typ string, opts map[string]any) error {
	e, ok := writers[typ]
	if !ok {
		return etlerr.Configf("writers.type", "unknown writer type %q (known: %s)", typ, strings.Join(WriterTypes(), ", "))
	}
	_, err := e.decode(opts)
	return err
}

// NewReader builds a reader for the named source.
func NewReader(ctx context.Context, typ, name string, opts map[string]any, d Deps) (Reader, error) {
	e, ok := readers[typ]
	if !ok {
		return nil, etlerr.Configf("sources.type", "unknown reader type %q", typ)
	}
	o, err := e.decode(opts)
	if err != nil {
		return nil, err
	}
	return e.build(ctx, name, o, d)
}

func NewWriter(ctx context.Context, typ string, opts map[string]any, d Deps) (Writer, error) {
	e, ok := writers[typ]
	if !ok {
		return nil, etlerr.Configf("writers.type", "unknown writer type %q", typ)
	}
	o, err := e.decode(opts)
	if err != nil {
		return nil, err
	}
	return e.build(ctx, o, d)
}

// DecodeOptions decodes a generic option map into O, rejecting unknown keys,
// and runs the struct's validate tags.
func DecodeOptions[O any](typ string, raw map[string]any) (*O, error) {
	o := new(O)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           o,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, &etlerr.ConfigurationError{Field: typ + ".options", Reason: "invalid options", Err: err}
	}
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, etlerr.Configf(typ+"."+strings.ToLower(fe.Field()), "failed %q check", fe.Tag())
		}
		return nil, &etlerr.ConfigurationError{Field: typ + ".options", Reason: "invalid options", Err: err}
	}
	return o, nil
}

var sensitiveMarkers = []string{"password", "secret", "token", "key", "connection", "credential"}

// MaskOptions copies opts with sensitive values replaced, for logging.
func MaskOptions(opts map[string]any) map[string]any {
	out := make(map[string]any, len(opts))
	for k, v := range opts {
		if isSensitive(k) {
			out[k] = "****"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = MaskOptions(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, m := range sensitiveMarkers {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func requireEnv(field, value string) error {
	if value == "" {
		return etlerr.Configf(field, "environment variable not set")
	}
	return nil
}

func closeQuietly(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "what", what, "err", err)
	}
}
