// Package etlerr holds the error taxonomy shared by readers, the stream
// layer and writers. Callers match kinds with errors.As.
package etlerr

import "fmt"

// SourceError means a reader failed to produce data: authentication, quota,
// transport or a malformed upstream response.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NormalizationError means one raw record could not be flattened.
type NormalizationError struct {
	Path   string
	Reason string
}

func (e *NormalizationError) Error() string {
	path := e.Path
	if path == "" {
		path = "$"
	}
	return fmt.Sprintf("normalize %s: %s", path, e.Reason)
}

// ConfigurationError reports an invalid option, detected before any I/O
// whenever possible.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("configuration %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf builds a ConfigurationError.
func Configf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AmbiguousPartitionError means two chunks of one run resolved to the same
// partition key; writing both would silently overwrite data.
type AmbiguousPartitionError struct {
	Stream string
	Key    string
	First  int
	Second int
}

func (e *AmbiguousPartitionError) Error() string {
	return fmt.Sprintf("stream %s: chunks %d and %d both resolve to partition key %q",
		e.Stream, e.First, e.Second, e.Key)
}

// DestinationError means a writer failed to persist one chunk. Chunks written
// before it stay valid.
type DestinationError struct {
	Writer  string
	Key     string
	Ordinal int
	Err     error
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("writer %s: chunk %d (%s): %v", e.Writer, e.Ordinal, e.Key, e.Err)
}

func (e *DestinationError) Unwrap() error { return e.Err }
