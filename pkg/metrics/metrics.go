// Package metrics keeps run counters on a private Prometheus registry.
package metrics

import (
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Recorder counts what a run did. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry      *prom.Registry
	recordsRead   *prom.CounterVec
	recordsSkip   *prom.CounterVec
	chunksWritten *prom.CounterVec
	bytesWritten  *prom.CounterVec
	writeFailures *prom.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prom.NewRegistry(),
		recordsRead: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ack",
			Name:      "records_emitted_total",
			Help:      "Flat records produced by a stream.",
		}, []string{"stream"}),
		recordsSkip: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ack",
			Name:      "records_skipped_total",
			Help:      "Raw records dropped under the skip policy.",
		}, []string{"stream"}),
		chunksWritten: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ack",
			Name:      "chunks_written_total",
			Help:      "Chunks persisted by a writer.",
		}, []string{"stream", "writer"}),
		bytesWritten: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ack",
			Name:      "bytes_written_total",
			Help:      "Serialized chunk bytes handed to a writer.",
		}, []string{"stream", "writer"}),
		writeFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "ack",
			Name:      "write_failures_total",
			Help:      "Chunks a writer failed to persist.",
		}, []string{"stream", "writer"}),
	}
	r.registry.MustRegister(r.recordsRead, r.recordsSkip, r.chunksWritten, r.bytesWritten, r.writeFailures)
	return r
}

func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) RecordsEmitted(stream string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.recordsRead.WithLabelValues(stream).Add(float64(n))
}

func (r *Recorder) RecordsSkipped(stream string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.recordsSkip.WithLabelValues(stream).Add(float64(n))
}

func (r *Recorder) ChunkWritten(stream, writer string, size int) {
	if r == nil {
		return
	}
	r.chunksWritten.WithLabelValues(stream, writer).Inc()
	r.bytesWritten.WithLabelValues(stream, writer).Add(float64(size))
}

func (r *Recorder) WriteFailed(stream, writer string) {
	if r == nil {
		return
	}
	r.writeFailures.WithLabelValues(stream, writer).Inc()
}

// WriteFile dumps the registry in the text exposition format.
func (r *Recorder) WriteFile(path string) error {
	if r == nil {
		return nil
	}
	if err := prom.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
