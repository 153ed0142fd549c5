package etl

import (
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/pkg/logger"
)

// Checkpoint records where a failed stream stopped, so that a rerun can tell
// which chunks are already durable.
type Checkpoint struct {
	RunID       string        `json:"run_id"`
	Stream      string        `json:"stream"`
	LastOrdinal int           `json:"last_ordinal"`
	LastKey     partition.Key `json:"last_key,omitempty"`
	Chunks      int           `json:"chunks"`
	Error       string        `json:"error"`
	At          time.Time     `json:"at"`
}

// Checkpoints stores one checkpoint file per stream. A nil *Checkpoints is
// valid and stores nothing.
type Checkpoints struct {
	fs  afero.Fs
	dir string
}

func (c *Checkpoints) path(stream string) string {
	return filepath.Join(c.dir, stream+".checkpoint.json")
}

func (c *Checkpoints) Load(stream string) (Checkpoint, bool) {
	if c == nil {
		return Checkpoint{}, false
	}
	data, err := afero.ReadFile(c.fs, c.path(stream))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("cannot read checkpoint", "stream", stream, "err", err)
		}
		return Checkpoint{}, false
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		logger.Warn("ignoring corrupt checkpoint", "stream", stream, "err", err)
		return Checkpoint{}, false
	}
	return cp, true
}

func (c *Checkpoints) Save(runID string, rep Report) {
	if c == nil {
		return
	}
	cp := Checkpoint{
		RunID:       runID,
		Stream:      rep.Stream,
		LastOrdinal: -1,
		Chunks:      rep.Chunks,
		At:          time.Now().UTC(),
	}
	if rep.LastWritten != nil {
		cp.LastOrdinal = rep.LastWritten.Ordinal
		cp.LastKey = rep.LastWritten.Key
	}
	if rep.Err != nil {
		cp.Error = rep.Err.Error()
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		logger.Warn("cannot encode checkpoint", "stream", rep.Stream, "err", err)
		return
	}
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		logger.Warn("cannot create checkpoint dir", "dir", c.dir, "err", err)
		return
	}
	if err := afero.WriteFile(c.fs, c.path(rep.Stream), data, 0o644); err != nil {
		logger.Warn("cannot write checkpoint", "stream", rep.Stream, "err", err)
	}
}

func (c *Checkpoints) Clear(stream string) {
	if c == nil {
		return
	}
	if err := c.fs.Remove(c.path(stream)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("cannot remove checkpoint", "stream", stream, "err", err)
	}
}
