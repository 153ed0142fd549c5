package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/ack/pkg/etlerr"
)

const sampleJob = `
run:
  concurrency: 2
  date: "2024-02-01"
normalize:
  separator: "__"
  on_error: skip
chunk:
  max_size: 500
partition:
  template: "{name}/{date}/{ordinal}"
sources:
  - name: orders
    type: file
    expand: [items]
    required: [id]
    rename: {items__sku: sku}
    options:
      path: data/orders.njson
writers:
  - type: local
    retries: 2
    options:
      dir: out
`

func TestParseJob(t *testing.T) {
	t.Run("Should decode a full job file", func(t *testing.T) {
		job, err := ParseJob([]byte(sampleJob))
		require.NoError(t, err)
		assert.Equal(t, 2, job.Run.Concurrency)
		assert.Equal(t, "__", job.Normalize.Separator)
		assert.Equal(t, 500, job.Chunk.MaxSize)
		assert.Equal(t, "records", job.Chunk.Unit)
		require.Len(t, job.Sources, 1)
		m := job.Sources[0].Mapping()
		assert.Equal(t, []string{"items"}, m.Expand)
		assert.Equal(t, "sku", m.Rename["items__sku"])
		assert.Equal(t, "data/orders.njson", job.Sources[0].Options["path"])
		assert.Equal(t, 2, job.Writers[0].Retries)
		assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), job.RunDate(time.Now()))
	})

	t.Run("Should accept JSON documents", func(t *testing.T) {
		job, err := ParseJob([]byte(`{"sources":[{"name":"a","type":"http"}],"writers":[{"type":"console"}]}`))
		require.NoError(t, err)
		assert.Equal(t, DefaultChunkSize, job.Chunk.MaxSize)
		assert.Equal(t, DefaultConcurrency, job.Run.Concurrency)
		assert.NotNil(t, job.Sources[0].Options)
	})

	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{"Should require at least one source", `writers: [{type: console}]`, "sources"},
		{"Should require a writer type", "sources: [{name: a, type: file}]\nwriters: [{retries: 1}]", "writers[0].type"},
		{"Should reject an unknown error policy", "normalize: {on_error: ignore}\nsources: [{name: a, type: file}]\nwriters: [{type: console}]", "normalize.onerror"},
		{"Should reject an unknown chunk unit", "chunk: {unit: pages}\nsources: [{name: a, type: file}]\nwriters: [{type: console}]", "chunk.unit"},
		{"Should reject duplicate source names", "sources: [{name: a, type: file}, {name: a, type: http}]\nwriters: [{type: console}]", "sources.name"},
		{"Should reject a bad run date", "run: {date: soon}\nsources: [{name: a, type: file}]\nwriters: [{type: console}]", "run.date"},
		{"Should reject two renames onto one path", "sources: [{name: a, type: file, rename: {x: z, y: z}}]\nwriters: [{type: console}]", "sources.rename"},
		{"Should reject a negative chunk size", "chunk: {max_size: -3}\nsources: [{name: a, type: file}]\nwriters: [{type: console}]", "chunk.max_size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseJob([]byte(tc.doc))
			var ce *etlerr.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.field, ce.Field)
		})
	}

	t.Run("Should reject unknown keys", func(t *testing.T) {
		_, err := ParseJob([]byte("sourcez: []\nsources: [{name: a, type: file}]\nwriters: [{type: console}]"))
		var ce *etlerr.ConfigurationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "job", ce.Field)
	})
}

func TestLoadJob(t *testing.T) {
	t.Run("Should read the job from the filesystem", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/jobs/job.yaml", []byte(sampleJob), 0o644))
		job, err := LoadJob(fs, "/jobs/job.yaml")
		require.NoError(t, err)
		assert.Equal(t, "orders", job.Sources[0].Name)
	})

	t.Run("Should report a missing file", func(t *testing.T) {
		_, err := LoadJob(afero.NewMemMapFs(), "/nope.yaml")
		assert.ErrorContains(t, err, "failed to read job file")
	})
}

func TestJob_Select(t *testing.T) {
	t.Run("Should keep only the named sources in the given order", func(t *testing.T) {
		job := &Job{Sources: []SourceConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
		require.NoError(t, job.Select([]string{"c", "a"}))
		assert.Equal(t, "c", job.Sources[0].Name)
		assert.Len(t, job.Sources, 2)
		assert.Error(t, job.Select([]string{"x"}))
	})

	t.Run("Should select a repeated name once", func(t *testing.T) {
		job := &Job{Sources: []SourceConfig{{Name: "users"}, {Name: "orders"}}}
		require.NoError(t, job.Select([]string{"users", "users"}))
		require.Len(t, job.Sources, 1)
		assert.Equal(t, "users", job.Sources[0].Name)
	})
}

func TestSourceConfig_LoadMapping(t *testing.T) {
	t.Run("Should return the inline mapping without a file", func(t *testing.T) {
		src := SourceConfig{Name: "a", Expand: []string{"tags"}, Rename: map[string]string{"x": "y"}}
		m, err := src.LoadMapping(afero.NewMemMapFs())
		require.NoError(t, err)
		assert.Equal(t, []string{"tags"}, m.Expand)
		assert.Equal(t, "y", m.Rename["x"])
	})

	t.Run("Should merge the mapping file under the inline settings", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "users.json", []byte(`{
			"expand": ["roles"],
			"required": ["id"],
			"rename": {"user_name": "username", "mail": "email"},
			"drop": ["password"]
		}`), 0o644))
		src := SourceConfig{
			Name:        "users",
			MappingFile: "users.json",
			Rename:      map[string]string{"mail": "contact"},
			Drop:        []string{"salt"},
		}

		m, err := src.LoadMapping(fs)
		require.NoError(t, err)
		assert.Equal(t, []string{"roles"}, m.Expand)
		assert.Equal(t, []string{"id"}, m.Required)
		assert.Equal(t, []string{"password", "salt"}, m.Drop)
		assert.Equal(t, map[string]string{"user_name": "username", "mail": "contact"}, m.Rename)
	})

	t.Run("Should reject a file rename that collides with an inline one", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "users.json", []byte(`{"rename": {"mail": "email"}}`), 0o644))
		src := SourceConfig{Name: "users", MappingFile: "users.json", Rename: map[string]string{"contact": "email"}}

		_, err := src.LoadMapping(fs)
		var ce *etlerr.ConfigurationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "sources.rename", ce.Field)
	})

	t.Run("Should report an invalid mapping file as a configuration error", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "bad.json", []byte(`{"expand": "tags"`), 0o644))
		_, err := SourceConfig{Name: "a", MappingFile: "bad.json"}.LoadMapping(fs)
		var ce *etlerr.ConfigurationError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "sources.mapping_file", ce.Field)
	})
}
