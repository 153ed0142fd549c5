package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"

	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/models"
	"github.com/BartekS5/ack/pkg/utils"
)

const (
	DefaultChunkSize   = 10000
	DefaultConcurrency = 4
)

// Job is one job file: the sources to read, how their records are shaped
// and the writers every chunk goes to.
type Job struct {
	Run       RunConfig       `yaml:"run"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Partition PartitionConfig `yaml:"partition"`
	Sources   []SourceConfig  `yaml:"sources" validate:"required,min=1,dive"`
	Writers   []WriterConfig  `yaml:"writers" validate:"required,min=1,dive"`
}

type RunConfig struct {
	Concurrency   int    `yaml:"concurrency" validate:"gte=0"`
	Date          string `yaml:"date"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	DryRun        bool   `yaml:"dry_run"`
}

type NormalizeConfig struct {
	Separator     string `yaml:"separator"`
	JoinDelimiter string `yaml:"join_delimiter"`
	NormalizeKeys bool   `yaml:"normalize_keys"`
	OnError       string `yaml:"on_error" validate:"omitempty,oneof=abort skip"`
}

type ChunkConfig struct {
	MaxSize int    `yaml:"max_size"`
	Unit    string `yaml:"unit" validate:"omitempty,oneof=records bytes"`
}

type PartitionConfig struct {
	Template string `yaml:"template"`
}

type SourceConfig struct {
	Name     string            `yaml:"name" validate:"required"`
	Type     string            `yaml:"type" validate:"required"`
	Expand   []string          `yaml:"expand"`
	Required []string          `yaml:"required"`
	Rename   map[string]string `yaml:"rename"`
	Drop     []string          `yaml:"drop"`
	// MappingFile points to a JSON field mapping merged under the inline
	// settings.
	MappingFile string         `yaml:"mapping_file"`
	Options     map[string]any `yaml:"options"`
}

// Mapping returns the inline record shaping options of the source.
func (s SourceConfig) Mapping() models.FieldMapping {
	return models.FieldMapping{Expand: s.Expand, Required: s.Required, Rename: s.Rename, Drop: s.Drop}
}

// LoadMapping returns the source's field mapping, reading MappingFile from fs
// when set. Inline renames win over the file; lists are concatenated.
func (s SourceConfig) LoadMapping(fs afero.Fs) (models.FieldMapping, error) {
	m := s.Mapping()
	if s.MappingFile == "" {
		return m, nil
	}
	data, err := afero.ReadFile(fs, s.MappingFile)
	if err != nil {
		return m, fmt.Errorf("failed to read mapping file '%s': %w", s.MappingFile, err)
	}
	fm, err := models.LoadMapping(data)
	if err != nil {
		return m, &etlerr.ConfigurationError{Field: "sources.mapping_file", Reason: "invalid mapping " + s.MappingFile, Err: err}
	}
	out := models.FieldMapping{
		Expand:   append(append([]string{}, fm.Expand...), m.Expand...),
		Required: append(append([]string{}, fm.Required...), m.Required...),
		Drop:     append(append([]string{}, fm.Drop...), m.Drop...),
		Rename:   make(map[string]string, len(fm.Rename)+len(m.Rename)),
	}
	for k, v := range fm.Rename {
		out.Rename[k] = v
	}
	for k, v := range m.Rename {
		out.Rename[k] = v
	}
	if err := checkRenames(out.Rename); err != nil {
		return m, err
	}
	return out, nil
}

// checkRenames rejects two renames onto the same path.
func checkRenames(rename map[string]string) error {
	from := make(map[string]string, len(rename))
	for src, dst := range rename {
		if prev, ok := from[dst]; ok {
			if prev > src {
				prev, src = src, prev
			}
			return etlerr.Configf("sources.rename", "%q and %q both rename to %q", prev, src, dst)
		}
		from[dst] = src
	}
	return nil
}

type WriterConfig struct {
	Type    string         `yaml:"type" validate:"required"`
	Retries int            `yaml:"retries" validate:"gte=0,lte=10"`
	Options map[string]any `yaml:"options"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadJob reads and parses a job file (YAML or JSON) from fs.
func LoadJob(fs afero.Fs, filePath string) (*Job, error) {
	data, err := afero.ReadFile(fs, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file '%s': %w", filePath, err)
	}
	job, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse job file '%s': %w", filePath, err)
	}
	return job, nil
}

// ParseJob decodes a job document, fills defaults and validates it.
func ParseJob(data []byte) (*Job, error) {
	var job Job
	if err := yaml.UnmarshalWithOptions(data, &job, yaml.Strict()); err != nil {
		return nil, &etlerr.ConfigurationError{Field: "job", Reason: "invalid document", Err: err}
	}
	job.applyDefaults()
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *Job) applyDefaults() {
	if j.Run.Concurrency == 0 {
		j.Run.Concurrency = DefaultConcurrency
	}
	if j.Chunk.MaxSize == 0 {
		j.Chunk.MaxSize = DefaultChunkSize
	}
	if j.Chunk.Unit == "" {
		j.Chunk.Unit = "records"
	}
	for i := range j.Sources {
		if j.Sources[i].Options == nil {
			j.Sources[i].Options = map[string]any{}
		}
	}
	for i := range j.Writers {
		if j.Writers[i].Options == nil {
			j.Writers[i].Options = map[string]any{}
		}
	}
}

// Validate checks the struct rules and the rules that span fields.
func (j *Job) Validate() error {
	if err := validate.Struct(j); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return etlerr.Configf(fieldPath(fe.Namespace()), "failed %q check", fe.Tag())
		}
		return &etlerr.ConfigurationError{Field: "job", Reason: "invalid", Err: err}
	}
	if j.Chunk.MaxSize < 0 {
		return etlerr.Configf("chunk.max_size", "must be positive, got %d", j.Chunk.MaxSize)
	}
	seen := make(map[string]bool, len(j.Sources))
	for _, s := range j.Sources {
		if seen[s.Name] {
			return etlerr.Configf("sources.name", "duplicate source %q", s.Name)
		}
		seen[s.Name] = true
		if err := checkRenames(s.Rename); err != nil {
			return err
		}
	}
	if j.Run.Date != "" {
		if _, err := utils.ParseDate(j.Run.Date); err != nil {
			return &etlerr.ConfigurationError{Field: "run.date", Reason: "invalid date", Err: err}
		}
	}
	return nil
}

// RunDate is the configured run date, or now when none is set.
func (j *Job) RunDate(now time.Time) time.Time {
	if j.Run.Date == "" {
		return now
	}
	t, err := utils.ParseDate(j.Run.Date)
	if err != nil {
		return now
	}
	return t
}

// Select keeps only the named sources. An unknown name is an error; a name
// given twice selects its source once.
func (j *Job) Select(names []string) error {
	if len(names) == 0 {
		return nil
	}
	byName := make(map[string]SourceConfig, len(j.Sources))
	for _, s := range j.Sources {
		byName[s.Name] = s
	}
	picked := make([]SourceConfig, 0, len(names))
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return etlerr.Configf("sources.name", "no source named %q", n)
		}
		if taken[n] {
			continue
		}
		taken[n] = true
		picked = append(picked, s)
	}
	j.Sources = picked
	return nil
}

// fieldPath turns "Job.Sources[0].Name" into "sources[0].name".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Job.")
	return strings.ToLower(ns)
}
