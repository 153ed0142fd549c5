package etl

import (
	"fmt"

	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/models"
)

// RenameTransform renames flat fields by exact path. Fields not listed are
// kept as they are. A rename that lands on a path the record already holds
// is rejected.
type RenameTransform struct {
	Names map[string]string
}

func NewRenameTransform(names map[string]string) *RenameTransform {
	return &RenameTransform{Names: names}
}

func (t *RenameTransform) Transform(rec models.Flat) (models.Flat, bool, error) {
	if len(t.Names) == 0 {
		return rec, true, nil
	}
	out := rec.Clone()
	seen := make(map[string]string, len(out.Fields))
	for i, f := range out.Fields {
		to, ok := t.Names[f.Path]
		if !ok {
			to = f.Path
		}
		if from, dup := seen[to]; dup {
			return rec, false, &etlerr.NormalizationError{
				Path:   to,
				Reason: fmt.Sprintf("rename of %q collides with field %q", f.Path, from),
			}
		}
		seen[to] = f.Path
		out.Fields[i].Path = to
	}
	return out, true, nil
}

// DropTransform removes flat fields by exact path or by path prefix when the
// entry ends with the path separator.
type DropTransform struct {
	paths    map[string]bool
	prefixes []string
}

func NewDropTransform(paths []string, sep string) *DropTransform {
	t := &DropTransform{paths: make(map[string]bool, len(paths))}
	for _, p := range paths {
		if sep != "" && len(p) > len(sep) && p[len(p)-len(sep):] == sep {
			t.prefixes = append(t.prefixes, p)
			continue
		}
		t.paths[p] = true
	}
	return t
}

func (t *DropTransform) Transform(rec models.Flat) (models.Flat, bool, error) {
	out := models.Flat{Fields: make([]models.Field, 0, len(rec.Fields))}
	for _, f := range rec.Fields {
		if t.drops(f.Path) {
			continue
		}
		out.Fields = append(out.Fields, f)
	}
	return out, true, nil
}

func (t *DropTransform) drops(path string) bool {
	if t.paths[path] {
		return true
	}
	for _, p := range t.prefixes {
		if len(path) >= len(p) && path[:len(p)] == p {
			return true
		}
	}
	return false
}

// BuildTransformers turns a field mapping into the transformers a stream
// applies, drop before rename so that drop paths name source fields.
func BuildTransformers(m models.FieldMapping, sep string) []stream.Transformer {
	var out []stream.Transformer
	if len(m.Drop) > 0 {
		out = append(out, NewDropTransform(m.Drop, sep))
	}
	if len(m.Rename) > 0 {
		out = append(out, NewRenameTransform(m.Rename))
	}
	return out
}
