package stream

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/models"
)

// Policy configures how raw records are flattened.
type Policy struct {
	// Separator joins parent and child keys. Defaults to ".".
	Separator string
	// JoinDelimiter joins the elements of scalar sequences that are not
	// expanded. Defaults to ",".
	JoinDelimiter string
	// Expand lists the field paths whose sequences produce one flat record
	// per element instead of a joined string.
	Expand []string
	// NormalizeKeys rewrites every key segment with NormalizeKey.
	NormalizeKeys bool
}

// Normalizer turns one raw record into one or more flat records.
type Normalizer struct {
	sep           string
	delim         string
	expand        map[string]bool
	normalizeKeys bool
}

func NewNormalizer(p Policy) (*Normalizer, error) {
	n := &Normalizer{
		sep:           p.Separator,
		delim:         p.JoinDelimiter,
		expand:        make(map[string]bool, len(p.Expand)),
		normalizeKeys: p.NormalizeKeys,
	}
	if n.sep == "" {
		n.sep = "."
	}
	if n.delim == "" {
		n.delim = ","
	}
	for _, path := range p.Expand {
		if strings.TrimSpace(path) == "" {
			return nil, etlerr.Configf("normalize.expand", "empty field path")
		}
		n.expand[path] = true
	}
	return n, nil
}

// Normalize validates and flattens raw. Every error is reported before the
// first flat record is produced, so a failing record emits nothing.
func (n *Normalizer) Normalize(raw models.Mapping) (*Expansion, error) {
	sh := &shape{}
	if err := n.walk(sh, "", raw); err != nil {
		return nil, err
	}
	if err := sh.check(); err != nil {
		return nil, err
	}
	return newExpansion(sh), nil
}

// NormalizeAll is Normalize followed by collecting every flat record.
func (n *Normalizer) NormalizeAll(raw models.Mapping) ([]models.Flat, error) {
	x, err := n.Normalize(raw)
	if err != nil {
		return nil, err
	}
	out := make([]models.Flat, 0, x.Len())
	for rec := range x.All() {
		out = append(out, rec)
	}
	return out, nil
}

func (n *Normalizer) path(prefix, key string) string {
	if n.normalizeKeys {
		key = NormalizeKey(key)
	}
	if prefix == "" {
		return key
	}
	return prefix + n.sep + key
}

func (n *Normalizer) walk(sh *shape, prefix string, m models.Mapping) error {
	for _, e := range m {
		if err := n.walkValue(sh, n.path(prefix, e.Key), e.Value); err != nil {
			return err
		}
	}
	return nil
}

func (n *Normalizer) walkValue(sh *shape, path string, v models.Value) error {
	switch x := v.(type) {
	case nil:
		sh.addField(path, nil)
	case models.Scalar:
		s, err := scalar(path, x)
		if err != nil {
			return err
		}
		sh.addField(path, s)
	case models.Mapping:
		return n.walk(sh, path, x)
	case models.Sequence:
		if n.expand[path] {
			opts, err := n.options(path, x)
			if err != nil {
				return err
			}
			sh.addAxis(path, opts)
			return nil
		}
		joined, err := n.join(path, x)
		if err != nil {
			return err
		}
		sh.addField(path, joined)
	default:
		return &etlerr.NormalizationError{Path: path, Reason: fmt.Sprintf("unsupported value %T", v)}
	}
	return nil
}

// options builds one alternative per element of an expanded sequence.
func (n *Normalizer) options(path string, seq models.Sequence) ([][]models.Field, error) {
	if len(seq) == 0 {
		return [][]models.Field{{{Path: path, Value: nil}}}, nil
	}
	var out [][]models.Field
	for i, el := range seq {
		elPath := fmt.Sprintf("%s[%d]", path, i)
		switch x := el.(type) {
		case nil:
			out = append(out, []models.Field{{Path: path, Value: nil}})
		case models.Scalar:
			s, err := scalar(elPath, x)
			if err != nil {
				return nil, err
			}
			out = append(out, []models.Field{{Path: path, Value: s}})
		case models.Mapping:
			sub := &shape{}
			if err := n.walk(sub, path, x); err != nil {
				return nil, err
			}
			if err := sub.check(); err != nil {
				return nil, err
			}
			for rec := range newExpansion(sub).All() {
				out = append(out, rec.Fields)
			}
		case models.Sequence:
			return nil, &etlerr.NormalizationError{Path: elPath, Reason: "nested sequence inside an expanded field"}
		default:
			return nil, &etlerr.NormalizationError{Path: elPath, Reason: fmt.Sprintf("unsupported value %T", el)}
		}
	}
	return out, nil
}

func (n *Normalizer) join(path string, seq models.Sequence) (any, error) {
	if len(seq) == 0 {
		return nil, nil
	}
	parts := make([]string, len(seq))
	for i, el := range seq {
		elPath := fmt.Sprintf("%s[%d]", path, i)
		x, ok := el.(models.Scalar)
		if !ok && el != nil {
			return nil, &etlerr.NormalizationError{
				Path:   elPath,
				Reason: fmt.Sprintf("cannot join %T; list the field under expand", el),
			}
		}
		s, err := scalar(elPath, x)
		if err != nil {
			return nil, err
		}
		parts[i] = formatScalar(s)
	}
	return strings.Join(parts, n.delim), nil
}

func scalar(path string, s models.Scalar) (any, error) {
	c, ok := models.ScalarOf(s.V)
	if !ok {
		return nil, &etlerr.NormalizationError{Path: path, Reason: fmt.Sprintf("unsupported scalar type %T", s.V)}
	}
	if !c.Finite() {
		return nil, &etlerr.NormalizationError{Path: path, Reason: fmt.Sprintf("non-finite number %v", c.V)}
	}
	return c.V, nil
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

var keyReplacer = strings.NewReplacer(
	" ", "_",
	"-", "_",
	"(", "_",
	")", "",
	":", "_",
	"/", "_",
	"\\", "_",
	"][", "_",
	"[", "_",
	"]", "_",
	".", "_",
	"%", "per",
)

// NormalizeKey makes a key safe for column-oriented destinations.
func NormalizeKey(key string) string {
	return strings.Trim(keyReplacer.Replace(strings.TrimSpace(key)), "_")
}

// slot is either a plain field or a reference to an expansion axis.
type slot struct {
	field models.Field
	axis  int
}

type axis struct {
	path    string
	options [][]models.Field
}

type shape struct {
	slots []slot
	axes  []axis
}

func (s *shape) addField(path string, v any) {
	s.slots = append(s.slots, slot{field: models.Field{Path: path, Value: v}, axis: -1})
}

func (s *shape) addAxis(path string, opts [][]models.Field) {
	s.slots = append(s.slots, slot{axis: len(s.axes)})
	s.axes = append(s.axes, axis{path: path, options: opts})
}

// check rejects two slots that produce the same field path.
func (s *shape) check() error {
	owner := make(map[string]int)
	claim := func(path string, i int) error {
		if o, ok := owner[path]; ok && o != i {
			return &etlerr.NormalizationError{Path: path, Reason: "duplicate field path"}
		}
		owner[path] = i
		return nil
	}
	for i, sl := range s.slots {
		if sl.axis < 0 {
			if err := claim(sl.field.Path, i); err != nil {
				return err
			}
			continue
		}
		for _, opt := range s.axes[sl.axis].options {
			seen := make(map[string]bool, len(opt))
			for _, f := range opt {
				if seen[f.Path] {
					return &etlerr.NormalizationError{Path: f.Path, Reason: "duplicate field path"}
				}
				seen[f.Path] = true
				if err := claim(f.Path, i); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Expansion is the lazy sequence of flat records produced from one raw
// record: the cartesian product of its expanded fields.
type Expansion struct {
	shape  *shape
	choice []int
	done   bool
}

func newExpansion(sh *shape) *Expansion {
	return &Expansion{shape: sh, choice: make([]int, len(sh.axes))}
}

// Len is the number of flat records the expansion yields in total.
func (x *Expansion) Len() int {
	n := 1
	for _, a := range x.shape.axes {
		n *= len(a.options)
	}
	return n
}

// Next returns the next flat record, or false once all have been produced.
func (x *Expansion) Next() (models.Flat, bool) {
	if x.done {
		return models.Flat{}, false
	}
	rec := x.build()
	x.advance()
	return rec, true
}

// All yields the remaining flat records.
func (x *Expansion) All() iter.Seq[models.Flat] {
	return func(yield func(models.Flat) bool) {
		for {
			rec, ok := x.Next()
			if !ok || !yield(rec) {
				return
			}
		}
	}
}

func (x *Expansion) build() models.Flat {
	fields := make([]models.Field, 0, len(x.shape.slots))
	for _, sl := range x.shape.slots {
		if sl.axis < 0 {
			fields = append(fields, sl.field)
			continue
		}
		fields = append(fields, x.shape.axes[sl.axis].options[x.choice[sl.axis]]...)
	}
	return models.Flat{Fields: fields}
}

// advance moves the choice vector like an odometer; the first expanded field
// varies slowest.
func (x *Expansion) advance() {
	for i := len(x.choice) - 1; i >= 0; i-- {
		x.choice[i]++
		if x.choice[i] < len(x.shape.axes[i].options) {
			return
		}
		x.choice[i] = 0
	}
	x.done = true
}
