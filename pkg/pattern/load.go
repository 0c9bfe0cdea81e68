package pattern

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-isel/pkg/dag"
)

//go:embed schema.cue
var schemaSource string

// File is the on-disk form of a generated pattern table.
type File struct {
	Target   string              `yaml:"target"`
	Features []string            `yaml:"features,omitempty"`
	CPUs     map[string][]string `yaml:"cpus,omitempty"`
	Patterns []Spec              `yaml:"patterns"`
}

// Spec is the on-disk form of one pattern.
type Spec struct {
	Name        string   `yaml:"name"`
	Match       string   `yaml:"match"`
	Emit        string   `yaml:"emit"`
	Cost        int      `yaml:"cost,omitempty"`
	Predicates  []string `yaml:"predicates,omitempty"`
	Types       []string `yaml:"types,omitempty"`
	Commutative bool     `yaml:"commutative,omitempty"`
}

// SchemaError reports a table document that does not have the expected shape.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return "pattern table schema: " + e.Err.Error()
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// LoadFile loads a pattern table from a YAML file.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Load reads, schema-checks and builds a pattern table.
func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := CheckSchema(data); err != nil {
		return nil, err
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding pattern table: %w", err)
	}
	return file.Build()
}

// CheckSchema validates the shape of a YAML table document against the
// embedded CUE schema without building it.
func CheckSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding pattern table: %w", err)
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("converting pattern table: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling pattern schema: %w", err)
	}
	value := ctx.CompileBytes(js, cue.Filename("table.json"))
	if err := value.Err(); err != nil {
		return &SchemaError{Err: err}
	}
	unified := schema.LookupPath(cue.ParsePath("#Table")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{Err: err}
	}
	return nil
}

// Build parses every pattern and constructs the table.
func (f *File) Build() (*Table, error) {
	patterns := make([]*Pattern, 0, len(f.Patterns))
	for i, s := range f.Patterns {
		p, err := s.Parse()
		if err != nil {
			return nil, fmt.Errorf("%s: pattern %d (%s): %w", f.Target, i, s.Name, err)
		}
		patterns = append(patterns, p)
	}

	opts := []TableOption{WithKnownFeatures(f.Features...)}
	for name, feats := range f.CPUs {
		opts = append(opts, WithCPU(name, NewFeatures(feats...)))
	}
	return NewTable(f.Target, patterns, opts...)
}

// Parse converts the on-disk form into a Pattern.
func (s *Spec) Parse() (*Pattern, error) {
	match, err := ParseMatch(s.Match)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	emit, err := ParseTemplate(s.Emit)
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	if len(s.Types) > 0 {
		if len(emit.Types) > 0 {
			return nil, fmt.Errorf("result types given twice")
		}
		for _, ts := range s.Types {
			t, err := dag.ParseType(ts)
			if err != nil {
				return nil, err
			}
			emit.Types = append(emit.Types, t)
		}
	}
	p := &Pattern{
		Name:        s.Name,
		Match:       match,
		Cost:        s.Cost,
		Emit:        emit,
		Commutative: s.Commutative,
	}
	for _, src := range s.Predicates {
		pred, err := ParsePredicate(src)
		if err != nil {
			return nil, err
		}
		p.Predicates = append(p.Predicates, pred)
	}
	return p, nil
}
