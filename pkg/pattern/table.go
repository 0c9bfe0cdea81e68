package pattern

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/raymyers/ralph-isel/pkg/dag"
)

// ErrNoPatterns is returned when a table would be empty.
var ErrNoPatterns = errors.New("no patterns")

// Table is an opcode-indexed, priority-ordered pattern collection. It is
// immutable once built and may be shared by concurrent selections.
type Table struct {
	target   string
	patterns []*Pattern
	byOp     map[dag.Opcode][]*Pattern
	features []string
	cpus     map[string]Features
}

// TableOption configures table construction
type TableOption func(*Table)

// WithKnownFeatures restricts feature predicates to the given names.
func WithKnownFeatures(names ...string) TableOption {
	return func(t *Table) {
		t.features = append([]string(nil), names...)
		sort.Strings(t.features)
	}
}

// WithCPU records a named CPU and its feature set.
func WithCPU(name string, f Features) TableOption {
	return func(t *Table) {
		t.cpus[name] = f
	}
}

// NewTable validates patterns, expands commutative ones and indexes them by
// root opcode. Within one opcode, patterns are ordered by cost, ties broken by
// declaration order; a commuted variant directly follows its original.
func NewTable(target string, patterns []*Pattern, opts ...TableOption) (*Table, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%s: %w", target, ErrNoPatterns)
	}
	t := &Table{
		target: target,
		byOp:   make(map[dag.Opcode][]*Pattern),
		cpus:   make(map[string]Features),
	}
	for _, opt := range opts {
		opt(t)
	}

	names := make(map[string]bool)
	for i, p := range patterns {
		if p.Name == "" {
			p.Name = fmt.Sprintf("pattern%d", i)
		}
		if names[p.Name] {
			return nil, fmt.Errorf("%s: duplicate pattern name %q", target, p.Name)
		}
		names[p.Name] = true
		p.Order = i
		if err := t.validate(p); err != nil {
			return nil, fmt.Errorf("%s: pattern %q: %w", target, p.Name, err)
		}
		t.patterns = append(t.patterns, p)
		if p.Commutative {
			t.patterns = append(t.patterns, commute(p))
		}
	}

	for _, p := range t.patterns {
		t.byOp[p.Root()] = append(t.byOp[p.Root()], p)
	}
	for _, list := range t.byOp {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Cost < list[j].Cost
		})
	}
	return t, nil
}

// commute returns p with its root's two operands swapped.
func commute(p *Pattern) *Pattern {
	root := *p.Match
	root.Operands = []*Operand{p.Match.Operands[1], p.Match.Operands[0]}
	c := *p
	c.Name = p.Name + "/commuted"
	c.Match = &root
	c.Commutative = false
	return &c
}

type bindingInfo struct {
	kind Kind
	op   dag.Opcode
}

func (t *Table) validate(p *Pattern) error {
	if p.Match == nil || p.Match.Kind != KindNode {
		return fmt.Errorf("root must be a node pattern")
	}
	if p.Emit == nil {
		return fmt.Errorf("no emission template")
	}
	if p.Cost < 0 {
		return fmt.Errorf("negative cost %d", p.Cost)
	}
	if p.Commutative && len(p.Match.Operands) != 2 {
		return fmt.Errorf("commutative root must have two operands, has %d", len(p.Match.Operands))
	}

	bound := make(map[string]bindingInfo)
	var collect func(o *Operand) error
	collect = func(o *Operand) error {
		if o.Name != "" {
			if prev, dup := bound[o.Name]; dup {
				if prev.kind != KindAny || o.Kind != KindAny {
					return fmt.Errorf("name %q bound twice", o.Name)
				}
			}
			bound[o.Name] = bindingInfo{kind: o.Kind, op: o.Op}
		}
		for _, sub := range o.Operands {
			if err := collect(sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := collect(p.Match); err != nil {
		return err
	}

	var check func(tmpl *Template) error
	check = func(tmpl *Template) error {
		if tmpl.Op == "" {
			return fmt.Errorf("template without opcode")
		}
		for _, a := range tmpl.Args {
			switch a.Kind {
			case ArgValue:
				if _, ok := bound[a.Name]; !ok {
					return fmt.Errorf("template uses unbound $%s", a.Name)
				}
			case ArgImm:
				b, ok := bound[a.Name]
				if !ok {
					return fmt.Errorf("template uses unbound #%s", a.Name)
				}
				if b.kind != KindImm && !(b.kind == KindNode && b.op == dag.OpConstant) {
					return fmt.Errorf("#%s is not bound to a constant", a.Name)
				}
			case ArgEmit:
				if err := check(a.Emit); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := check(p.Emit); err != nil {
		return err
	}

	for _, pred := range p.Predicates {
		if pred.def.Fn == nil {
			return fmt.Errorf("predicate %q was not parsed", pred.Name)
		}
		if pred.Raw() {
			for _, name := range pred.Args {
				if len(t.features) > 0 && !slices.Contains(t.features, name) {
					return fmt.Errorf("predicate %q names unknown feature %q", pred, name)
				}
			}
			continue
		}
		for _, name := range pred.Args {
			if _, ok := bound[name]; !ok {
				return fmt.Errorf("predicate %q uses unbound %q", pred, name)
			}
		}
	}
	return nil
}

// Target returns the name of the target the table was generated for.
func (t *Table) Target() string {
	return t.target
}

// Lookup returns the candidates for a root opcode in priority order. The
// slice is shared and must not be modified.
func (t *Table) Lookup(op dag.Opcode) []*Pattern {
	return t.byOp[op]
}

// Patterns returns every pattern, commuted variants included, in
// declaration order.
func (t *Table) Patterns() []*Pattern {
	return t.patterns
}

// Len returns the number of patterns including commuted variants.
func (t *Table) Len() int {
	return len(t.patterns)
}

// Opcodes returns the root opcodes the table covers, sorted.
func (t *Table) Opcodes() []dag.Opcode {
	ops := make([]dag.Opcode, 0, len(t.byOp))
	for op := range t.byOp {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	return ops
}

// KnownFeatures returns the feature names the table declares.
func (t *Table) KnownFeatures() []string {
	return t.features
}

// CPU returns the feature set of a named CPU.
func (t *Table) CPU(name string) (Features, bool) {
	f, ok := t.cpus[name]
	return f, ok
}

// CPUs returns the declared CPU names, sorted.
func (t *Table) CPUs() []string {
	names := make([]string, 0, len(t.cpus))
	for n := range t.cpus {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
