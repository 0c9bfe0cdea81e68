package pattern

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/raymyers/ralph-isel/pkg/dag"
)

// Env is the read-only view of selection state a predicate may consult.
type Env interface {
	// Features returns the subtarget capabilities selection runs with.
	Features() Features
	// UseCount returns how many operand edges and roots used the node
	// before selection began.
	UseCount(id dag.NodeID) int
}

// PredicateFunc evaluates a predicate. For predicates over bindings, args
// holds one binding per argument; raw predicates receive no bindings and read
// their literal arguments from the Predicate.
type PredicateFunc func(env Env, p *Predicate, args []Binding) bool

// PredicateDef registers a predicate implementation.
type PredicateDef struct {
	Fn PredicateFunc
	// Arity is the required argument count; -1 accepts one or more.
	Arity int
	// Raw predicates take literal words (feature names) instead of bindings.
	Raw bool
}

var predicates = map[string]PredicateDef{
	"is_const":   {Fn: allImm, Arity: -1},
	"nonzero":    {Fn: nonzero, Arity: 1},
	"simm8":      {Fn: signedRange(8), Arity: 1},
	"simm16":     {Fn: signedRange(16), Arity: 1},
	"simm20":     {Fn: signedRange(20), Arity: 1},
	"simm32":     {Fn: signedRange(32), Arity: 1},
	"uimm12":     {Fn: unsignedRange(12), Arity: 1},
	"uimm16":     {Fn: unsignedRange(16), Arity: 1},
	"one_use":    {Fn: oneUse, Arity: 1},
	"same_type":  {Fn: sameType, Arity: 2},
	"feature":    {Fn: hasFeature, Arity: -1, Raw: true},
	"no_feature": {Fn: lacksFeature, Arity: -1, Raw: true},
}

// RegisterPredicate adds a predicate under name. It must be called before any
// table using the name is built, typically from an init function.
func RegisterPredicate(name string, def PredicateDef) {
	if _, dup := predicates[name]; dup {
		panic("pattern: predicate registered twice: " + name)
	}
	predicates[name] = def
}

// Predicate is a resolved condition of a pattern.
type Predicate struct {
	Name string
	Args []string
	def  PredicateDef
}

func (p *Predicate) String() string {
	if len(p.Args) == 0 {
		return p.Name
	}
	return p.Name + " " + strings.Join(p.Args, " ")
}

// ParsePredicate parses "simm16 y" or "feature distinct-ops". Binding
// arguments may carry a $ or # sigil.
func ParsePredicate(src string) (*Predicate, error) {
	fields := strings.Fields(src)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty predicate")
	}
	def, ok := predicates[fields[0]]
	if !ok {
		return nil, fmt.Errorf("unknown predicate %q", fields[0])
	}
	p := &Predicate{Name: fields[0], def: def}
	for _, a := range fields[1:] {
		if !def.Raw {
			a = strings.TrimLeft(a, "$#")
		}
		p.Args = append(p.Args, a)
	}
	switch {
	case def.Arity < 0 && len(p.Args) == 0:
		return nil, fmt.Errorf("predicate %q needs at least one argument", p.Name)
	case def.Arity >= 0 && len(p.Args) != def.Arity:
		return nil, fmt.Errorf("predicate %q takes %d argument(s), got %d", p.Name, def.Arity, len(p.Args))
	}
	return p, nil
}

// MustPredicate is ParsePredicate for statically known sources; it panics on
// error.
func MustPredicate(src string) *Predicate {
	p, err := ParsePredicate(src)
	if err != nil {
		panic(err)
	}
	return p
}

// Raw reports whether the predicate's arguments are literal words.
func (p *Predicate) Raw() bool {
	return p.def.Raw
}

// Eval evaluates the predicate against bindings. Missing bindings make it
// false; tables are validated so that cannot happen for loaded patterns.
func (p *Predicate) Eval(env Env, b Bindings) bool {
	if p.def.Raw {
		return p.def.Fn(env, p, nil)
	}
	args := make([]Binding, len(p.Args))
	for i, name := range p.Args {
		v, ok := b[name]
		if !ok {
			return false
		}
		args[i] = v
	}
	return p.def.Fn(env, p, args)
}

func allImm(_ Env, _ *Predicate, args []Binding) bool {
	for _, a := range args {
		if !a.HasImm {
			return false
		}
	}
	return true
}

func nonzero(_ Env, _ *Predicate, args []Binding) bool {
	return args[0].HasImm && args[0].Imm != 0
}

func signedRange(bits uint) PredicateFunc {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if bits < 64 {
		lo, hi = -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
	}
	return func(_ Env, _ *Predicate, args []Binding) bool {
		return args[0].HasImm && args[0].Imm >= lo && args[0].Imm <= hi
	}
}

func unsignedRange(bits uint) PredicateFunc {
	hi := int64(1)<<bits - 1
	return func(_ Env, _ *Predicate, args []Binding) bool {
		return args[0].HasImm && args[0].Imm >= 0 && args[0].Imm <= hi
	}
}

func oneUse(env Env, _ *Predicate, args []Binding) bool {
	return env.UseCount(args[0].Value.Node) == 1
}

func sameType(_ Env, _ *Predicate, args []Binding) bool {
	return args[0].Type == args[1].Type
}

func hasFeature(env Env, p *Predicate, _ []Binding) bool {
	f := env.Features()
	for _, name := range p.Args {
		if !f.Has(name) {
			return false
		}
	}
	return true
}

func lacksFeature(env Env, p *Predicate, _ []Binding) bool {
	f := env.Features()
	for _, name := range p.Args {
		if f.Has(name) {
			return false
		}
	}
	return true
}

// Features is a set of subtarget capabilities.
type Features map[string]bool

// NewFeatures builds a feature set from names.
func NewFeatures(names ...string) Features {
	f := make(Features, len(names))
	for _, n := range names {
		f[n] = true
	}
	return f
}

// Has reports whether the feature is enabled.
func (f Features) Has(name string) bool {
	return f[name]
}

// Names returns the enabled features, sorted.
func (f Features) Names() []string {
	names := make([]string, 0, len(f))
	for n, on := range f {
		if on {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// ParseFeatures builds a feature set from an attribute list such as
// "+distinct-ops,-high-word".
func ParseFeatures(attrs string) (Features, error) {
	return Features{}.With(attrs)
}

// With returns a copy of f adjusted by an attribute list such as
// "+distinct-ops,-high-word". Bare names enable the feature.
func (f Features) With(attrs string) (Features, error) {
	out := make(Features, len(f))
	for n, on := range f {
		if on {
			out[n] = true
		}
	}
	for _, a := range strings.Split(attrs, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if len(a) == 1 && (a[0] == '+' || a[0] == '-') {
			return nil, fmt.Errorf("bad feature attribute %q", a)
		}
		switch a[0] {
		case '+':
			out[a[1:]] = true
		case '-':
			delete(out, a[1:])
		default:
			out[a] = true
		}
	}
	return out, nil
}
