// Package pattern defines the rewrite rules of an instruction selector: tree
// patterns over generic operation nodes, the predicates that guard them, and
// the templates that emit machine nodes. A Table indexes patterns by root
// opcode in priority order; it is built once and is read-only afterwards.
package pattern

import (
	"fmt"
	"strings"

	"github.com/raymyers/ralph-isel/pkg/dag"
)

// Kind classifies a sub-pattern
type Kind uint8

const (
	// KindAny matches any value and binds it
	KindAny Kind = iota
	// KindImm matches an integer constant node
	KindImm
	// KindNode matches a generic node with a given opcode and operands
	KindNode
)

// Operand is one sub-pattern of a match tree.
type Operand struct {
	Kind     Kind
	Name     string     // binding name, empty when anonymous
	Op       dag.Opcode // KindNode only
	Operands []*Operand // KindNode only
	Type     dag.Type   // result type constraint; TypeInvalid accepts any
	Literal  *int64     // KindImm only: the constant must equal this value
}

func (o *Operand) String() string {
	var sb strings.Builder
	o.write(&sb)
	return sb.String()
}

func (o *Operand) write(sb *strings.Builder) {
	switch o.Kind {
	case KindAny:
		if o.Name == "" {
			sb.WriteString("_")
		} else {
			sb.WriteString("$" + o.Name)
		}
	case KindImm:
		if o.Literal != nil {
			fmt.Fprintf(sb, "#%d", *o.Literal)
		} else {
			sb.WriteString("#" + o.Name)
		}
	case KindNode:
		sb.WriteString("(")
		sb.WriteString(string(o.Op))
		if o.Name != "" {
			sb.WriteString("@" + o.Name)
		}
		if o.Type != dag.TypeInvalid {
			sb.WriteString(":" + o.Type.String())
		}
		for _, sub := range o.Operands {
			sb.WriteString(" ")
			sub.write(sb)
		}
		sb.WriteString(")")
		return
	}
	if o.Type != dag.TypeInvalid {
		sb.WriteString(":" + o.Type.String())
	}
}

// ArgKind classifies one operand of an emission template
type ArgKind uint8

const (
	// ArgValue reuses a bound value reference ($x)
	ArgValue ArgKind = iota
	// ArgImm copies the immediate of a bound constant (#x)
	ArgImm
	// ArgLiteral is a literal immediate (#5)
	ArgLiteral
	// ArgEmit is a nested machine node
	ArgEmit
)

// Arg is one operand of an emission template.
type Arg struct {
	Kind    ArgKind
	Name    string
	Res     int // result of the bound value to reference, for ArgValue
	Literal int64
	Emit    *Template
}

// Template describes a machine node to create from bindings. Value operands
// become operand references, immediates are appended to the node's Imms in
// template order.
type Template struct {
	Op    dag.Opcode
	Types []dag.Type // empty means "same as the matched node"
	Args  []*Arg
}

func (t *Template) String() string {
	var sb strings.Builder
	t.write(&sb)
	return sb.String()
}

func (t *Template) write(sb *strings.Builder) {
	sb.WriteString("(")
	sb.WriteString(string(t.Op))
	if len(t.Types) > 0 {
		names := make([]string, len(t.Types))
		for i, ty := range t.Types {
			names[i] = ty.String()
		}
		sb.WriteString(":" + strings.Join(names, ","))
	}
	for _, a := range t.Args {
		sb.WriteString(" ")
		switch a.Kind {
		case ArgValue:
			sb.WriteString("$" + a.Name)
			if a.Res != 0 {
				fmt.Fprintf(sb, ".%d", a.Res)
			}
		case ArgImm:
			sb.WriteString("#" + a.Name)
		case ArgLiteral:
			fmt.Fprintf(sb, "#%d", a.Literal)
		case ArgEmit:
			a.Emit.write(sb)
		}
	}
	sb.WriteString(")")
}

// Pattern is one rewrite rule.
type Pattern struct {
	Name        string
	Match       *Operand
	Predicates  []*Predicate
	Cost        int
	Emit        *Template
	Commutative bool // the root's two operands may be swapped

	// Order is the declaration index in the supplied data; commuted variants
	// share the index of the pattern they were derived from.
	Order int
}

// Root returns the opcode the pattern is indexed under.
func (p *Pattern) Root() dag.Opcode {
	return p.Match.Op
}

func (p *Pattern) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", p.Name, p.Match)
	for _, pred := range p.Predicates {
		fmt.Fprintf(&sb, " [%s]", pred)
	}
	fmt.Fprintf(&sb, " -> %s cost %d", p.Emit, p.Cost)
	return sb.String()
}

// Binding is what a named sub-pattern captured during unification.
type Binding struct {
	Value  dag.Value
	Type   dag.Type
	Imm    int64
	HasImm bool
}

// Bindings maps binding names to captures.
type Bindings map[string]Binding
