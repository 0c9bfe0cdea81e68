// Package dag provides textual dumps of operation graphs.
// The format is for humans and tests; nothing parses it back.
package dag

import (
	"fmt"
	"io"
	"strings"
)

// String formats a node as "t5: i32 = add t3, t4".
func (n *Node) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "t%d", n.ID)
	if len(n.Types) > 0 {
		sb.WriteString(": ")
		for i, t := range n.Types {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(t.String())
		}
	}
	sb.WriteString(" = ")
	sb.WriteString(string(n.Op))

	args := make([]string, 0, len(n.Operands)+len(n.Imms)+1)
	for _, op := range n.Operands {
		args = append(args, op.String())
	}
	for _, imm := range n.Imms {
		args = append(args, fmt.Sprintf("#%d", imm))
	}
	if n.Sym != "" {
		args = append(args, "@"+n.Sym)
	}
	if len(args) > 0 {
		sb.WriteString(" ")
		sb.WriteString(strings.Join(args, ", "))
	}
	return sb.String()
}

// Describe formats a node for diagnostics, including its source location.
func Describe(n *Node) string {
	if n == nil {
		return "<removed node>"
	}
	kind := "generic"
	if n.Machine {
		kind = "machine"
	}
	return fmt.Sprintf("%s (%s node at %s)", n, kind, n.Loc)
}

// Printer writes graph dumps
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new graph printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintGraph prints the reachable part of a graph, operands before users,
// followed by the root list.
func (p *Printer) PrintGraph(g *Graph) {
	fmt.Fprintf(p.w, "unit %s:\n", g.Name)
	for _, id := range g.PostOrder() {
		fmt.Fprintf(p.w, "  %s\n", g.Node(id))
	}
	roots := make([]string, len(g.Roots()))
	for i, r := range g.Roots() {
		roots[i] = r.String()
	}
	fmt.Fprintf(p.w, "  roots: %s\n", strings.Join(roots, ", "))
}

// Dump prints g to w.
func (g *Graph) Dump(w io.Writer) {
	NewPrinter(w).PrintGraph(g)
}
