package isel

import (
	"fmt"
	"io"
	"strings"

	"github.com/raymyers/ralph-isel/pkg/dag"
)

// Tracer observes selection. Calls arrive in a fixed order: Begin, then one
// Enter/Leave pair per visited node, nested by recursion depth, then End.
// Tracers must not modify the graph.
type Tracer interface {
	Begin(g *dag.Graph)
	Enter(g *dag.Graph, n *dag.Node)
	// Leave reports the outcome for n: r is nil on failure, and r.Pattern is
	// nil when n was already a machine node.
	Leave(g *dag.Graph, n *dag.Node, r *Result, err error)
	End(g *dag.Graph)
}

// NopTracer ignores every event.
type NopTracer struct{}

func (NopTracer) Begin(*dag.Graph)                            {}
func (NopTracer) Enter(*dag.Graph, *dag.Node)                 {}
func (NopTracer) Leave(*dag.Graph, *dag.Node, *Result, error) {}
func (NopTracer) End(*dag.Graph)                              {}

// TextTracer writes a human-readable, indented log of the traversal.
type TextTracer struct {
	w      io.Writer
	indent int
}

// NewTextTracer creates a tracer writing to w.
func NewTextTracer(w io.Writer) *TextTracer {
	return &TextTracer{w: w}
}

func (t *TextTracer) Begin(g *dag.Graph) {
	t.indent = 0
	fmt.Fprintf(t.w, "===== Instruction selection begins: %s\n", g.Name)
}

func (t *TextTracer) Enter(_ *dag.Graph, n *dag.Node) {
	fmt.Fprintf(t.w, "%sSelecting: %s\n", strings.Repeat(" ", t.indent), n)
	t.indent += 2
}

func (t *TextTracer) Leave(g *dag.Graph, n *dag.Node, r *Result, err error) {
	t.indent -= 2
	pad := strings.Repeat(" ", t.indent)
	switch {
	case err != nil:
		fmt.Fprintf(t.w, "%s!! %s\n", pad, n)
	case r.Pattern == nil:
		fmt.Fprintf(t.w, "%s== %s\n", pad, n)
	default:
		fmt.Fprintf(t.w, "%s=> %s [%s]\n", pad, g.Node(r.Root()), r.Pattern.Name)
	}
}

func (t *TextTracer) End(g *dag.Graph) {
	fmt.Fprintf(t.w, "===== Instruction selection ends: %s\n", g.Name)
}
