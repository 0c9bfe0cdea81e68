package dag

import (
	"fmt"
	"slices"
)

// VerifyErrorKind categorizes graph invariant violations.
type VerifyErrorKind string

const (
	ErrCycle     VerifyErrorKind = "cycle"
	ErrDangling  VerifyErrorKind = "dangling reference"
	ErrBadResult VerifyErrorKind = "result index out of range"
)

// VerifyError reports a broken graph invariant at a node.
type VerifyError struct {
	Kind    VerifyErrorKind
	Node    NodeID
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// PostOrder returns the IDs of every node reachable from the roots, operands
// before users. Roots and operands are walked in order so the result is
// deterministic for a given graph.
func (g *Graph) PostOrder() []NodeID {
	seen := make([]bool, len(g.nodes))
	var order []NodeID
	var visit func(id NodeID)
	visit = func(id NodeID) {
		n := g.Node(id)
		if n == nil || seen[id] {
			return
		}
		seen[id] = true
		for _, op := range n.Operands {
			visit(op.Node)
		}
		order = append(order, id)
	}
	for _, r := range g.roots {
		visit(r.Node)
	}
	return order
}

// Reachable returns the set of node IDs reachable from the roots.
func (g *Graph) Reachable() map[NodeID]bool {
	out := make(map[NodeID]bool)
	for _, id := range g.PostOrder() {
		out[id] = true
	}
	return out
}

// UseCounts counts, for every reachable node, the operand edges of reachable
// nodes plus root entries that refer to any of its results.
func (g *Graph) UseCounts() map[NodeID]int {
	uses := make(map[NodeID]int)
	for _, id := range g.PostOrder() {
		for _, op := range g.nodes[id].Operands {
			uses[op.Node]++
		}
	}
	for _, r := range g.roots {
		uses[r.Node]++
	}
	return uses
}

// RemoveDeadNodes drops every node not reachable from the root set and returns
// how many were removed. IDs of removed nodes must not be used afterwards.
func (g *Graph) RemoveDeadNodes() int {
	keep := g.Reachable()
	removed := 0
	for i, n := range g.nodes {
		if n != nil && !keep[n.ID] {
			g.nodes[i] = nil
			removed++
		}
	}
	g.live -= removed
	return removed
}

// Verify checks that every operand and root resolves to a live node result
// and that the graph has no cycles.
func (g *Graph) Verify() error {
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for _, op := range n.Operands {
			if err := g.checkValue(op); err != nil {
				ve := err.(*VerifyError)
				ve.Message = fmt.Sprintf("operand of t%d: %s", n.ID, ve.Message)
				return ve
			}
		}
	}
	for _, r := range g.roots {
		if err := g.checkValue(r); err != nil {
			ve := err.(*VerifyError)
			ve.Message = "root: " + ve.Message
			return ve
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(g.nodes))
	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		switch color[id] {
		case grey:
			return &VerifyError{Kind: ErrCycle, Node: id, Message: fmt.Sprintf("t%d is its own operand", id)}
		case black:
			return nil
		}
		color[id] = grey
		for _, op := range g.nodes[id].Operands {
			if err := visit(op.Node); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		if err := visit(n.ID); err != nil {
			return err
		}
	}
	return nil
}

// Equal reports whether two graphs are structurally identical: the same
// shapes reachable from the same roots, regardless of node numbering.
func Equal(a, b *Graph) bool {
	if len(a.roots) != len(b.roots) {
		return false
	}
	fwd := make(map[NodeID]NodeID)
	back := make(map[NodeID]NodeID)
	var same func(x, y Value) bool
	same = func(x, y Value) bool {
		if x.Res != y.Res {
			return false
		}
		if m, ok := fwd[x.Node]; ok {
			return m == y.Node
		}
		if _, ok := back[y.Node]; ok {
			return false
		}
		nx, ny := a.Node(x.Node), b.Node(y.Node)
		if nx == nil || ny == nil {
			return nx == ny
		}
		if nx.Op != ny.Op || nx.Machine != ny.Machine || nx.Sym != ny.Sym || nx.Loc != ny.Loc ||
			!slices.Equal(nx.Types, ny.Types) || !slices.Equal(nx.Imms, ny.Imms) ||
			len(nx.Operands) != len(ny.Operands) {
			return false
		}
		fwd[x.Node] = y.Node
		back[y.Node] = x.Node
		for i := range nx.Operands {
			if !same(nx.Operands[i], ny.Operands[i]) {
				return false
			}
		}
		return true
	}
	for i := range a.roots {
		if !same(a.roots[i], b.roots[i]) {
			return false
		}
	}
	return true
}
