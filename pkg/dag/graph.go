package dag

import "fmt"

// Graph is the operation graph for one compiled unit. Nodes are stored in an
// arena indexed by NodeID; removed nodes leave a nil slot so IDs stay stable.
type Graph struct {
	Name  string
	nodes []*Node
	roots []Value
	live  int
}

// New creates an empty graph for the named unit.
func New(name string) *Graph {
	return &Graph{Name: name}
}

func (g *Graph) add(op Opcode, machine bool, types []Type, operands []Value) *Node {
	n := &Node{
		ID:       NodeID(len(g.nodes)),
		Op:       op,
		Machine:  machine,
		Operands: append([]Value(nil), operands...),
		Types:    append([]Type(nil), types...),
	}
	g.nodes = append(g.nodes, n)
	g.live++
	return n
}

// AddNode creates a generic node. Operands must refer to existing nodes, which
// keeps the arena in topological order and the graph acyclic.
func (g *Graph) AddNode(op Opcode, types []Type, operands ...Value) *Node {
	g.mustResolve(operands)
	return g.add(op, false, types, operands)
}

// AddMachineNode creates a node already in target form.
func (g *Graph) AddMachineNode(op Opcode, types []Type, operands ...Value) *Node {
	g.mustResolve(operands)
	return g.add(op, true, types, operands)
}

// Constant creates a generic integer constant node and returns its value.
func (g *Graph) Constant(v int64, t Type) Value {
	n := g.add(OpConstant, false, []Type{t}, nil)
	n.Imms = []int64{v}
	return V(n.ID)
}

func (g *Graph) mustResolve(operands []Value) {
	for _, v := range operands {
		if err := g.checkValue(v); err != nil {
			panic(err)
		}
	}
}

func (g *Graph) checkValue(v Value) error {
	n := g.Node(v.Node)
	if n == nil {
		return &VerifyError{Kind: ErrDangling, Node: v.Node, Message: fmt.Sprintf("reference to missing node %s", v)}
	}
	if v.Res < 0 || v.Res >= n.NumResults() {
		return &VerifyError{Kind: ErrBadResult, Node: v.Node, Message: fmt.Sprintf("%s has %d result(s)", v, n.NumResults())}
	}
	return nil
}

// Node returns the live node with the given ID, or nil.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	return g.live
}

// Cap returns the number of IDs ever allocated.
func (g *Graph) Cap() int {
	return len(g.nodes)
}

// Nodes returns the live nodes in ID order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, g.live)
	for _, n := range g.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Operand returns operand i of node id. If the node was removed or has no
// such operand, the result's Node is NoNode.
func (g *Graph) Operand(id NodeID, i int) Value {
	n := g.Node(id)
	if n == nil || i < 0 || i >= len(n.Operands) {
		return Value{Node: NoNode}
	}
	return n.Operands[i]
}

// SetOperand redirects operand i of node id to v. It rejects references to
// missing nodes and edges that would close a cycle.
func (g *Graph) SetOperand(id NodeID, i int, v Value) error {
	n := g.Node(id)
	if n == nil {
		return &VerifyError{Kind: ErrDangling, Node: id, Message: fmt.Sprintf("no node t%d", id)}
	}
	if i < 0 || i >= len(n.Operands) {
		return fmt.Errorf("t%d has no operand %d", id, i)
	}
	if err := g.checkValue(v); err != nil {
		return err
	}
	if n.Operands[i] == v {
		return nil
	}
	if g.reaches(v.Node, id) {
		return &VerifyError{Kind: ErrCycle, Node: id, Message: fmt.Sprintf("operand %s of t%d would create a cycle", v, id)}
	}
	n.Operands[i] = v
	return nil
}

// reaches reports whether to is reachable from from along operand edges.
func (g *Graph) reaches(from, to NodeID) bool {
	seen := make(map[NodeID]bool)
	stack := []NodeID{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if n := g.Node(id); n != nil {
			for _, op := range n.Operands {
				stack = append(stack, op.Node)
			}
		}
	}
	return false
}

// Roots returns the graph outputs. The slice must not be modified.
func (g *Graph) Roots() []Value {
	return g.roots
}

// AddRoot appends v to the root set.
func (g *Graph) AddRoot(v Value) {
	g.mustResolve([]Value{v})
	g.roots = append(g.roots, v)
}

// SetRoot replaces root i.
func (g *Graph) SetRoot(i int, v Value) error {
	if i < 0 || i >= len(g.roots) {
		return fmt.Errorf("no root %d", i)
	}
	if err := g.checkValue(v); err != nil {
		return err
	}
	g.roots[i] = v
	return nil
}

// Clone returns a deep copy with identical IDs.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:  g.Name,
		nodes: make([]*Node, len(g.nodes)),
		roots: append([]Value(nil), g.roots...),
		live:  g.live,
	}
	for i, n := range g.nodes {
		if n == nil {
			continue
		}
		cp := *n
		cp.Operands = append([]Value(nil), n.Operands...)
		cp.Types = append([]Type(nil), n.Types...)
		cp.Imms = append([]int64(nil), n.Imms...)
		c.nodes[i] = &cp
	}
	return c
}
