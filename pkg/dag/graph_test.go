package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addOfConstants builds t2 = add(t0, t1) with t0 = 2 and t1 = 3.
func addOfConstants() (*Graph, *Node) {
	g := New("f")
	c2 := g.Constant(2, TypeI32)
	c3 := g.Constant(3, TypeI32)
	add := g.AddNode(OpAdd, []Type{TypeI32}, c2, c3)
	g.AddRoot(V(add.ID))
	return g, add
}

func TestAddNode(t *testing.T) {
	g, add := addOfConstants()

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, NodeID(2), add.ID)
	assert.False(t, add.Machine)
	assert.Equal(t, []Value{{Node: 0}, {Node: 1}}, add.Operands)

	c := g.Node(0)
	require.NotNil(t, c)
	assert.True(t, c.IsConstant())
	v, ok := c.Imm()
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)

	m := g.AddMachineNode("AR", []Type{TypeI32}, V(0), V(1))
	assert.True(t, m.Machine)
	assert.False(t, m.IsConstant())
}

func TestAddNode_DanglingOperandPanics(t *testing.T) {
	g := New("f")
	assert.Panics(t, func() {
		g.AddNode(OpAdd, []Type{TypeI32}, V(7), V(8))
	})
	c := g.Constant(1, TypeI32)
	assert.Panics(t, func() {
		g.AddNode(OpAdd, []Type{TypeI32}, c, Value{Node: c.Node, Res: 1})
	})
}

func TestOperand_MissingNodeOrIndex(t *testing.T) {
	g, add := addOfConstants()
	assert.Equal(t, V(0), g.Operand(add.ID, 0))
	assert.Equal(t, NoNode, g.Operand(add.ID, 2).Node)
	assert.Equal(t, NoNode, g.Operand(add.ID, -1).Node)
	assert.Equal(t, NoNode, g.Operand(99, 0).Node)

	require.NoError(t, g.SetRoot(0, V(0)))
	assert.Equal(t, 2, g.RemoveDeadNodes())
	assert.Equal(t, NoNode, g.Operand(add.ID, 0).Node)
}

func TestSetOperand(t *testing.T) {
	g := New("f")
	c := g.Constant(1, TypeI32)
	a := g.AddNode(OpAdd, []Type{TypeI32}, c, c)
	b := g.AddNode(OpAdd, []Type{TypeI32}, V(a.ID), c)
	d := g.Constant(4, TypeI32)

	require.NoError(t, g.SetOperand(a.ID, 1, d))
	assert.Equal(t, d, g.Operand(a.ID, 1))

	err := g.SetOperand(a.ID, 0, V(b.ID))
	var ve *VerifyError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCycle, ve.Kind)

	err = g.SetOperand(a.ID, 0, V(a.ID))
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrCycle, ve.Kind)

	err = g.SetOperand(a.ID, 0, V(99))
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrDangling, ve.Kind)

	assert.Error(t, g.SetOperand(a.ID, 5, c))
	require.NoError(t, g.Verify())
}

func TestPostOrder(t *testing.T) {
	g := New("f")
	entry := g.AddNode(OpEntry, []Type{TypeChain})
	p := g.AddNode(OpCopyFromReg, []Type{TypeI64, TypeChain}, V(entry.ID))
	p.Sym = "r2"
	ld := g.AddNode(OpLoad, []Type{TypeI32, TypeChain}, Value{Node: p.ID, Res: 1}, V(p.ID))
	one := g.Constant(1, TypeI32)
	add := g.AddNode(OpAdd, []Type{TypeI32}, V(ld.ID), one)
	g.Constant(42, TypeI32) // unreachable
	g.AddRoot(V(add.ID))
	g.AddRoot(Value{Node: ld.ID, Res: 1})

	assert.Equal(t, []NodeID{entry.ID, p.ID, ld.ID, one.Node, add.ID}, g.PostOrder())

	uses := g.UseCounts()
	assert.Equal(t, 2, uses[p.ID])
	assert.Equal(t, 2, uses[ld.ID])
	assert.Equal(t, 1, uses[add.ID])
	assert.Equal(t, 0, uses[5])
}

func TestRemoveDeadNodes(t *testing.T) {
	g, add := addOfConstants()
	dead := g.AddNode(OpSub, []Type{TypeI32}, V(0), V(1))

	assert.Equal(t, 1, g.RemoveDeadNodes())
	assert.Nil(t, g.Node(dead.ID))
	assert.Equal(t, 3, g.Len())
	assert.Equal(t, 4, g.Cap())

	require.NoError(t, g.SetRoot(0, V(0)))
	assert.Equal(t, 2, g.RemoveDeadNodes())
	assert.Nil(t, g.Node(add.ID))
	assert.Len(t, g.Nodes(), 1)
	require.NoError(t, g.Verify())
}

func TestVerify_Cycle(t *testing.T) {
	spec := &GraphSpec{
		Name: "loop",
		Nodes: []NodeSpec{
			{ID: "a", Op: "add", Types: []string{"i32"}, Operands: []string{"b", "b"}},
			{ID: "b", Op: "add", Types: []string{"i32"}, Operands: []string{"a", "a"}},
		},
		Roots: []string{"a"},
	}
	_, err := FromSpec(spec)
	var ve *VerifyError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, ErrCycle, ve.Kind)
}

func TestVerify_BadResult(t *testing.T) {
	spec := &GraphSpec{
		Name: "bad",
		Nodes: []NodeSpec{
			{ID: "c", Op: "constant", Types: []string{"i32"}, Imms: []int64{1}},
			{ID: "a", Op: "add", Types: []string{"i32"}, Operands: []string{"c:1", "c"}},
		},
		Roots: []string{"a"},
	}
	_, err := FromSpec(spec)
	var ve *VerifyError
	require.True(t, errors.As(err, &ve), "got %v", err)
	assert.Equal(t, ErrBadResult, ve.Kind)
}

func TestCloneAndEqual(t *testing.T) {
	g, add := addOfConstants()
	c := g.Clone()
	assert.True(t, Equal(g, c))

	c.Node(add.ID).Op = OpSub
	assert.False(t, Equal(g, c))
	assert.Equal(t, OpAdd, g.Node(add.ID).Op, "clone must not alias nodes")

	// Same shape with different numbering is still equal.
	h := New("f")
	h.Constant(99, TypeI64) // shifts every ID by one
	c2 := h.Constant(2, TypeI32)
	c3 := h.Constant(3, TypeI32)
	h.AddRoot(V(h.AddNode(OpAdd, []Type{TypeI32}, c2, c3).ID))
	assert.True(t, Equal(g, h))

	// Sharing differs: add(c, c) is not add(c2, c3).
	s := New("f")
	cs := s.Constant(2, TypeI32)
	s.AddRoot(V(s.AddNode(OpAdd, []Type{TypeI32}, cs, cs).ID))
	assert.False(t, Equal(g, s))
}
