// Package isel implements DAG-to-DAG pattern instruction selection: a greedy
// tree-pattern matcher over generic operation nodes, the driver that walks a
// graph from its roots and replaces every reachable generic node with machine
// nodes, and an optional trace of the traversal.
package isel

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/raymyers/ralph-isel/pkg/dag"
	"github.com/raymyers/ralph-isel/pkg/pattern"
)

// Result is the outcome of selecting one node.
type Result struct {
	// Pattern is the winning pattern; nil when the node was already a
	// machine node and was left unchanged.
	Pattern *pattern.Pattern

	// Bindings are the captures of the winning pattern.
	Bindings pattern.Bindings

	// Nodes lists the machine nodes created, nested ones first.
	Nodes []dag.NodeID

	// Values holds the replacement for each result of the original node.
	Values []dag.Value
}

// Root returns the node that replaced the original, or the original itself
// when nothing was replaced.
func (r *Result) Root() dag.NodeID {
	if len(r.Nodes) > 0 {
		return r.Nodes[len(r.Nodes)-1]
	}
	if len(r.Values) > 0 {
		return r.Values[0].Node
	}
	return dag.NoNode
}

// Stats summarizes one selection pass.
type Stats struct {
	Visited int // nodes visited, machine nodes included
	Matched int // generic nodes replaced
	Created int // machine nodes emitted
	Removed int // nodes dropped by dead-node elimination
}

type config struct {
	features pattern.Features
	tracer   Tracer
	logger   *slog.Logger
}

// Option configures a Selector or Matcher
type Option func(*config)

// WithFeatures sets the subtarget capabilities predicates see.
func WithFeatures(f pattern.Features) Option {
	return func(c *config) {
		c.features = f
	}
}

// WithTracer installs a traversal observer.
func WithTracer(t Tracer) Option {
	return func(c *config) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts []Option) config {
	c := config{
		features: pattern.Features{},
		tracer:   NopTracer{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Matcher selects nodes of one graph. It owns the replacement record for the
// pass: each node is selected at most once and later references to it are
// redirected to its replacement.
type Matcher struct {
	g      *dag.Graph
	table  *pattern.Table
	cfg    config
	record map[dag.NodeID]*Result
	active map[dag.NodeID]bool
	uses   map[dag.NodeID]int
	stats  Stats
}

// NewMatcher prepares to select nodes of g. Use counts for one_use predicates
// are taken from g as it is now.
func NewMatcher(g *dag.Graph, table *pattern.Table, opts ...Option) *Matcher {
	return newMatcher(g, table, newConfig(opts))
}

func newMatcher(g *dag.Graph, table *pattern.Table, cfg config) *Matcher {
	return &Matcher{
		g:      g,
		table:  table,
		cfg:    cfg,
		record: make(map[dag.NodeID]*Result),
		active: make(map[dag.NodeID]bool),
		uses:   g.UseCounts(),
	}
}

// Features implements pattern.Env.
func (m *Matcher) Features() pattern.Features {
	return m.cfg.features
}

// UseCount implements pattern.Env.
func (m *Matcher) UseCount(id dag.NodeID) int {
	return m.uses[id]
}

// Stats returns counters for the work done so far.
func (m *Matcher) Stats() Stats {
	return m.stats
}

// Resolve follows the replacement record for v. Values of nodes not yet
// selected resolve to themselves.
func (m *Matcher) Resolve(v dag.Value) dag.Value {
	for {
		r, ok := m.record[v.Node]
		if !ok || v.Res >= len(r.Values) || r.Values[v.Res] == v {
			return v
		}
		v = r.Values[v.Res]
	}
}

// Match finds the first pattern, in priority order, that unifies with the
// subtree rooted at id and whose predicates hold. Machine nodes never match.
// Match does not modify the graph.
func (m *Matcher) Match(id dag.NodeID) (*pattern.Pattern, pattern.Bindings, bool) {
	n := m.g.Node(id)
	if n == nil || n.Machine {
		return nil, nil, false
	}
	for _, p := range m.table.Lookup(n.Op) {
		b := make(pattern.Bindings)
		if !m.unify(p.Match, dag.V(id), b) {
			continue
		}
		if !m.predicatesHold(p, b) {
			continue
		}
		return p, b, true
	}
	return nil, nil, false
}

func (m *Matcher) unify(o *pattern.Operand, v dag.Value, b pattern.Bindings) bool {
	n := m.g.Node(v.Node)
	if n == nil {
		return false
	}
	capture := pattern.Binding{Value: v}
	if v.Res < len(n.Types) {
		capture.Type = n.Types[v.Res]
	}
	if o.Type != dag.TypeInvalid && o.Type != capture.Type {
		return false
	}
	if v.Res == 0 && n.IsConstant() {
		capture.Imm, capture.HasImm = n.Imms[0], true
	}

	switch o.Kind {
	case pattern.KindAny:
		return bind(b, o.Name, capture)

	case pattern.KindImm:
		if !capture.HasImm {
			return false
		}
		if o.Literal != nil && *o.Literal != capture.Imm {
			return false
		}
		return bind(b, o.Name, capture)

	case pattern.KindNode:
		if n.Machine || n.Op != o.Op || v.Res != 0 || len(n.Operands) != len(o.Operands) {
			return false
		}
		for i, sub := range o.Operands {
			if !m.unify(sub, n.Operands[i], b) {
				return false
			}
		}
		return bind(b, o.Name, capture)
	}
	return false
}

// bind records a capture. A name seen twice must capture the same value.
func bind(b pattern.Bindings, name string, c pattern.Binding) bool {
	if name == "" {
		return true
	}
	if prev, ok := b[name]; ok {
		return prev.Value == c.Value
	}
	b[name] = c
	return true
}

func (m *Matcher) predicatesHold(p *pattern.Pattern, b pattern.Bindings) bool {
	for _, pred := range p.Predicates {
		if !pred.Eval(m, b) {
			return false
		}
	}
	return true
}

// SelectValue selects the producer of v and returns the value replacing v.
func (m *Matcher) SelectValue(v dag.Value) (dag.Value, error) {
	r, err := m.Select(v.Node)
	if err != nil {
		return dag.Value{}, err
	}
	if v.Res < 0 || v.Res >= len(r.Values) {
		n := m.g.Node(v.Node)
		return dag.Value{}, nodeError(ErrCodeDanglingReference, m.g, n, fmt.Sprintf("reference %s has no replacement", v))
	}
	return r.Values[v.Res], nil
}

// Select replaces the generic node id with machine nodes. Machine nodes are
// terminal: they are not matched again, but their operands are selected and
// redirected to replacements. Each node is selected once; later calls return
// the recorded result.
func (m *Matcher) Select(id dag.NodeID) (*Result, error) {
	if r, ok := m.record[id]; ok {
		return r, nil
	}
	n := m.g.Node(id)
	if n == nil {
		return nil, &Error{
			Code:    ErrCodeDanglingReference,
			Message: fmt.Sprintf("reference to removed node t%d", id),
			Unit:    m.g.Name,
		}
	}
	if m.active[id] {
		return nil, nodeError(ErrCodeInvalidGraph, m.g, n, "node depends on itself")
	}
	m.active[id] = true
	defer delete(m.active, id)

	m.cfg.tracer.Enter(m.g, n)
	m.stats.Visited++

	r, err := m.selectNode(n)
	m.cfg.tracer.Leave(m.g, n, r, err)
	if err != nil {
		return nil, err
	}
	m.record[id] = r
	return r, nil
}

func (m *Matcher) selectNode(n *dag.Node) (*Result, error) {
	if n.Machine {
		for i, op := range n.Operands {
			nv, err := m.SelectValue(op)
			if err != nil {
				return nil, err
			}
			if nv == op {
				continue
			}
			if err := m.g.SetOperand(n.ID, i, nv); err != nil {
				e := nodeError(ErrCodeDanglingReference, m.g, n, "cannot redirect operand")
				e.Err = err
				return nil, e
			}
		}
		r := &Result{Values: make([]dag.Value, n.NumResults())}
		for i := range r.Values {
			r.Values[i] = dag.Value{Node: n.ID, Res: i}
		}
		return r, nil
	}

	p, b, ok := m.Match(n.ID)
	if !ok {
		msg := fmt.Sprintf("no pattern matches %q", n.Op)
		if len(m.table.Lookup(n.Op)) == 0 {
			msg = fmt.Sprintf("no patterns for opcode %q", n.Op)
		}
		return nil, nodeError(ErrCodeUnmatchable, m.g, n, msg)
	}

	e := &emitter{m: m, p: p, b: b, orig: n}
	root, err := e.emit(p.Emit, true)
	if err != nil {
		return nil, err
	}
	if root.NumResults() != n.NumResults() {
		ie := nodeError(ErrCodeInconsistentBinding, m.g, n,
			fmt.Sprintf("template produces %d result(s) for a node with %d", root.NumResults(), n.NumResults()))
		ie.Pattern = p.Name
		return nil, ie
	}

	r := &Result{Pattern: p, Bindings: b, Nodes: e.created, Values: make([]dag.Value, n.NumResults())}
	for i := range r.Values {
		r.Values[i] = dag.Value{Node: root.ID, Res: i}
	}
	m.stats.Matched++
	m.stats.Created += len(e.created)
	m.cfg.logger.Debug("node selected",
		"unit", m.g.Name,
		"node", dag.Describe(n),
		"pattern", p.Name,
		"result", root.String(),
	)
	return r, nil
}

// emitter instantiates one pattern's template.
type emitter struct {
	m       *Matcher
	p       *pattern.Pattern
	b       pattern.Bindings
	orig    *dag.Node
	created []dag.NodeID
}

func (e *emitter) fail(msg string) error {
	err := nodeError(ErrCodeInconsistentBinding, e.m.g, e.orig, msg)
	err.Pattern = e.p.Name
	return err
}

// emit creates the machine node for t after selecting every value it reuses,
// so operands are always in machine form before their user is created.
func (e *emitter) emit(t *pattern.Template, root bool) (*dag.Node, error) {
	var operands []dag.Value
	var imms []int64
	for _, a := range t.Args {
		switch a.Kind {
		case pattern.ArgValue:
			c, ok := e.b[a.Name]
			if !ok {
				return nil, e.fail(fmt.Sprintf("template needs $%s, which was not bound", a.Name))
			}
			src := dag.Value{Node: c.Value.Node, Res: c.Value.Res + a.Res}
			if bn := e.m.g.Node(src.Node); bn == nil || src.Res >= bn.NumResults() {
				return nil, e.fail(fmt.Sprintf("$%s has no result %d", a.Name, src.Res))
			}
			nv, err := e.m.SelectValue(src)
			if err != nil {
				return nil, err
			}
			operands = append(operands, nv)

		case pattern.ArgImm:
			c, ok := e.b[a.Name]
			if !ok || !c.HasImm {
				return nil, e.fail(fmt.Sprintf("template needs immediate #%s, which was not bound", a.Name))
			}
			imms = append(imms, c.Imm)

		case pattern.ArgLiteral:
			imms = append(imms, a.Literal)

		case pattern.ArgEmit:
			sub, err := e.emit(a.Emit, false)
			if err != nil {
				return nil, err
			}
			operands = append(operands, dag.V(sub.ID))
		}
	}

	types := t.Types
	if len(types) == 0 {
		types = e.orig.Types
		if !root && len(types) > 1 {
			types = types[:1]
		}
	}
	n := e.m.g.AddMachineNode(t.Op, types, operands...)
	n.Imms = imms
	n.Loc = e.orig.Loc
	if root {
		n.Sym = e.orig.Sym
	}
	e.created = append(e.created, n.ID)
	return n, nil
}
