package isel

import (
	"fmt"
	"time"

	"github.com/raymyers/ralph-isel/pkg/dag"
	"github.com/raymyers/ralph-isel/pkg/pattern"
)

// Selector runs instruction selection over whole graphs. A Selector holds no
// per-graph state and may be shared by goroutines selecting different graphs,
// provided the tracer it was created with is stateless. A TextTracer is not:
// concurrent callers should use RunTraced with one tracer per graph.
type Selector struct {
	table *pattern.Table
	cfg   config
}

// New creates a selector for the given pattern table.
func New(table *pattern.Table, opts ...Option) *Selector {
	return &Selector{table: table, cfg: newConfig(opts)}
}

// Table returns the pattern table in use.
func (s *Selector) Table() *pattern.Table {
	return s.table
}

// Run selects g in place: every node reachable from the roots is replaced by
// machine nodes, roots are redirected to the replacements, and nodes that are
// no longer reachable are removed. On error g must be discarded.
func (s *Selector) Run(g *dag.Graph) (*Stats, error) {
	return s.run(g, s.cfg.tracer)
}

// RunTraced is Run with a tracer for this graph only.
func (s *Selector) RunTraced(g *dag.Graph, t Tracer) (*Stats, error) {
	if t == nil {
		t = NopTracer{}
	}
	return s.run(g, t)
}

func (s *Selector) run(g *dag.Graph, tracer Tracer) (*Stats, error) {
	start := time.Now()
	log := s.cfg.logger.With("unit", g.Name)

	if err := g.Verify(); err != nil {
		e := &Error{Code: ErrCodeInvalidGraph, Message: "input graph failed verification", Unit: g.Name, Err: err}
		log.Error("selection failed", "error", e)
		return nil, e
	}
	log.Info("selection begins", "target", s.table.Target(), "nodes", g.Len())

	cfg := s.cfg
	cfg.tracer = tracer
	m := newMatcher(g, s.table, cfg)

	tracer.Begin(g)
	for i, root := range g.Roots() {
		nv, err := m.SelectValue(root)
		if err != nil {
			tracer.End(g)
			log.Error("selection failed", "error", err)
			return nil, err
		}
		if err := g.SetRoot(i, nv); err != nil {
			tracer.End(g)
			e := &Error{Code: ErrCodeDanglingReference, Message: fmt.Sprintf("cannot redirect root %d", i), Unit: g.Name, Err: err}
			log.Error("selection failed", "error", e)
			return nil, e
		}
	}
	tracer.End(g)

	stats := m.Stats()
	stats.Removed = g.RemoveDeadNodes()

	if err := checkSelected(g); err != nil {
		log.Error("selection failed", "error", err)
		return nil, err
	}

	log.Info("selection ends",
		"visited", stats.Visited,
		"matched", stats.Matched,
		"created", stats.Created,
		"removed", stats.Removed,
		"elapsed", time.Since(start),
	)
	return &stats, nil
}

// checkSelected verifies the output: every live node is a machine node and
// every reference resolves.
func checkSelected(g *dag.Graph) error {
	for _, n := range g.Nodes() {
		if !n.Machine {
			return nodeError(ErrCodeUnmatchable, g, n, "generic node survived selection")
		}
	}
	if err := g.Verify(); err != nil {
		return &Error{Code: ErrCodeDanglingReference, Message: "selected graph failed verification", Unit: g.Name, Err: err}
	}
	return nil
}
