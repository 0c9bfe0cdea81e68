package dag

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NodeSpec is the file form of one node. Operands and roots name other nodes
// by their ID label, optionally suffixed with ":<result>".
type NodeSpec struct {
	ID       string   `yaml:"id"`
	Op       string   `yaml:"op"`
	Machine  bool     `yaml:"machine,omitempty"`
	Types    []string `yaml:"types,omitempty,flow"`
	Operands []string `yaml:"operands,omitempty,flow"`
	Imms     []int64  `yaml:"imms,omitempty,flow"`
	Sym      string   `yaml:"sym,omitempty"`
	Loc      string   `yaml:"loc,omitempty"`
}

// GraphSpec is the file form of one compiled unit.
type GraphSpec struct {
	Name  string     `yaml:"name"`
	Nodes []NodeSpec `yaml:"nodes"`
	Roots []string   `yaml:"roots,flow"`
}

// Decode reads every YAML document in r as one graph.
func Decode(r io.Reader) ([]*Graph, error) {
	dec := yaml.NewDecoder(r)
	var graphs []*Graph
	for {
		var spec GraphSpec
		err := dec.Decode(&spec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding graph %d: %w", len(graphs)+1, err)
		}
		if spec.Name == "" && len(spec.Nodes) == 0 {
			continue
		}
		g, err := FromSpec(&spec)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// FromSpec builds and verifies a graph from its file form.
func FromSpec(spec *GraphSpec) (*Graph, error) {
	name := spec.Name
	if name == "" {
		name = "unnamed"
	}
	g := New(name)
	labels := make(map[string]NodeID, len(spec.Nodes))

	for i, ns := range spec.Nodes {
		if ns.Op == "" {
			return nil, fmt.Errorf("%s: node %d has no op", name, i)
		}
		types := make([]Type, len(ns.Types))
		for j, ts := range ns.Types {
			t, err := ParseType(ts)
			if err != nil {
				return nil, fmt.Errorf("%s: node %q: %w", name, ns.ID, err)
			}
			types[j] = t
		}
		n := g.add(Opcode(ns.Op), ns.Machine, types, nil)
		n.Imms = append([]int64(nil), ns.Imms...)
		n.Sym = ns.Sym
		loc, err := parseLoc(ns.Loc)
		if err != nil {
			return nil, fmt.Errorf("%s: node %q: %w", name, ns.ID, err)
		}
		n.Loc = loc

		label := ns.ID
		if label == "" {
			label = fmt.Sprintf("t%d", n.ID)
		}
		if _, dup := labels[label]; dup {
			return nil, fmt.Errorf("%s: duplicate node id %q", name, label)
		}
		labels[label] = n.ID
	}

	for i, ns := range spec.Nodes {
		n := g.nodes[i]
		for _, ref := range ns.Operands {
			v, err := resolveRef(labels, ref)
			if err != nil {
				return nil, fmt.Errorf("%s: node %q: %w", name, ns.ID, err)
			}
			n.Operands = append(n.Operands, v)
		}
	}
	for _, ref := range spec.Roots {
		v, err := resolveRef(labels, ref)
		if err != nil {
			return nil, fmt.Errorf("%s: root: %w", name, err)
		}
		g.roots = append(g.roots, v)
	}

	if err := g.Verify(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return g, nil
}

func resolveRef(labels map[string]NodeID, ref string) (Value, error) {
	label, res := ref, 0
	if i := strings.LastIndexByte(ref, ':'); i >= 0 {
		n, err := strconv.Atoi(ref[i+1:])
		if err != nil {
			return Value{}, fmt.Errorf("bad result index in %q", ref)
		}
		label, res = ref[:i], n
	}
	id, ok := labels[label]
	if !ok {
		return Value{}, fmt.Errorf("unknown node %q", label)
	}
	return Value{Node: id, Res: res}, nil
}

func parseLoc(s string) (Loc, error) {
	if s == "" {
		return Loc{}, nil
	}
	parts := strings.Split(s, ":")
	loc := Loc{File: parts[0]}
	if len(parts) > 3 {
		return Loc{}, fmt.Errorf("bad location %q", s)
	}
	var err error
	if len(parts) > 1 {
		if loc.Line, err = strconv.Atoi(parts[1]); err != nil {
			return Loc{}, fmt.Errorf("bad line in location %q", s)
		}
	}
	if len(parts) > 2 {
		if loc.Col, err = strconv.Atoi(parts[2]); err != nil {
			return Loc{}, fmt.Errorf("bad column in location %q", s)
		}
	}
	return loc, nil
}

// ToSpec converts the live part of g to its file form. Labels are "t<ID>".
func (g *Graph) ToSpec() *GraphSpec {
	spec := &GraphSpec{Name: g.Name}
	for _, n := range g.Nodes() {
		ns := NodeSpec{
			ID:      fmt.Sprintf("t%d", n.ID),
			Op:      string(n.Op),
			Machine: n.Machine,
			Imms:    append([]int64(nil), n.Imms...),
			Sym:     n.Sym,
		}
		for _, t := range n.Types {
			ns.Types = append(ns.Types, t.String())
		}
		for _, op := range n.Operands {
			ns.Operands = append(ns.Operands, op.String())
		}
		if !n.Loc.IsZero() {
			ns.Loc = n.Loc.String()
		}
		spec.Nodes = append(spec.Nodes, ns)
	}
	for _, r := range g.roots {
		spec.Roots = append(spec.Roots, r.String())
	}
	return spec
}

// Encode writes each graph as one YAML document.
func Encode(w io.Writer, graphs ...*Graph) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, g := range graphs {
		if err := enc.Encode(g.ToSpec()); err != nil {
			return fmt.Errorf("encoding %s: %w", g.Name, err)
		}
	}
	return enc.Close()
}
