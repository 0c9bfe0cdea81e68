// Package systemz provides the SystemZ instruction selection table and the
// subtarget feature sets of the supported CPUs.
package systemz

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/raymyers/ralph-isel/pkg/isel"
	"github.com/raymyers/ralph-isel/pkg/pattern"
)

// PassName is the name the selection pass reports in diagnostics.
const PassName = "SystemZ DAG->DAG Pattern Instruction Selection"

// DefaultCPU is the CPU assumed when none is given.
const DefaultCPU = "z10"

//go:embed systemz.yaml
var tableSource []byte

var loadTable = sync.OnceValues(func() (*pattern.Table, error) {
	return pattern.Load(bytes.NewReader(tableSource))
})

// Table returns the SystemZ pattern table. It is built on first use and
// shared afterwards.
func Table() (*pattern.Table, error) {
	return loadTable()
}

// Features resolves a CPU name and an attribute list such as
// "+distinct-ops,-high-word" into a feature set. An empty cpu means
// DefaultCPU.
func Features(t *pattern.Table, cpu, attrs string) (pattern.Features, error) {
	if cpu == "" {
		cpu = DefaultCPU
	}
	base, ok := t.CPU(cpu)
	if !ok {
		return nil, fmt.Errorf("unknown CPU %q (have %s)", cpu, strings.Join(t.CPUs(), ", "))
	}
	f, err := base.With(attrs)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	for _, name := range t.KnownFeatures() {
		known[name] = true
	}
	for _, name := range f.Names() {
		if !known[name] {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
	}
	return f, nil
}

// NewSelector creates a selector for the given CPU and attributes.
func NewSelector(cpu, attrs string, opts ...isel.Option) (*isel.Selector, error) {
	t, err := Table()
	if err != nil {
		return nil, err
	}
	f, err := Features(t, cpu, attrs)
	if err != nil {
		return nil, err
	}
	opts = append([]isel.Option{isel.WithFeatures(f)}, opts...)
	return isel.New(t, opts...), nil
}
