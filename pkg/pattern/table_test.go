package pattern_test

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/raymyers/ralph-isel/pkg/dag"
	"github.com/raymyers/ralph-isel/pkg/pattern"
)

const addTable = `
target: toy
features: [distinct-ops]
cpus:
  base: []
  fancy: [distinct-ops]
patterns:
  - name: ADD_RR
    match: (add $x $y)
    emit: (AR $x $y)
    cost: 2
  - name: ADD_RI
    match: "(add $x #y)"
    predicates: [simm16 y]
    emit: "(AHI $x #y)"
    cost: 1
    commutative: true
  - name: ADD_RRK
    match: (add $x $y)
    predicates: [feature distinct-ops]
    emit: (ARK $x $y)
    cost: 2
  - name: SUB_RR
    match: (sub $x $y)
    emit: (SR $x $y)
`

func mustLoad(src string) *pattern.Table {
	t, err := pattern.Load(strings.NewReader(src))
	Expect(err).NotTo(HaveOccurred())
	return t
}

func names(ps []*pattern.Pattern) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

var _ = Describe("Table", func() {
	var table *pattern.Table

	BeforeEach(func() {
		table = mustLoad(addTable)
	})

	It("orders candidates by cost, then declaration order", func() {
		Expect(names(table.Lookup(dag.OpAdd))).To(Equal([]string{
			"ADD_RI", "ADD_RI/commuted", "ADD_RR", "ADD_RRK",
		}))
	})

	It("places commuted variants with swapped root operands", func() {
		variant := table.Lookup(dag.OpAdd)[1]
		Expect(variant.Match.String()).To(Equal("(add #y $x)"))
		Expect(variant.Order).To(Equal(1))
		Expect(table.Len()).To(Equal(5))
	})

	It("defaults cost to zero", func() {
		sub := table.Lookup(dag.OpSub)
		Expect(sub).To(HaveLen(1))
		Expect(sub[0].Cost).To(BeZero())
	})

	It("returns nothing for uncovered opcodes", func() {
		Expect(table.Lookup(dag.OpMul)).To(BeEmpty())
		Expect(table.Opcodes()).To(Equal([]dag.Opcode{dag.OpAdd, dag.OpSub}))
	})

	It("records target metadata", func() {
		Expect(table.Target()).To(Equal("toy"))
		Expect(table.KnownFeatures()).To(Equal([]string{"distinct-ops"}))
		Expect(table.CPUs()).To(Equal([]string{"base", "fancy"}))
		fancy, ok := table.CPU("fancy")
		Expect(ok).To(BeTrue())
		Expect(fancy.Has("distinct-ops")).To(BeTrue())
		_, ok = table.CPU("missing")
		Expect(ok).To(BeFalse())
	})

	It("renders patterns readably", func() {
		Expect(table.Lookup(dag.OpAdd)[0].String()).To(Equal("ADD_RI: (add $x #y) [simm16 y] -> (AHI $x #y) cost 1"))
	})
})

var _ = Describe("Table validation", func() {
	build := func(match, emit string, preds ...string) error {
		spec := pattern.Spec{Name: "p", Match: match, Emit: emit, Predicates: preds}
		p, err := spec.Parse()
		if err != nil {
			return err
		}
		_, err = pattern.NewTable("toy", []*pattern.Pattern{p}, pattern.WithKnownFeatures("vector"))
		return err
	}

	DescribeTable("rejects inconsistent patterns",
		func(match, emit string, preds []string, want string) {
			err := build(match, emit, preds...)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring(want))
		},
		Entry("unbound value", "(add $x $y)", "(AR $x $z)", []string{}, "unbound $z"),
		Entry("unbound immediate", "(add $x $y)", "(AHI $x #k)", []string{}, "unbound #k"),
		Entry("immediate from wildcard", "(add $x $y)", "(AHI $x #y)", []string{}, "not bound to a constant"),
		Entry("unknown predicate", "(add $x $y)", "(AR $x $y)", []string{"prime x"}, "unknown predicate"),
		Entry("predicate arity", "(add $x $y)", "(AR $x $y)", []string{"simm16 x y"}, "takes 1 argument"),
		Entry("predicate unbound", "(add $x $y)", "(AR $x $y)", []string{"one_use z"}, "uses unbound"),
		Entry("unknown feature", "(add $x $y)", "(AR $x $y)", []string{"feature warp-drive"}, "unknown feature"),
		Entry("rebinding", "(add #x #x)", "(AR #x)", []string{}, "bound twice"),
	)

	It("accepts constants bound as nodes for immediates", func() {
		Expect(build("(constant@c)", "(LHI #c)")).To(Succeed())
	})

	It("allows the same wildcard twice", func() {
		Expect(build("(xor $x $x)", "(LHI #0)")).To(Succeed())
	})

	It("rejects duplicate names and bad commutative roots", func() {
		a, err := (&pattern.Spec{Name: "a", Match: "(add $x $y)", Emit: "(AR $x $y)"}).Parse()
		Expect(err).NotTo(HaveOccurred())
		b, err := (&pattern.Spec{Name: "a", Match: "(sub $x $y)", Emit: "(SR $x $y)"}).Parse()
		Expect(err).NotTo(HaveOccurred())
		_, err = pattern.NewTable("toy", []*pattern.Pattern{a, b})
		Expect(err).To(MatchError(ContainSubstring("duplicate pattern name")))

		c, err := (&pattern.Spec{Name: "c", Match: "(load $ch $p $q)", Emit: "(L $p)", Commutative: true}).Parse()
		Expect(err).NotTo(HaveOccurred())
		_, err = pattern.NewTable("toy", []*pattern.Pattern{c})
		Expect(err).To(MatchError(ContainSubstring("two operands")))
	})

	It("rejects empty tables", func() {
		_, err := pattern.NewTable("toy", nil)
		Expect(err).To(MatchError(pattern.ErrNoPatterns))
	})
})

var _ = Describe("Load", func() {
	It("rejects documents that do not fit the schema", func() {
		for _, src := range []string{
			"target: toy\npatterns: []\n",
			"patterns:\n  - {name: a, match: (add $x $y), emit: (AR $x $y)}\n",
			"target: toy\npatterns:\n  - {name: a, match: add, emit: (AR $x $y)}\n",
			"target: toy\npatterns:\n  - {name: a, match: (add $x $y), emit: (AR $x $y), cost: -1}\n",
			"target: toy\npatterns:\n  - {name: a, match: (add $x $y), emit: (AR $x $y), colour: red}\n",
		} {
			_, err := pattern.Load(strings.NewReader(src))
			var se *pattern.SchemaError
			Expect(errors.As(err, &se)).To(BeTrue(), "source %q gave %v", src, err)
		}
	})

	It("reports pattern syntax errors with the pattern name", func() {
		_, err := pattern.Load(strings.NewReader("target: toy\npatterns:\n  - {name: broken, match: (add $x, emit: (AR $x)}\n"))
		Expect(err).To(MatchError(ContainSubstring("broken")))
	})

	It("applies explicit result types", func() {
		t := mustLoad("target: toy\npatterns:\n  - {name: ld, match: (load $ch $p), emit: (L $p $ch), types: [i32, ch]}\n")
		Expect(t.Lookup(dag.OpLoad)[0].Emit.Types).To(Equal([]dag.Type{dag.TypeI32, dag.TypeChain}))
	})
})
