package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raymyers/ralph-isel/pkg/dag"
	"github.com/raymyers/ralph-isel/pkg/pattern"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := runCommand(cmd, &errOut)
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{}, &bytes.Buffer{})
	for _, name := range []string{"patterns", "mcpu", "mattr", "trace", "trace-file", "ddag", "output", "jobs", "verbose"} {
		if cmd.Flags().Lookup(name) == nil && cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected flag --%s to exist", name)
		}
	}
}

func TestSelectBump(t *testing.T) {
	out, errOut, err := execute(t, "testdata/bump.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v\nstderr: %s", err, errOut)
	}
	want := `unit bump:
  t7: ch = EntryToken
  t8: i32,ch = COPY t7, @r2
  t9: i64 = LARL @counter
  t10: i32,ch = L t8:1, t9
  t11: i32 = AR t10, t8
  t12: ch = ST t10:1, t11, t9
  t13: ch = BR t12
  roots: t13
`
	if out != want {
		t.Errorf("output mismatch\ngot:\n%s\nwant:\n%s", out, want)
	}
}

func TestSelectDistinctOps(t *testing.T) {
	out, _, err := execute(t, "--mcpu", "z196", "testdata/bump.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "ARK t10, t8") {
		t.Errorf("expected three-address add, got:\n%s", out)
	}

	out, _, err = execute(t, "--mcpu", "z196", "--mattr", "-distinct-ops", "testdata/bump.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "AR t10, t8") {
		t.Errorf("expected two-address add, got:\n%s", out)
	}
}

func TestUnknownCPU(t *testing.T) {
	_, errOut, err := execute(t, "--mcpu", "z900", "testdata/bump.yaml")
	if err == nil {
		t.Fatal("expected error for unknown CPU")
	}
	if !strings.Contains(errOut, `unknown CPU "z900"`) {
		t.Errorf("expected CPU diagnostic, got %q", errOut)
	}
}

func TestFailedUnitDoesNotStopOthers(t *testing.T) {
	out, errOut, err := execute(t, "-j", "2", "testdata/frame.yaml")
	if !errors.Is(err, ErrSelectionFailed) {
		t.Fatalf("expected ErrSelectionFailed, got %v", err)
	}
	if !strings.Contains(errOut, "ralph-isel: error: UNMATCHABLE_NODE") {
		t.Errorf("expected unmatchable diagnostic, got %q", errOut)
	}
	if !strings.Contains(errOut, "slot.c:2:9") {
		t.Errorf("expected source location in diagnostic, got %q", errOut)
	}
	if !strings.Contains(out, "unit ok:") || strings.Contains(out, "unit slot:") {
		t.Errorf("expected only the selected unit in output, got:\n%s", out)
	}
}

func TestTrace(t *testing.T) {
	_, errOut, err := execute(t, "--trace", "testdata/bump.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		"===== Instruction selection begins: bump",
		"Selecting: t6: ch = ret t5",
		"  Selecting: t5: ch = store t3:1, t4, t2",
		"=> t13: ch = BR t12 [BR]",
		"===== Instruction selection ends: bump",
	} {
		if !strings.Contains(errOut, want) {
			t.Errorf("trace missing %q:\n%s", want, errOut)
		}
	}
}

func TestTraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.txt")
	_, errOut, err := execute(t, "--trace-file", path, "testdata/bump.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(errOut, "Selecting:") {
		t.Errorf("trace should not go to stderr: %q", errOut)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "===== Instruction selection begins: bump\n") {
		t.Errorf("unexpected trace file contents:\n%s", data)
	}
}

func TestDumpBeforeSelection(t *testing.T) {
	out, _, err := execute(t, "--ddag", "testdata/bump.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := strings.Index(out, "  t4: i32 = add t3, t1")
	after := strings.Index(out, "  t11: i32 = AR t10, t8")
	if !strings.HasPrefix(out, "Initial selection DAG: bump\n") || before < 0 || after < before {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestYAMLOutput(t *testing.T) {
	out, _, err := execute(t, "-o", "yaml", "testdata/bump.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	graphs, err := dag.Decode(strings.NewReader(out))
	if err != nil {
		t.Fatalf("output does not decode: %v\n%s", err, out)
	}
	if len(graphs) != 1 {
		t.Fatalf("expected 1 graph, got %d", len(graphs))
	}
	for _, n := range graphs[0].Nodes() {
		if !n.Machine {
			t.Errorf("generic node in output: %s", n)
		}
	}
}

func TestUsageErrorsAreReported(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{"bad output format", []string{"-o", "json", "testdata/bump.yaml"}, `unknown output format "json"`},
		{"no arguments", []string{}, "requires at least 1 arg"},
		{"unknown flag", []string{"--bogus", "testdata/bump.yaml"}, "unknown flag: --bogus"},
		{"missing file", []string{"testdata/missing.yaml"}, "testdata/missing.yaml"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, errOut, err := execute(t, tc.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("expected error to contain %q, got %v", tc.wantMsg, err)
			}
			if !strings.HasPrefix(errOut, "ralph-isel: ") || !strings.Contains(errOut, tc.wantMsg) {
				t.Errorf("expected diagnostic containing %q, got %q", tc.wantMsg, errOut)
			}
			if strings.Count(errOut, "ralph-isel: ") != 1 {
				t.Errorf("expected exactly one diagnostic, got %q", errOut)
			}
		})
	}
}

func TestCustomPatterns(t *testing.T) {
	out, _, err := execute(t, "--patterns", "testdata/tiny.yaml", "testdata/frame.yaml")
	if err == nil {
		t.Fatal("expected frameindex to be unmatchable")
	}
	want := `unit ok:
  t3: i64 = LI #7
  t4: i64 = ADDI t3, #5
  roots: t4
`
	if out != want {
		t.Errorf("output mismatch\ngot:\n%s\nwant:\n%s", out, want)
	}
}

func TestPatternsCommand(t *testing.T) {
	out, _, err := execute(t, "patterns", "add", "--patterns", "testdata/tiny.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `add:
  ADDI: (add $x #y) -> (ADDI $x #y) cost 0
  ADDI/commuted: (add #y $x) -> (ADDI $x #y) cost 0
  ADD: (add $x $y) -> (ADD $x $y) cost 1
`
	if out != want {
		t.Errorf("output mismatch\ngot:\n%s\nwant:\n%s", out, want)
	}

	_, _, err = execute(t, "patterns", "frameindex")
	if !errors.Is(err, pattern.ErrNoPatterns) {
		t.Errorf("expected ErrNoPatterns for uncovered opcode, got %v", err)
	}
}

func TestCheckCommand(t *testing.T) {
	out, _, err := execute(t, "check", "testdata/tiny.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "testdata/tiny.yaml: target tiny, 4 patterns, 2 opcodes\n" {
		t.Errorf("unexpected output %q", out)
	}

	_, errOut, err := execute(t, "check", "testdata/bump.yaml")
	if err == nil {
		t.Error("expected schema error for a graph file")
	}
	if !strings.Contains(errOut, "ralph-isel:") {
		t.Errorf("expected diagnostic, got %q", errOut)
	}
}
