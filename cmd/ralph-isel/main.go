package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
	"github.com/xyproto/env/v2"
	"golang.org/x/sync/errgroup"

	"github.com/raymyers/ralph-isel/pkg/dag"
	"github.com/raymyers/ralph-isel/pkg/isel"
	"github.com/raymyers/ralph-isel/pkg/pattern"
	"github.com/raymyers/ralph-isel/pkg/target/systemz"
)

var version = "0.1.0"

// ErrSelectionFailed is returned when at least one unit could not be selected.
var ErrSelectionFailed = errors.New("instruction selection failed")

// options holds the command-line configuration
type options struct {
	patterns  string
	mcpu      string
	mattr     string
	trace     bool
	traceFile string
	ddag      bool
	output    string
	jobs      int
	verbose   bool
}

func main() {
	atexit.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := runCommand(rootCmd, os.Stderr); err != nil {
		return 1
	}
	return 0
}

// reportedError marks an error whose diagnostic was already written.
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error {
	return e.error
}

// report writes the diagnostic for err and marks it as reported.
func report(errOut io.Writer, err error) error {
	fmt.Fprintf(errOut, "ralph-isel: %v\n", err)
	return reportedError{err}
}

// runCommand executes cmd and prints any error the command did not report
// itself, such as bad flags or arguments.
func runCommand(cmd *cobra.Command, errOut io.Writer) error {
	err := cmd.Execute()
	if err == nil {
		return nil
	}
	var re reportedError
	if !errors.As(err, &re) {
		fmt.Fprintf(errOut, "ralph-isel: %v\n", err)
	}
	return err
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "ralph-isel [graph.yaml...]",
		Short: "ralph-isel selects machine instructions for operation graphs",
		Long: `ralph-isel reads operation graphs (YAML, one document per unit), rewrites
every generic node into machine nodes using a pattern table, and prints the
selected graphs. Without --patterns the built-in SystemZ table is used.`,
		Version:       version,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doSelect(cmd.Context(), opts, args, out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	addTargetFlags(rootCmd.PersistentFlags(), opts)

	f := rootCmd.Flags()
	f.BoolVar(&opts.trace, "trace", env.Bool("RALPH_ISEL_TRACE"), "Trace the selection of every node")
	f.StringVar(&opts.traceFile, "trace-file", "", "Write the trace to a file instead of stderr")
	f.BoolVar(&opts.ddag, "ddag", false, "Dump each graph before selection")
	f.StringVarP(&opts.output, "output", "o", "text", "Output format: text or yaml")
	f.IntVarP(&opts.jobs, "jobs", "j", env.Int("RALPH_ISEL_JOBS", runtime.NumCPU()), "Units selected in parallel")

	rootCmd.AddCommand(newPatternsCmd(opts, out, errOut))
	rootCmd.AddCommand(newCheckCmd(out, errOut))
	return rootCmd
}

// addTargetFlags registers the flags shared by every subcommand.
func addTargetFlags(fs *pflag.FlagSet, opts *options) {
	fs.StringVar(&opts.patterns, "patterns", "", "Pattern table file (default: built-in SystemZ table)")
	fs.StringVar(&opts.mcpu, "mcpu", env.Str("RALPH_ISEL_MCPU"), "Target CPU")
	fs.StringVar(&opts.mattr, "mattr", "", "Target features, e.g. +distinct-ops,-high-word")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Log progress to stderr")
}

func newLogger(opts *options, errOut io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("run", uuid.Must(uuid.NewV7()).String())
}

// loadTable returns the table named by --patterns, or the built-in one.
func loadTable(opts *options) (*pattern.Table, string, error) {
	if opts.patterns == "" {
		t, err := systemz.Table()
		return t, systemz.PassName, err
	}
	t, err := pattern.LoadFile(opts.patterns)
	if err != nil {
		return nil, "", err
	}
	return t, t.Target() + " DAG->DAG Pattern Instruction Selection", nil
}

func resolveFeatures(t *pattern.Table, opts *options) (pattern.Features, error) {
	if len(t.CPUs()) == 0 && opts.mcpu == "" {
		return pattern.ParseFeatures(opts.mattr)
	}
	return systemz.Features(t, opts.mcpu, opts.mattr)
}

// readGraphs decodes every unit from the named files; "-" is stdin.
func readGraphs(files []string) ([]*dag.Graph, error) {
	var graphs []*dag.Graph
	for _, name := range files {
		var r io.Reader = os.Stdin
		if name != "-" {
			f, err := os.Open(name)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			r = f
		}
		gs, err := dag.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		graphs = append(graphs, gs...)
	}
	return graphs, nil
}

// openTrace returns the trace destination and a function that flushes and
// closes it. The close function is also registered to run at exit.
func openTrace(opts *options, errOut io.Writer) (io.Writer, func() error, error) {
	if opts.traceFile == "" {
		return errOut, func() error { return nil }, nil
	}
	f, err := os.Create(opts.traceFile)
	if err != nil {
		return nil, nil, err
	}
	w := bufio.NewWriter(f)
	closeTrace := sync.OnceValue(func() error {
		if err := w.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	atexit.Register(func() { closeTrace() })
	return w, closeTrace, nil
}

type unitResult struct {
	graph *dag.Graph
	trace bytes.Buffer
	stats *isel.Stats
	err   error
}

func doSelect(ctx context.Context, opts *options, files []string, out, errOut io.Writer) error {
	if opts.output != "text" && opts.output != "yaml" {
		return report(errOut, fmt.Errorf("unknown output format %q", opts.output))
	}
	log := newLogger(opts, errOut)

	table, passName, err := loadTable(opts)
	if err != nil {
		return report(errOut, err)
	}
	features, err := resolveFeatures(table, opts)
	if err != nil {
		return report(errOut, err)
	}
	graphs, err := readGraphs(files)
	if err != nil {
		return report(errOut, err)
	}
	log.Info("running pass", "pass", passName, "units", len(graphs), "features", features.Names())

	if opts.ddag {
		for _, g := range graphs {
			fmt.Fprintf(out, "Initial selection DAG: %s\n", g.Name)
			g.Dump(out)
		}
	}

	traceOut := io.Discard
	closeTrace := func() error { return nil }
	if opts.trace || opts.traceFile != "" {
		traceOut, closeTrace, err = openTrace(opts, errOut)
		if err != nil {
			return report(errOut, err)
		}
	}
	defer closeTrace()

	sel := isel.New(table, isel.WithFeatures(features), isel.WithLogger(log))
	results := make([]*unitResult, len(graphs))
	eg, ctx := errgroup.WithContext(ctx)
	jobs := opts.jobs
	if jobs < 1 {
		jobs = 1
	}
	eg.SetLimit(jobs)
	for i, g := range graphs {
		r := &unitResult{graph: g}
		results[i] = r
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var tracer isel.Tracer = isel.NopTracer{}
			if traceOut != io.Discard {
				tracer = isel.NewTextTracer(&r.trace)
			}
			r.stats, r.err = sel.RunTraced(g, tracer)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	var selected []*dag.Graph
	failed := 0
	for _, r := range results {
		traceOut.Write(r.trace.Bytes())
		if r.err != nil {
			fmt.Fprintf(errOut, "ralph-isel: error: %v\n", r.err)
			failed++
			continue
		}
		selected = append(selected, r.graph)
	}

	switch opts.output {
	case "yaml":
		if len(selected) > 0 {
			if err := dag.Encode(out, selected...); err != nil {
				return err
			}
		}
	default:
		for _, g := range selected {
			g.Dump(out)
		}
	}

	if err := closeTrace(); err != nil {
		return report(errOut, err)
	}
	if failed > 0 {
		return reportedError{fmt.Errorf("%w: %d of %d unit(s)", ErrSelectionFailed, failed, len(graphs))}
	}
	return nil
}
