package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raymyers/ralph-isel/pkg/dag"
	"github.com/raymyers/ralph-isel/pkg/pattern"
)

// newPatternsCmd lists the candidates of each opcode in the order the
// matcher tries them.
func newPatternsCmd(opts *options, out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns [opcode]",
		Short: "List patterns in priority order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, _, err := loadTable(opts)
			if err != nil {
				return report(errOut, err)
			}
			ops := table.Opcodes()
			if len(args) == 1 {
				op := dag.Opcode(args[0])
				if len(table.Lookup(op)) == 0 {
					err := fmt.Errorf("%w for opcode %q", pattern.ErrNoPatterns, op)
					return report(errOut, err)
				}
				ops = []dag.Opcode{op}
			}
			for _, op := range ops {
				fmt.Fprintf(out, "%s:\n", op)
				for _, p := range table.Lookup(op) {
					fmt.Fprintf(out, "  %s\n", p)
				}
			}
			return nil
		},
	}
}

// newCheckCmd validates pattern table files without selecting anything.
func newCheckCmd(out, errOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check <patterns.yaml>...",
		Short: "Validate pattern table files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var firstErr error
			for _, name := range args {
				table, err := pattern.LoadFile(name)
				if err != nil {
					fmt.Fprintf(errOut, "ralph-isel: %v\n", err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				fmt.Fprintf(out, "%s: target %s, %d patterns, %d opcodes\n",
					name, table.Target(), table.Len(), len(table.Opcodes()))
			}
			if firstErr != nil {
				return reportedError{firstErr}
			}
			return nil
		},
	}
}
