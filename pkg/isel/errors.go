package isel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raymyers/ralph-isel/pkg/dag"
)

// ErrorCode categorizes selection failures. Every code aborts selection of
// the current unit; none is recovered inside the selector.
type ErrorCode string

const (
	// ErrCodeUnmatchable indicates a generic node no pattern accepts.
	ErrCodeUnmatchable ErrorCode = "UNMATCHABLE_NODE"

	// ErrCodeInconsistentBinding indicates a template that needs a binding
	// unification did not produce, or a result-count mismatch.
	ErrCodeInconsistentBinding ErrorCode = "INCONSISTENT_BINDING"

	// ErrCodeDanglingReference indicates an operand or root that does not
	// resolve to a live node.
	ErrCodeDanglingReference ErrorCode = "DANGLING_REFERENCE"

	// ErrCodeInvalidGraph indicates the input graph failed verification.
	ErrCodeInvalidGraph ErrorCode = "INVALID_GRAPH"
)

// Error is a fatal selection failure for one compiled unit.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Unit names the graph being selected.
	Unit string

	// Node describes the offending node, when there is one.
	Node string

	// Loc is the offending node's source location.
	Loc dag.Loc

	// Pattern names the pattern being instantiated, if any.
	Pattern string

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Code, e.Message)
	if e.Node != "" {
		fmt.Fprintf(&sb, ": %s", e.Node)
	}
	if !e.Loc.IsZero() {
		fmt.Fprintf(&sb, " at %s", e.Loc)
	}
	if e.Pattern != "" {
		fmt.Fprintf(&sb, " (pattern %s)", e.Pattern)
	}
	if e.Unit != "" {
		fmt.Fprintf(&sb, " (unit %s)", e.Unit)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsUnmatchable returns true if selection failed because no pattern matched.
func IsUnmatchable(err error) bool {
	return hasCode(err, ErrCodeUnmatchable)
}

// IsInconsistentBinding returns true if a template could not be instantiated.
func IsInconsistentBinding(err error) bool {
	return hasCode(err, ErrCodeInconsistentBinding)
}

// IsDanglingReference returns true if a reference did not resolve.
func IsDanglingReference(err error) bool {
	return hasCode(err, ErrCodeDanglingReference)
}

// IsInvalidGraph returns true if the input graph was rejected.
func IsInvalidGraph(err error) bool {
	return hasCode(err, ErrCodeInvalidGraph)
}

func nodeError(code ErrorCode, g *dag.Graph, n *dag.Node, msg string) *Error {
	e := &Error{Code: code, Message: msg, Unit: g.Name}
	if n != nil {
		e.Node = n.String()
		e.Loc = n.Loc
	}
	return e
}
