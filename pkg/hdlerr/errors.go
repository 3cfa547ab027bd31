// Package hdlerr defines the error taxonomy raised by every stage of the
// compilation pipeline, from symbolic lowering through the JIT.
package hdlerr

import (
	"errors"
	"fmt"
)

// UnsupportedCombLoweringError is raised by the comb parser for any
// statement or expression form it does not recognize.
type UnsupportedCombLoweringError struct {
	Feature string
	Detail  string
}

func (e *UnsupportedCombLoweringError) Error() string {
	return fmt.Sprintf("unsupported comb lowering: %s: %s", e.Feature, e.Detail)
}

// UnsupportedFFLoweringError is raised by the sequential (FF) parser for
// any statement or expression form it does not recognize.
type UnsupportedFFLoweringError struct {
	Feature string
	Detail  string
}

func (e *UnsupportedFFLoweringError) Error() string {
	return fmt.Sprintf("unsupported ff lowering: %s: %s", e.Feature, e.Detail)
}

// UnsupportedSimulatorParserError is raised by the module parser for
// declaration forms it cannot compose.
type UnsupportedSimulatorParserError struct {
	Feature string
	Detail  string
}

func (e *UnsupportedSimulatorParserError) Error() string {
	return fmt.Sprintf("unsupported module construct: %s: %s", e.Feature, e.Detail)
}

// DriverPath names one logic path contributing to a MultipleDriverError
// or CombinationalLoopError, translated from arena-id form to a
// dotted-string form suitable for a human to read.
type DriverPath struct {
	Target string // dotted variable path, e.g. "top.child[2].q"
	Bits   string // e.g. "[7:4]"
	Expr   string // best-effort rendering of the driving expression
}

func (p DriverPath) String() string {
	return fmt.Sprintf("%s%s = %s", p.Target, p.Bits, p.Expr)
}

// MultipleDriverError is raised by the scheduler when two logic paths
// target overlapping bit ranges of the same variable.
type MultipleDriverError struct {
	Variable string
	Paths    []DriverPath
}

func (e *MultipleDriverError) Error() string {
	return fmt.Sprintf("multiple drivers for %s: %v", e.Variable, e.Paths)
}

// CombinationalLoopError is raised by the scheduler when a strongly
// connected component of combinational paths is not listed as an
// ignored loop or bounded true loop.
type CombinationalLoopError struct {
	Paths []DriverPath
}

func (e *CombinationalLoopError) Error() string {
	return fmt.Sprintf("combinational loop: %v", e.Paths)
}

// CodegenError is raised by the JIT translator for any SIR shape it
// cannot lower.
type CodegenError struct {
	Op     string
	Detail string
}

func (e *CodegenError) Error() string {
	return fmt.Sprintf("codegen error in %s: %s", e.Op, e.Detail)
}

// NotAnEventError is returned by the runtime when Tick is called with a
// name that resolves to a signal but not a registered event.
type NotAnEventError struct {
	Name string
}

func (e *NotAnEventError) Error() string {
	return fmt.Sprintf("not an event: %s", e.Name)
}

// InternalError indicates a broken invariant: a bug in the core itself
// rather than a malformed input design.
type InternalError struct {
	Detail string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Detail)
}

// ErrDetectedTrueLoop is returned by Simulator.Tick/EvalComb when a
// runtime-convergence (Strategy B) combinational loop exceeds its
// safety bound without reaching a fixed point. Simulator state remains
// well-defined but only partially converged.
var ErrDetectedTrueLoop = errors.New("detected true loop: combinational group failed to converge")
