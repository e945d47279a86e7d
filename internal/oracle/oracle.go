// Package oracle models the disassembler as an external collaborator: given
// a binary on disk, it enumerates functions, their disassembled statement
// bodies, and a bare (unrefined) control-flow graph per function. Three
// implementations are provided: Radare2Oracle, which shells out to an
// installed r2; JSONLOracle, which reads a pre-extracted JSONL dump
// (functions.jsonl plus optional statement and CFG files); and ARM64Oracle,
// which disassembles raw AArch64 code in-process.
package oracle

import (
	"context"
	"errors"

	"bcc/internal/stmt"
)

// ErrNotOpen is returned when a Handle was not produced by the same
// Oracle's Open.
var ErrNotOpen = errors.New("oracle: handle not open")

// ErrNotFound is returned when a function offset, or the instructions or
// CFG recorded for it, is unknown to the oracle.
var ErrNotFound = errors.New("oracle: not found")

// Handle identifies an opened binary. Its concrete type is oracle-specific;
// callers must not inspect it, only pass it back to the same Oracle.
type Handle interface{}

// BlockExtent is one basic block in a BareCFG: the address of its first
// instruction and its byte length.
type BlockExtent struct {
	Offset uint64
	Length uint64
}

// BareCFG is the raw shape of a function's control-flow graph as reported
// by the disassembler, before any CFG refinement (sink/entry synthesis,
// loop denaturation) is applied. Root is nil when the oracle could not
// determine an entry block.
type BareCFG struct {
	Root   *uint64
	Blocks []BlockExtent
	Edges  [][2]uint64
}

// Oracle is the disassembler collaborator. Every method may be called only
// after Open succeeds for the Handle it returned; Analyse must run before
// the function-level queries return anything useful.
type Oracle interface {
	// Open validates and prepares path for analysis, returning a Handle to
	// pass to the remaining methods.
	Open(path string) (Handle, error)

	// Analyse runs (or triggers) the disassembler's auto-analysis pass.
	Analyse(ctx context.Context, h Handle) error

	// FunctionOffsets lists every function entry address the oracle knows
	// about for h.
	FunctionOffsets(h Handle) ([]uint64, error)

	// FunctionNames maps symbol name to entry address for h.
	FunctionNames(h Handle) (map[string]uint64, error)

	// FunctionBody returns the disassembled statement stream for the
	// function starting at offset.
	FunctionBody(h Handle, offset uint64) ([]stmt.Statement, error)

	// FunctionCFG returns the bare control-flow graph for the function
	// starting at offset.
	FunctionCFG(h Handle, offset uint64) (*BareCFG, error)
}
