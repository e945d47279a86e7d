package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"bcc/internal/stmt"
)

// Radare2Oracle is the production Oracle implementation: every query shells
// out to an installed "r2" binary with "-q -c <cmd>" and parses its JSON
// output. Unlike the original r2pipe-based implementation this keeps no
// long-lived subprocess; each call is an independent invocation, which
// trades some latency for never leaking a stuck pipe across calls.
type Radare2Oracle struct {
	// Bin overrides the r2 executable name; defaults to "r2".
	Bin string
}

// radare2Handle is the Handle Radare2Oracle hands back from Open.
type radare2Handle struct {
	path string
}

func (o Radare2Oracle) bin() string {
	if o.Bin != "" {
		return o.Bin
	}
	return "r2"
}

// Open verifies path exists and is readable; r2 itself is only invoked
// lazily by the later query methods.
func (o Radare2Oracle) Open(path string) (Handle, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("oracle: open %s: %w", path, err)
	}
	return &radare2Handle{path: path}, nil
}

// Analyse runs r2's "aaa" auto-analysis command.
func (o Radare2Oracle) Analyse(ctx context.Context, h Handle) error {
	rh, ok := h.(*radare2Handle)
	if !ok {
		return ErrNotOpen
	}
	_, err := o.run(ctx, rh.path, "aaa")
	if err != nil {
		return fmt.Errorf("oracle: analyse %s: %w", rh.path, err)
	}
	return nil
}

// FunctionOffsets lists every function entry address via "aflj".
func (o Radare2Oracle) FunctionOffsets(h Handle) ([]uint64, error) {
	names, err := o.FunctionNames(h)
	if err != nil {
		return nil, err
	}
	offsets := make([]uint64, 0, len(names))
	for _, off := range names {
		offsets = append(offsets, off)
	}
	return offsets, nil
}

type r2Func struct {
	Offset uint64 `json:"offset"`
	Name   string `json:"name"`
}

// FunctionNames maps symbol name to entry address via "aflj".
func (o Radare2Oracle) FunctionNames(h Handle) (map[string]uint64, error) {
	rh, ok := h.(*radare2Handle)
	if !ok {
		return nil, ErrNotOpen
	}
	out, err := o.run(context.Background(), rh.path, "aflj")
	if err != nil {
		return nil, fmt.Errorf("oracle: function names %s: %w", rh.path, err)
	}
	var funcs []r2Func
	if err := json.Unmarshal(out, &funcs); err != nil {
		return nil, fmt.Errorf("oracle: parse aflj %s: %w", rh.path, err)
	}
	names := make(map[string]uint64, len(funcs))
	for _, f := range funcs {
		names[f.Name] = f.Offset
	}
	return names, nil
}

type r2Instruction struct {
	Offset uint64 `json:"offset"`
	Opcode string `json:"opcode"`
	Type   string `json:"type"`
}

type r2FunctionBody struct {
	Ops []r2Instruction `json:"ops"`
}

// FunctionBody disassembles the function at offset via "pdfj" (print
// disassembly function, JSON).
func (o Radare2Oracle) FunctionBody(h Handle, offset uint64) ([]stmt.Statement, error) {
	rh, ok := h.(*radare2Handle)
	if !ok {
		return nil, ErrNotOpen
	}
	out, err := o.run(context.Background(), rh.path, fmt.Sprintf("s %d; pdfj", offset))
	if err != nil {
		return nil, fmt.Errorf("oracle: function body %#x in %s: %w", offset, rh.path, err)
	}
	var body r2FunctionBody
	if err := json.Unmarshal(out, &body); err != nil {
		return nil, fmt.Errorf("oracle: parse pdfj %#x in %s: %w", offset, rh.path, err)
	}
	stmts := make([]stmt.Statement, 0, len(body.Ops))
	for _, op := range body.Ops {
		family, _ := stmt.ParseFamily(op.Type)
		stmts = append(stmts, stmt.New(op.Offset, family, op.Opcode))
	}
	return stmts, nil
}

type r2Block struct {
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
	Jump   uint64 `json:"jump,omitempty"`
	Fail   uint64 `json:"fail,omitempty"`
}

type r2Graph struct {
	Offset uint64    `json:"offset"`
	Blocks []r2Block `json:"blocks"`
}

// FunctionCFG builds a BareCFG from "agfj" (analyse graph function, JSON),
// whose blocks carry their own jump/fail successor offsets.
func (o Radare2Oracle) FunctionCFG(h Handle, offset uint64) (*BareCFG, error) {
	rh, ok := h.(*radare2Handle)
	if !ok {
		return nil, ErrNotOpen
	}
	out, err := o.run(context.Background(), rh.path, fmt.Sprintf("s %d; agfj", offset))
	if err != nil {
		return nil, fmt.Errorf("oracle: function cfg %#x in %s: %w", offset, rh.path, err)
	}
	var graphs []r2Graph
	if err := json.Unmarshal(out, &graphs); err != nil {
		return nil, fmt.Errorf("oracle: parse agfj %#x in %s: %w", offset, rh.path, err)
	}
	if len(graphs) == 0 {
		return nil, fmt.Errorf("oracle: function cfg %#x in %s: %w", offset, rh.path, ErrNotFound)
	}
	g := graphs[0]
	root := g.Offset
	cfg := &BareCFG{Root: &root}
	for _, b := range g.Blocks {
		cfg.Blocks = append(cfg.Blocks, BlockExtent{Offset: b.Offset, Length: b.Size})
		if b.Fail != 0 {
			cfg.Edges = append(cfg.Edges, [2]uint64{b.Offset, b.Fail})
		}
		if b.Jump != 0 {
			cfg.Edges = append(cfg.Edges, [2]uint64{b.Offset, b.Jump})
		}
	}
	return cfg, nil
}

// run invokes "r2 -q -c <cmd> <path>" and returns its stdout.
func (o Radare2Oracle) run(ctx context.Context, path, cmd string) ([]byte, error) {
	c := exec.CommandContext(ctx, o.bin(), "-q", "-c", cmd, path)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", o.bin(), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
