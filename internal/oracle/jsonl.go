package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"bcc/internal/stmt"
)

// StatementRecord is one line in statements.jsonl: a single disassembled
// instruction belonging to the function at FuncPC.
type StatementRecord struct {
	FuncPC string `json:"func_pc"`
	PC     string `json:"pc"`
	Family string `json:"family,omitempty"`
	Text   string `json:"text"`
}

// CFGBlockRecord is one line in cfg_blocks.jsonl: one basic block belonging
// to the function at FuncPC.
type CFGBlockRecord struct {
	FuncPC string `json:"func_pc"`
	PC     string `json:"pc"`
	Length uint64 `json:"length"`
}

// CFGEdgeRecord is one line in cfg_edges.jsonl: one control-flow edge
// belonging to the function at FuncPC.
type CFGEdgeRecord struct {
	FuncPC string `json:"func_pc"`
	FromPC string `json:"from_pc"`
	ToPC   string `json:"to_pc"`
}

// FuncRecord is one line in functions.jsonl: the function's entry pc, its
// byte size and its symbol name.
type FuncRecord struct {
	PC   string `json:"pc"`
	Size int    `json:"size"`
	Name string `json:"name"`
}

// JSONLOracle reads a directory of pre-extracted JSONL files instead of
// invoking an external disassembler. It is the primary oracle exercised by
// tests: no r2 binary is required.
type JSONLOracle struct{}

// jsonlHandle is the Handle JSONLOracle hands back from Open.
type jsonlHandle struct {
	dir        string
	funcs      []FuncRecord
	byOffset   map[uint64]FuncRecord
	statements map[uint64][]stmt.Statement
	cfgs       map[uint64]*BareCFG
}

// Open reads functions.jsonl (required) and statements.jsonl/cfg_blocks.jsonl/
// cfg_edges.jsonl (optional; missing files behave as empty) from dir.
func (JSONLOracle) Open(dir string) (Handle, error) {
	funcs, err := readJSONL[FuncRecord](filepath.Join(dir, "functions.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("oracle: open %s: %w", dir, err)
	}

	h := &jsonlHandle{
		dir:        dir,
		funcs:      funcs,
		byOffset:   make(map[uint64]FuncRecord, len(funcs)),
		statements: make(map[uint64][]stmt.Statement),
		cfgs:       make(map[uint64]*BareCFG),
	}
	for _, f := range funcs {
		off, err := parseHex(f.PC)
		if err != nil {
			return nil, fmt.Errorf("oracle: functions.jsonl: %w", err)
		}
		h.byOffset[off] = f
	}

	stmts, err := readJSONLOptional[StatementRecord](filepath.Join(dir, "statements.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("oracle: statements.jsonl: %w", err)
	}
	for _, s := range stmts {
		funcPC, err := parseHex(s.FuncPC)
		if err != nil {
			return nil, fmt.Errorf("oracle: statements.jsonl: %w", err)
		}
		pc, err := parseHex(s.PC)
		if err != nil {
			return nil, fmt.Errorf("oracle: statements.jsonl: %w", err)
		}
		family, _ := stmt.ParseFamily(s.Family)
		h.statements[funcPC] = append(h.statements[funcPC], stmt.New(pc, family, s.Text))
	}

	blocks, err := readJSONLOptional[CFGBlockRecord](filepath.Join(dir, "cfg_blocks.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("oracle: cfg_blocks.jsonl: %w", err)
	}
	for _, b := range blocks {
		funcPC, err := parseHex(b.FuncPC)
		if err != nil {
			return nil, fmt.Errorf("oracle: cfg_blocks.jsonl: %w", err)
		}
		pc, err := parseHex(b.PC)
		if err != nil {
			return nil, fmt.Errorf("oracle: cfg_blocks.jsonl: %w", err)
		}
		cfg := h.cfgs[funcPC]
		if cfg == nil {
			cfg = &BareCFG{Root: &funcPC}
			h.cfgs[funcPC] = cfg
		}
		cfg.Blocks = append(cfg.Blocks, BlockExtent{Offset: pc, Length: b.Length})
	}

	edges, err := readJSONLOptional[CFGEdgeRecord](filepath.Join(dir, "cfg_edges.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("oracle: cfg_edges.jsonl: %w", err)
	}
	for _, e := range edges {
		funcPC, err := parseHex(e.FuncPC)
		if err != nil {
			return nil, fmt.Errorf("oracle: cfg_edges.jsonl: %w", err)
		}
		from, err := parseHex(e.FromPC)
		if err != nil {
			return nil, fmt.Errorf("oracle: cfg_edges.jsonl: %w", err)
		}
		to, err := parseHex(e.ToPC)
		if err != nil {
			return nil, fmt.Errorf("oracle: cfg_edges.jsonl: %w", err)
		}
		cfg := h.cfgs[funcPC]
		if cfg == nil {
			cfg = &BareCFG{Root: &funcPC}
			h.cfgs[funcPC] = cfg
		}
		cfg.Edges = append(cfg.Edges, [2]uint64{from, to})
	}

	return h, nil
}

// Analyse is a no-op: JSONL input is already the result of analysis.
func (JSONLOracle) Analyse(ctx context.Context, h Handle) error {
	if _, ok := h.(*jsonlHandle); !ok {
		return ErrNotOpen
	}
	return nil
}

func (JSONLOracle) FunctionOffsets(h Handle) ([]uint64, error) {
	jh, ok := h.(*jsonlHandle)
	if !ok {
		return nil, ErrNotOpen
	}
	offsets := make([]uint64, 0, len(jh.funcs))
	for off := range jh.byOffset {
		offsets = append(offsets, off)
	}
	return offsets, nil
}

func (JSONLOracle) FunctionNames(h Handle) (map[string]uint64, error) {
	jh, ok := h.(*jsonlHandle)
	if !ok {
		return nil, ErrNotOpen
	}
	names := make(map[string]uint64, len(jh.funcs))
	for off, f := range jh.byOffset {
		names[f.Name] = off
	}
	return names, nil
}

func (JSONLOracle) FunctionBody(h Handle, offset uint64) ([]stmt.Statement, error) {
	jh, ok := h.(*jsonlHandle)
	if !ok {
		return nil, ErrNotOpen
	}
	if _, known := jh.byOffset[offset]; !known {
		return nil, fmt.Errorf("oracle: function %#x: %w", offset, ErrNotFound)
	}
	return jh.statements[offset], nil
}

func (JSONLOracle) FunctionCFG(h Handle, offset uint64) (*BareCFG, error) {
	jh, ok := h.(*jsonlHandle)
	if !ok {
		return nil, ErrNotOpen
	}
	if _, known := jh.byOffset[offset]; !known {
		return nil, fmt.Errorf("oracle: function %#x: %w", offset, ErrNotFound)
	}
	cfg, ok := jh.cfgs[offset]
	if !ok {
		return nil, fmt.Errorf("oracle: function %#x has no recorded cfg: %w", offset, ErrNotFound)
	}
	return cfg, nil
}

func parseHex(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

func readJSONL[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []T
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			return records, fmt.Errorf("line %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// readJSONLOptional is readJSONL but treats a missing file as an empty list.
func readJSONLOptional[T any](path string) ([]T, error) {
	records, err := readJSONL[T](path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}
