package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bcc/internal/arch"
	"bcc/internal/cfganalysis"
	"bcc/internal/disasm"
	"bcc/internal/elfx"
	"bcc/internal/stmt"
)

// ARM64Oracle reads raw AArch64 code and disassembles it directly, using
// disasm.Disassemble rather than shelling out to an external tool. It is
// the Oracle to reach for when there is no r2 binary on PATH, or the
// caller wants the decode step in-process.
//
// Open accepts two kinds of path:
//
//   - a directory holding meta.json ({"base_addr": "0x..."}), code.bin
//     (raw little-endian bytes), and functions.jsonl (FuncRecord per
//     function) — the dump convention for a memory-forensics capture or
//     an unpacked section with no symbol table of its own.
//   - a single AArch64 ELF file (shared object or executable) — its
//     function table and executable segment are read directly via
//     internal/elfx, no side files required.
type ARM64Oracle struct{}

type arm64Meta struct {
	BaseAddr string `json:"base_addr"`
}

type arm64Handle struct {
	funcs    []FuncRecord
	byOffset map[uint64]FuncRecord
	insts    []disasm.Inst
}

func (o ARM64Oracle) Open(path string) (Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("arm64 oracle: %w", err)
	}
	if !info.IsDir() {
		return openELF(path)
	}

	metaBytes, err := os.ReadFile(filepath.Join(path, "meta.json"))
	if err != nil {
		return nil, fmt.Errorf("arm64 oracle: read meta.json: %w", err)
	}
	var meta arm64Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("arm64 oracle: parse meta.json: %w", err)
	}
	base, err := parseHex(meta.BaseAddr)
	if err != nil {
		return nil, fmt.Errorf("arm64 oracle: base_addr: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(path, "code.bin"))
	if err != nil {
		return nil, fmt.Errorf("arm64 oracle: read code.bin: %w", err)
	}

	funcs, err := readJSONL[FuncRecord](filepath.Join(path, "functions.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("arm64 oracle: read functions.jsonl: %w", err)
	}

	byOffset := make(map[uint64]FuncRecord, len(funcs))
	for _, f := range funcs {
		pc, err := parseHex(f.PC)
		if err != nil {
			return nil, fmt.Errorf("arm64 oracle: function %q: %w", f.Name, err)
		}
		byOffset[pc] = f
	}

	insts := disasm.Disassemble(data, disasm.Options{BaseAddr: base})

	return &arm64Handle{funcs: funcs, byOffset: byOffset, insts: insts}, nil
}

// openELF builds an arm64Handle directly from an AArch64 ELF file's
// dynamic symbol table and executable segment, bypassing the meta.json/
// code.bin/functions.jsonl dump convention entirely.
func openELF(path string) (Handle, error) {
	ef, err := elfx.Open(path)
	if err != nil {
		return nil, fmt.Errorf("arm64 oracle: %w", err)
	}
	defer ef.Close()

	seg, err := ef.ExecutableSegment()
	if err != nil {
		return nil, fmt.Errorf("arm64 oracle: %w", err)
	}
	data, err := ef.ReadBytesAtVA(seg.Vaddr, int(seg.Filesz))
	if err != nil {
		return nil, fmt.Errorf("arm64 oracle: read executable segment: %w", err)
	}

	syms, err := ef.Functions()
	if err != nil {
		return nil, fmt.Errorf("arm64 oracle: %w", err)
	}
	if len(syms) == 0 {
		return nil, fmt.Errorf("arm64 oracle: no function symbols in %s", path)
	}

	funcs := make([]FuncRecord, 0, len(syms))
	byOffset := make(map[uint64]FuncRecord, len(syms))
	for _, s := range syms {
		rec := FuncRecord{PC: fmt.Sprintf("0x%x", s.Addr), Size: int(s.Size), Name: s.Name}
		funcs = append(funcs, rec)
		byOffset[s.Addr] = rec
	}

	insts := disasm.Disassemble(data, disasm.Options{BaseAddr: seg.Vaddr})
	return &arm64Handle{funcs: funcs, byOffset: byOffset, insts: insts}, nil
}

// Analyse is a no-op: decoding already happened in Open.
func (o ARM64Oracle) Analyse(ctx context.Context, h Handle) error {
	if _, ok := h.(*arm64Handle); !ok {
		return ErrNotOpen
	}
	return nil
}

func (o ARM64Oracle) FunctionOffsets(h Handle) ([]uint64, error) {
	hh, ok := h.(*arm64Handle)
	if !ok {
		return nil, ErrNotOpen
	}
	offsets := make([]uint64, 0, len(hh.byOffset))
	for pc := range hh.byOffset {
		offsets = append(offsets, pc)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

func (o ARM64Oracle) FunctionNames(h Handle) (map[string]uint64, error) {
	hh, ok := h.(*arm64Handle)
	if !ok {
		return nil, ErrNotOpen
	}
	names := make(map[string]uint64, len(hh.byOffset))
	for pc, f := range hh.byOffset {
		names[f.Name] = pc
	}
	return names, nil
}

// funcInsts returns the instructions belonging to the function at offset,
// identified by its declared size in functions.jsonl.
func (hh *arm64Handle) funcInsts(offset uint64) ([]disasm.Inst, *FuncRecord, error) {
	f, ok := hh.byOffset[offset]
	if !ok {
		return nil, nil, fmt.Errorf("function at 0x%x: %w", offset, ErrNotFound)
	}
	end := offset + uint64(f.Size)
	lo := sort.Search(len(hh.insts), func(i int) bool { return hh.insts[i].Addr >= offset })
	hi := sort.Search(len(hh.insts), func(i int) bool { return hh.insts[i].Addr >= end })
	if lo >= hi {
		return nil, &f, nil
	}
	return hh.insts[lo:hi], &f, nil
}

func (o ARM64Oracle) FunctionBody(h Handle, offset uint64) ([]stmt.Statement, error) {
	hh, ok := h.(*arm64Handle)
	if !ok {
		return nil, ErrNotOpen
	}
	insts, _, err := hh.funcInsts(offset)
	if err != nil {
		return nil, err
	}
	statements := make([]stmt.Statement, 0, len(insts))
	for _, in := range insts {
		statements = append(statements, stmt.New(in.Addr, classifyARM64(in.Mnemonic), cfgText(in)))
	}
	return statements, nil
}

func (o ARM64Oracle) FunctionCFG(h Handle, offset uint64) (*BareCFG, error) {
	hh, ok := h.(*arm64Handle)
	if !ok {
		return nil, ErrNotOpen
	}
	insts, _, err := hh.funcInsts(offset)
	if err != nil {
		return nil, err
	}
	if len(insts) == 0 {
		return nil, fmt.Errorf("function at 0x%x has no instructions: %w", offset, ErrNotFound)
	}

	statements := make([]stmt.Statement, 0, len(insts))
	for _, in := range insts {
		statements = append(statements, stmt.New(in.Addr, classifyARM64(in.Mnemonic), cfgText(in)))
	}

	cfg := cfganalysis.New(statements, arch.NewAArch64())
	root, ok := cfg.Root()
	if !ok {
		return nil, fmt.Errorf("function at 0x%x: empty cfg", offset)
	}

	blockSize := func(bb cfganalysis.BasicBlock) uint64 {
		return bb.Last - bb.First + 4
	}

	nodes := make([]cfganalysis.BasicBlock, 0, cfg.Len())
	for n := range cfg.NodeIDMap() {
		nodes = append(nodes, n)
	}

	bare := &BareCFG{
		Root:   &root.First,
		Blocks: make([]BlockExtent, 0, len(nodes)),
		Edges:  make([][2]uint64, 0, len(nodes)),
	}
	for _, n := range nodes {
		bare.Blocks = append(bare.Blocks, BlockExtent{Offset: n.First, Length: blockSize(n)})
		if next := cfg.Next(&n); next != nil {
			bare.Edges = append(bare.Edges, [2]uint64{n.First, next.First})
		}
		if cond := cfg.Cond(&n); cond != nil {
			bare.Edges = append(bare.Edges, [2]uint64{n.First, cond.First})
		}
	}
	return bare, nil
}

// cfgText normalizes a decoded instruction into the mnemonic+hex-target
// shape arch.ARM and cfganalysis expect: "bx lr" for returns, "b 0x<addr>"
// for unconditional branches, "b.eq 0x<addr>" for every conditional branch
// whatever its condition (CBZ/CBNZ/TBZ/TBNZ included — this codebase's ARM
// model does not distinguish compare-and-branch forms from B.cc for CFG
// purposes).
// Non-branch instructions keep arm64asm's own disassembly text; its exact
// form never affects control-flow recovery.
func cfgText(in disasm.Inst) string {
	bi := disasm.DecodeBranch(in.Raw, in.Addr)
	if bi == nil {
		return in.Text
	}
	if bi.IsRet {
		return "bx lr"
	}
	if bi.Cond {
		return fmt.Sprintf("b.eq 0x%x", bi.Target)
	}
	return fmt.Sprintf("b 0x%x", bi.Target)
}

// classifyARM64 maps an ARM64 mnemonic to a coarse radare2-style family.
// This is best-effort: CFG construction relies only on arch.ARM's lexical
// jump classification, not on Family, so an imprecise mapping here never
// affects control-flow recovery.
func classifyARM64(mnemonic string) stmt.Family {
	bare := arch.RemoveCondition(mnemonic)
	switch {
	case bare == "ret":
		return stmt.RET
	case bare == "bl" || bare == "blr":
		return stmt.CALL
	case bare == "b" || bare == "br":
		if bare != mnemonic {
			return stmt.CJMP
		}
		return stmt.JMP
	case bare == "cbz" || bare == "cbnz" || bare == "tbz" || bare == "tbnz":
		return stmt.CJMP
	case strings.HasPrefix(bare, "ldr") || strings.HasPrefix(bare, "ldp"):
		return stmt.LOAD
	case strings.HasPrefix(bare, "str") || strings.HasPrefix(bare, "stp"):
		return stmt.STORE
	case bare == "mov" || bare == "movz" || bare == "movk" || bare == "movn":
		return stmt.MOV
	case bare == "add" || bare == "adrp" || bare == "adr":
		return stmt.ADD
	case bare == "sub":
		return stmt.SUB
	case bare == "cmp" || bare == "cmn":
		return stmt.CMP
	case bare == "and":
		return stmt.AND
	case bare == "orr":
		return stmt.OR
	case bare == "eor":
		return stmt.XOR
	case bare == "mul" || bare == "madd" || bare == "msub":
		return stmt.MUL
	case bare == "nop":
		return stmt.NOP
	default:
		return stmt.UNK
	}
}
