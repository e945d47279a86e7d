package main

import (
	"fmt"

	"bcc/internal/cfganalysis"
	"bcc/internal/oracle"
)

// blockFromBare builds the cfganalysis.BasicBlock for a block extent; Last
// is the address of the block's final byte (Offset+Length-1, or Offset for
// a zero-length extent), not the offset of its last statement as
// cfganalysis.New records it.
func blockFromBare(b oracle.BlockExtent) cfganalysis.BasicBlock {
	last := b.Offset
	if b.Length > 0 {
		last = b.Offset + b.Length - 1
	}
	return cfganalysis.BasicBlock{First: b.Offset, Last: last}
}

// cfgFromBareCFG reconstructs a *cfganalysis.CFG directly from an oracle's
// BareCFG, bypassing statement-level jump classification: the oracle has
// already resolved block boundaries and successors. Edges are assigned to
// the fallthrough slot in the order reported, then the conditional slot,
// matching the [fallthrough, taken] convention the rest of cfganalysis
// expects.
func cfgFromBareCFG(bare *oracle.BareCFG) (*cfganalysis.CFG, error) {
	if bare.Root == nil {
		return nil, fmt.Errorf("bcc: bare cfg has no root")
	}

	byOffset := make(map[uint64]cfganalysis.BasicBlock, len(bare.Blocks))
	for _, b := range bare.Blocks {
		byOffset[b.Offset] = blockFromBare(b)
	}

	cfg := &cfganalysis.CFG{Edges: make(map[cfganalysis.BasicBlock][2]*cfganalysis.BasicBlock, len(byOffset))}
	for _, bb := range byOffset {
		cfg.Edges[bb] = [2]*cfganalysis.BasicBlock{}
	}

	slotUsed := make(map[cfganalysis.BasicBlock]int)
	for _, e := range bare.Edges {
		from, ok := byOffset[e[0]]
		if !ok {
			return nil, fmt.Errorf("bcc: edge from unknown block %#x", e[0])
		}
		to, ok := byOffset[e[1]]
		if !ok {
			return nil, fmt.Errorf("bcc: edge to unknown block %#x", e[1])
		}
		slot := slotUsed[from]
		if slot > 1 {
			return nil, fmt.Errorf("bcc: block %#x has more than two successors", e[0])
		}
		toCopy := to
		children := cfg.Edges[from]
		children[slot] = &toCopy
		cfg.Edges[from] = children
		slotUsed[from] = slot + 1
	}

	root, ok := byOffset[*bare.Root]
	if !ok {
		return nil, fmt.Errorf("bcc: root block %#x not among reported blocks", *bare.Root)
	}
	cfg.SetRoot(&root)
	return cfg, nil
}
