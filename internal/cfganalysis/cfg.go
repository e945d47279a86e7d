// Package cfganalysis builds and refines per-function Control Flow Graphs
// from a linear statement stream.
package cfganalysis

import (
	"sort"

	"bcc/internal/arch"
	"bcc/internal/graph"
	"bcc/internal/stmt"
)

// SinkAddr is the offset of an artificially inserted exit node.
const SinkAddr uint64 = 1<<64 - 1

// EntryAddr is the offset of an artificially inserted entry node.
const EntryAddr uint64 = 0

// BasicBlock identifies a contiguous statement range with no internal jump
// landings. Equality and hashing are by (First, Last) alone.
type BasicBlock struct {
	First uint64
	Last  uint64
}

// IsSink reports whether bb is the CFG's unique artificial exit node.
func (bb BasicBlock) IsSink() bool { return bb.First == SinkAddr && bb.Last == SinkAddr }

// IsEntryPoint reports whether bb is an artificially inserted entry node.
func (bb BasicBlock) IsEntryPoint() bool { return bb.First == EntryAddr && bb.Last == EntryAddr }

func newSink() BasicBlock       { return BasicBlock{First: SinkAddr, Last: SinkAddr} }
func newEntryPoint() BasicBlock { return BasicBlock{First: EntryAddr, Last: EntryAddr} }

// CFG is a rooted directed graph over basic blocks. Edges are ordered
// [fallthrough, taken]: slot 0 is the sequential successor, slot 1 is the
// conditional-branch target. Either slot may be nil.
type CFG struct {
	root     *BasicBlock
	Edges    map[BasicBlock][2]*BasicBlock
}

// New builds a CFG from stmts using arch for jump classification. The
// result contains only reachable nodes and has no sink.
func New(stmts []stmt.Statement, a arch.Architecture) *CFG {
	return build(stmts, a)
}

// Next returns bb's fallthrough/unconditional successor.
func (c *CFG) Next(bb *BasicBlock) *BasicBlock {
	if bb == nil {
		return nil
	}
	children, ok := c.Edges[*bb]
	if !ok {
		return nil
	}
	return children[0]
}

// Cond returns bb's conditional-branch successor.
func (c *CFG) Cond(bb *BasicBlock) *BasicBlock {
	if bb == nil {
		return nil
	}
	children, ok := c.Edges[*bb]
	if !ok {
		return nil
	}
	return children[1]
}

// Rc returns a pointer to a fresh copy of node if node belongs to this
// graph, or nil otherwise. The pointer is not one stored in Edges.
func (c *CFG) Rc(node BasicBlock) *BasicBlock {
	if _, ok := c.Edges[node]; ok {
		cp := node
		return &cp
	}
	return nil
}

// SetRoot designates node as the CFG's root. Used by the DOT parser when
// reconstructing a CFG from a serialized document.
func (c *CFG) SetRoot(node *BasicBlock) { c.root = node }

// Len returns the number of nodes.
func (c *CFG) Len() int { return len(c.Edges) }

// IsEmpty reports whether the CFG has no nodes.
func (c *CFG) IsEmpty() bool { return len(c.Edges) == 0 }

// Root implements graph.Graph.
func (c *CFG) Root() (BasicBlock, bool) {
	if c.root == nil {
		return BasicBlock{}, false
	}
	return *c.root, true
}

// Neighbours implements graph.Graph.
func (c *CFG) Neighbours(node BasicBlock) ([]BasicBlock, bool) {
	children, ok := c.Edges[node]
	if !ok {
		return nil, false
	}
	var out []BasicBlock
	for _, ch := range children {
		if ch != nil {
			out = append(out, *ch)
		}
	}
	return out, true
}

// NodeIDMap assigns a stable 0-based preorder id to every node.
func (c *CFG) NodeIDMap() map[BasicBlock]int {
	ids := make(map[BasicBlock]int)
	for i, n := range graph.DFSPreorder[BasicBlock](c) {
		ids[n] = i
	}
	return ids
}

// AddSink merges every node with both slots empty into a single artificial
// sink, iff two or more such nodes exist. No-op otherwise.
func (c *CFG) AddSink() *CFG {
	exitCount := 0
	for _, ch := range c.Edges {
		if ch[0] == nil && ch[1] == nil {
			exitCount++
		}
	}
	if exitCount <= 1 {
		return c
	}
	sink := newSink()
	for node, ch := range c.Edges {
		if ch[0] == nil && ch[1] == nil {
			sp := sink
			ch[0] = &sp
			c.Edges[node] = ch
		}
	}
	c.Edges[sink] = [2]*BasicBlock{nil, nil}
	return c
}

// AddEntryPoint inserts a new artificial root pointing at the old root, iff
// the old root has one or more predecessors. No-op otherwise.
func (c *CFG) AddEntryPoint() *CFG {
	if c.root == nil {
		return c
	}
	hasPreds := false
	for _, ch := range c.Edges {
		if (ch[0] != nil && *ch[0] == *c.root) || (ch[1] != nil && *ch[1] == *c.root) {
			hasPreds = true
			break
		}
	}
	if !hasPreds {
		return c
	}
	eep := newEntryPoint()
	oldRoot := *c.root
	c.Edges[eep] = [2]*BasicBlock{&oldRoot, nil}
	c.root = &eep
	return c
}

// targetMap holds the jump-source/destination bookkeeping for one pass over
// a statement stream.
type targetMap struct {
	targets      []uint64 // sorted, de-duplicated
	srcsCond     map[uint64]uint64
	srcsUncond   map[uint64]uint64
	deadendCond  map[uint64]bool
	deadendUncond map[uint64]bool
}

func getTargets(stmts []stmt.Statement, a arch.Architecture) targetMap {
	targetSet := map[uint64]bool{}
	tm := targetMap{
		srcsCond:      map[uint64]uint64{},
		srcsUncond:    map[uint64]uint64{},
		deadendCond:   map[uint64]bool{},
		deadendUncond: map[uint64]bool{},
	}
	if len(stmts) == 0 {
		return tm
	}
	lower := stmts[0].Offset()
	upper := stmts[len(stmts)-1].Offset()
	prevWasJump := true
	for _, s := range stmts {
		if prevWasJump {
			prevWasJump = false
			targetSet[s.Offset()] = true
		}
		jt := a.Jump(s.Mnemonic())
		switch jt {
		case arch.JumpUnconditional:
			if target, ok := parseTarget(s.Args()); ok {
				if target >= lower && target <= upper {
					tm.srcsUncond[s.Offset()] = target
					targetSet[target] = true
				} else {
					tm.deadendUncond[s.Offset()] = true
				}
			} else {
				tm.deadendUncond[s.Offset()] = true
			}
			prevWasJump = true
		case arch.JumpConditional:
			if target, ok := parseTarget(s.Args()); ok {
				if target >= lower && target <= upper {
					tm.srcsCond[s.Offset()] = target
					targetSet[target] = true
				} else {
					tm.deadendCond[s.Offset()] = true
				}
			}
			prevWasJump = true
		case arch.RetUnconditional:
			tm.deadendUncond[s.Offset()] = true
			prevWasJump = true
		case arch.RetConditional:
			tm.deadendCond[s.Offset()] = true
			prevWasJump = true
		case arch.NoJump:
		}
	}
	for t := range targetSet {
		tm.targets = append(tm.targets, t)
	}
	sort.Slice(tm.targets, func(i, j int) bool { return tm.targets[i] < tm.targets[j] })
	return tm
}

// resolveBlockID returns the index of the block containing offset.
func resolveBlockID(offset uint64, idMap map[uint64]int, targets []uint64) int {
	if id, ok := idMap[offset]; ok {
		return id
	}
	// Largest target strictly less than offset.
	lo, hi := 0, len(targets)
	for lo < hi {
		mid := (lo + hi) / 2
		if targets[mid] < offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	// lo is now the first index with targets[lo] >= offset; the block start
	// is the one before it.
	return idMap[targets[lo-1]]
}

func build(stmts []stmt.Statement, a arch.Architecture) *CFG {
	if len(stmts) == 0 {
		return &CFG{Edges: map[BasicBlock][2]*BasicBlock{}}
	}
	allOffsets := make([]uint64, len(stmts))
	for i, s := range stmts {
		allOffsets[i] = s.Offset()
	}
	tm := getTargets(stmts, a)
	if len(tm.targets) == 0 {
		return &CFG{Edges: map[BasicBlock][2]*BasicBlock{}}
	}
	functionOver := stmts[len(stmts)-1].Offset() + 1

	nodes := make([]BasicBlock, len(tm.targets))
	for i, target := range tm.targets {
		nodes[i] = BasicBlock{First: target, Last: 0}
	}
	for i := range nodes {
		nextTarget := functionOver
		if i+1 < len(nodes) {
			nextTarget = nodes[i+1].First
		}
		nodes[i].Last = lastOffsetBefore(allOffsets, nextTarget)
	}

	edges := make(map[BasicBlock][2]*BasicBlock, len(nodes))
	for i := range nodes {
		if i+1 < len(nodes) {
			next := nodes[i+1]
			edges[nodes[i]] = [2]*BasicBlock{&next, nil}
		} else {
			edges[nodes[i]] = [2]*BasicBlock{nil, nil}
		}
	}

	idMap := make(map[uint64]int, len(nodes))
	for i, t := range tm.targets {
		idMap[t] = i
	}

	for src, dst := range tm.srcsUncond {
		srcID := resolveBlockID(src, idMap, tm.targets)
		dstID := resolveBlockID(dst, idMap, tm.targets)
		ch := edges[nodes[srcID]]
		target := nodes[dstID]
		ch[0] = &target
		edges[nodes[srcID]] = ch
	}
	for src, dst := range tm.srcsCond {
		srcID := resolveBlockID(src, idMap, tm.targets)
		dstID := resolveBlockID(dst, idMap, tm.targets)
		ch := edges[nodes[srcID]]
		target := nodes[dstID]
		ch[1] = &target
		edges[nodes[srcID]] = ch
	}
	for src := range tm.deadendUncond {
		srcID := resolveBlockID(src, idMap, tm.targets)
		ch := edges[nodes[srcID]]
		ch[0] = nil
		edges[nodes[srcID]] = ch
	}
	for src := range tm.deadendCond {
		srcID := resolveBlockID(src, idMap, tm.targets)
		ch := edges[nodes[srcID]]
		ch[1] = nil
		edges[nodes[srcID]] = ch
	}

	root := nodes[0]
	cfg := &CFG{root: &root, Edges: edges}
	return reachable(cfg)
}

// lastOffsetBefore returns the greatest element of sorted allOffsets that is
// strictly less than bound.
func lastOffsetBefore(allOffsets []uint64, bound uint64) uint64 {
	lo, hi := 0, len(allOffsets)
	for lo < hi {
		mid := (lo + hi) / 2
		if allOffsets[mid] < bound {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return allOffsets[lo-1]
}

func parseTarget(args string) (uint64, bool) {
	return parseHexOrDec(args)
}

// reachable prunes nodes not reachable from the root, per §4.2 step 5.
func reachable(c *CFG) *CFG {
	if c.IsEmpty() || c.root == nil {
		return c
	}
	reached := map[BasicBlock]bool{}
	for _, n := range graph.DFSPreorder[BasicBlock](c) {
		reached[n] = true
	}
	edges := make(map[BasicBlock][2]*BasicBlock, len(reached))
	for n, ch := range c.Edges {
		if reached[n] {
			edges[n] = ch
		}
	}
	return &CFG{root: c.root, Edges: edges}
}
