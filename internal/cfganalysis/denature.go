package cfganalysis

import (
	"bcc/internal/graph"
)

// sccInfo bundles SCC membership with precomputed cluster sizes.
type sccInfo struct {
	of    map[BasicBlock]int
	sizes map[int]int
}

func computeSCC(cfg *CFG) sccInfo {
	of := graph.SCC[BasicBlock](cfg)
	sizes := map[int]int{}
	for _, id := range of {
		sizes[id]++
	}
	return sccInfo{of: of, sizes: sizes}
}

// hasSelfEdge reports whether node has an edge to itself.
func hasSelfEdge(cfg *CFG, node BasicBlock) bool {
	ch, ok := cfg.Edges[node]
	if !ok {
		return false
	}
	return (ch[0] != nil && *ch[0] == node) || (ch[1] != nil && *ch[1] == node)
}

// isLoop reports whether node participates in a loop: its SCC has more
// than one member, or it is directly self-referential.
func isLoop(cfg *CFG, sc sccInfo, node BasicBlock) bool {
	return sc.sizes[sc.of[node]] > 1 || hasSelfEdge(cfg, node)
}

// depthMap assigns each node max(children depth)+1 via a DFS postorder
// pass over cfg; missing children contribute 0.
func depthMap(cfg *CFG) map[BasicBlock]int {
	depths := map[BasicBlock]int{}
	for _, node := range graph.DFSPostorder[BasicBlock](cfg) {
		succs, _ := cfg.Neighbours(node)
		max := 0
		for _, s := range succs {
			if d := depths[s]; d > max {
				max = d
			}
		}
		depths[node] = max + 1
	}
	return depths
}

// exitsAndTargets walks the SCC containing node, returning the set of
// exits (nodes inside the SCC with a successor outside it) and the
// corresponding outside targets.
func exitsAndTargets(cfg *CFG, sc sccInfo, node BasicBlock) (exits, targets []BasicBlock) {
	sccID := sc.of[node]
	visited := map[BasicBlock]bool{node: true}
	stack := []BasicBlock{node}
	exitSet := map[BasicBlock]bool{}
	targetSet := map[BasicBlock]bool{}
	var exitOrder, targetOrder []BasicBlock
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		succs, _ := cfg.Neighbours(cur)
		for _, s := range succs {
			if sc.of[s] != sccID {
				if !exitSet[cur] {
					exitSet[cur] = true
					exitOrder = append(exitOrder, cur)
				}
				if !targetSet[s] {
					targetSet[s] = true
					targetOrder = append(targetOrder, s)
				}
			} else if !visited[s] {
				visited[s] = true
				stack = append(stack, s)
			}
		}
	}
	return exitOrder, targetOrder
}

func offsetDistance(a, b BasicBlock) uint64 {
	if a.First > b.First {
		return a.First - b.First
	}
	return b.First - a.First
}

// removeEdges clears, for every node in nodes, any slot pointing at a
// member of targets, swapping slots 0/1 if slot 0 becomes empty while
// slot 1 remains set (canonical single-successor form).
func removeEdges(cfg *CFG, nodes []BasicBlock, targets map[BasicBlock]bool) {
	for _, n := range nodes {
		ch, ok := cfg.Edges[n]
		if !ok {
			continue
		}
		if ch[0] != nil && targets[*ch[0]] {
			ch[0] = nil
		}
		if ch[1] != nil && targets[*ch[1]] {
			ch[1] = nil
		}
		if ch[0] == nil && ch[1] != nil {
			ch[0], ch[1] = ch[1], ch[0]
		}
		cfg.Edges[n] = ch
	}
}

// denaturateLoop rewrites node's loop (if multi-exit) into single-exit form.
// Among exit targets of equal depth the one nearest in offset to node is
// kept; two targets equally far from node (one on each side) are ordered by
// the lower offset. Panics if two candidates share the same offset:
// basic-block offsets are unique within a function by construction, so this
// is a defensive unreachable precondition.
func denaturateLoop(cfg *CFG, sc sccInfo, preds map[BasicBlock][]BasicBlock, depths map[BasicBlock]int, node BasicBlock) {
	exits, targets := exitsAndTargets(cfg, sc, node)
	if len(exits) <= 1 || !isLoop(cfg, sc, node) {
		return
	}

	if len(targets) >= 2 {
		correct := targets[0]
		for _, cand := range targets[1:] {
			switch {
			case depths[cand] > depths[correct]:
				correct = cand
			case depths[cand] == depths[correct]:
				dCand := offsetDistance(cand, node)
				dCorrect := offsetDistance(correct, node)
				if dCand < dCorrect || (dCand == dCorrect && cand.First < correct.First) {
					correct = cand
				} else if cand.First == correct.First {
					panic("cfganalysis: ambiguous loop exit target tie — duplicate basic-block offsets")
				}
			}
		}
		rest := map[BasicBlock]bool{}
		for _, t := range targets {
			if t != correct {
				rest[t] = true
			}
		}
		removeEdges(cfg, exits, rest)
	}

	exits, targets = exitsAndTargets(cfg, sc, node)
	if len(targets) == 0 {
		return
	}
	sharedTarget := targets[0]

	var chosenExits []BasicBlock
	isNodeExit := false
	for _, e := range exits {
		if e == node {
			isNodeExit = true
			break
		}
	}
	if isNodeExit {
		chosenExits = []BasicBlock{node}
	} else {
		maxPreds := -1
		for _, e := range exits {
			if n := len(preds[e]); n > maxPreds {
				maxPreds = n
			}
		}
		var tied []BasicBlock
		for _, e := range exits {
			if len(preds[e]) == maxPreds {
				tied = append(tied, e)
			}
		}
		best := tied[0]
		for _, cand := range tied[1:] {
			if offsetDistance(cand, node) > offsetDistance(best, node) {
				best = cand
			}
		}
		chosenExits = []BasicBlock{best}
	}

	var toClear []BasicBlock
	for _, e := range exits {
		keep := false
		for _, c := range chosenExits {
			if e == c {
				keep = true
			}
		}
		if !keep {
			toClear = append(toClear, e)
		}
	}
	removeEdges(cfg, toClear, map[BasicBlock]bool{sharedTarget: true})
}

// RemoveNaturalLoops denaturates every multi-exit loop in cfg, visiting CFG
// nodes in pre-order so outer loops are handled before nested ones. Each
// SCC is denatured at most once.
func (c *CFG) RemoveNaturalLoops() *CFG {
	sc := computeSCC(c)
	preds := graph.Predecessors[BasicBlock](c)
	depths := depthMap(c)
	done := map[int]bool{}
	for _, node := range graph.DFSPreorder[BasicBlock](c) {
		id := sc.of[node]
		if done[id] {
			continue
		}
		done[id] = true
		denaturateLoop(c, sc, preds, depths, node)
	}
	return c
}
