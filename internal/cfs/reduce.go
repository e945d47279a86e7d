package cfs

import (
	"bcc/internal/cfganalysis"
	"bcc/internal/graph"
)

// CFS is the reduced control-flow structure tree for one function, built
// over its CFG after denaturation; New denaturates the CFG it is given in
// place, not a copy.
type CFS struct {
	cfg  *cfganalysis.CFG
	tree *graph.DirectedGraph[Block]
}

// New denaturates cfg's natural loops and reduces the result into a
// control-flow structure tree.
func New(cfg *cfganalysis.CFG) *CFS {
	denatured := cfg.RemoveNaturalLoops()
	return &CFS{cfg: denatured, tree: build(denatured)}
}

// CFG returns the (denaturated) CFG the tree was built from.
func (c *CFS) CFG() *cfganalysis.CFG { return c.cfg }

// Tree returns the single root Block the reduction converged to, or
// ok=false if the CFG could not be fully reduced to one node (an
// irreducible "interval" region, e.g. from unstructured control flow).
func (c *CFS) Tree() (Block, bool) {
	if c.tree.Len() != 1 {
		return nil, false
	}
	root, ok := c.tree.Root()
	return root, ok
}

func containsNode(list []Block, n Block) bool {
	for _, b := range list {
		if b == n {
			return true
		}
	}
	return false
}

func isLoopMap(sccOf map[Block]int) map[Block]bool {
	counts := map[int]int{}
	for _, id := range sccOf {
		counts[id]++
	}
	out := make(map[Block]bool, len(sccOf))
	for node, id := range sccOf {
		out[node] = counts[id] > 1
	}
	return out
}

// reduction attempts to collapse node into a new structural block, along
// with the node that should now follow it (nil if node had no successor
// after collapsing). ok is false if the rule does not apply.
type reduction func(node Block, g *graph.DirectedGraph[Block], preds map[Block][]Block, loops map[Block]bool) (newNode, next Block, ok bool)

func reduceSelfLoop(node Block, g *graph.DirectedGraph[Block], _ map[Block][]Block, _ map[Block]bool) (Block, Block, bool) {
	if node.Type() != Basic {
		return nil, nil, false
	}
	children, _ := g.Neighbours(node)
	if len(children) != 2 || !containsNode(children, node) {
		return nil, nil, false
	}
	var next Block
	for _, c := range children {
		if c != node {
			next = c
		}
	}
	if next == nil {
		return nil, nil, false
	}
	return newNested(SelfLooping, []Block{node}), next, true
}

func flatten(n Block) []Block {
	if nb, ok := n.(*nestedBlock); ok && nb.blockType == Sequence {
		out := make([]Block, len(nb.content))
		copy(out, nb.content)
		return out
	}
	return []Block{n}
}

func constructSequence(node, next Block, bt BlockType) Block {
	content := append(flatten(node), flatten(next)...)
	return newNested(bt, content)
}

func reduceSequence(node Block, g *graph.DirectedGraph[Block], preds map[Block][]Block, _ map[Block]bool) (Block, Block, bool) {
	children, _ := g.Neighbours(node)
	if len(children) != 1 {
		return nil, nil, false
	}
	next := children[0]
	if len(preds[next]) != 1 {
		return nil, nil, false
	}
	nextNexts, _ := g.Neighbours(next)
	switch len(nextNexts) {
	case 0:
		return constructSequence(node, next, Sequence), nil, true
	case 1:
		nextnext := nextNexts[0]
		if nextnext != node {
			return constructSequence(node, next, Sequence), nextnext, true
		}
		// particular type of looping sequence.
		return constructSequence(node, next, SelfLooping), nil, true
	default:
		return nil, nil, false
	}
}

// ascendIfChain walks predecessors of the chain's head as long as each has
// exactly one predecessor and that predecessor's other edge targets cont,
// extending the chain into an outer if-then/if-else ladder.
func ascendIfChain(revChain []Block, cont Block, g *graph.DirectedGraph[Block], preds map[Block][]Block) []Block {
	visited := make(map[Block]bool, len(revChain))
	for _, b := range revChain {
		visited[b] = true
	}
	curHead := revChain[len(revChain)-1]
	for len(preds[curHead]) == 1 {
		curHead = preds[curHead][0]
		if visited[curHead] {
			break
		}
		visited[curHead] = true
		headChildren, _ := g.Neighbours(curHead)
		if len(headChildren) != 2 {
			break
		}
		if headChildren[0] == cont || headChildren[1] == cont {
			revChain = append(revChain, curHead)
		} else {
			break
		}
	}
	return revChain
}

func reverseCloned(rev []Block) []Block {
	out := make([]Block, len(rev))
	for i, b := range rev {
		out[len(rev)-1-i] = b
	}
	return out
}

func reduceIfThen(node Block, g *graph.DirectedGraph[Block], preds map[Block][]Block, _ map[Block]bool) (Block, Block, bool) {
	children, _ := g.Neighbours(node)
	if len(children) != 2 {
		return nil, nil, false
	}
	head := node
	cont, then := children[1], children[0]
	contChildren, _ := g.Neighbours(cont)
	thenChildren, _ := g.Neighbours(then)
	contPreds, thenPreds := preds[cont], preds[then]
	if len(contChildren) == 1 && contChildren[0] == then && len(contPreds) == 1 {
		cont, then = then, cont
		contChildren, thenChildren = thenChildren, contChildren
		contPreds, thenPreds = thenPreds, contPreds
	}
	if len(thenChildren) == 1 && thenChildren[0] == cont && len(thenPreds) == 1 {
		childRev := ascendIfChain([]Block{then, head}, cont, g, preds)
		block := newNested(IfThen, reverseCloned(childRev))
		return block, cont, true
	}
	return nil, nil, false
}

func reduceIfElse(node Block, g *graph.DirectedGraph[Block], preds map[Block][]Block, _ map[Block]bool) (Block, Block, bool) {
	nodeChildren, _ := g.Neighbours(node)
	if len(nodeChildren) != 2 {
		return nil, nil, false
	}
	thenb, elseb := nodeChildren[0], nodeChildren[1]
	thenbPreds, elsebPreds := preds[thenb], preds[elseb]
	if len(thenbPreds) > 1 {
		if len(elsebPreds) != 1 {
			return nil, nil, false
		}
		thenb, elseb = elseb, thenb
		elsebPreds = preds[elseb]
	}
	thenbChildren, _ := g.Neighbours(thenb)
	elsebChildren, _ := g.Neighbours(elseb)
	if len(thenbChildren) != 1 || len(elsebChildren) != 1 || thenbChildren[0] != elsebChildren[0] {
		return nil, nil, false
	}
	childRev := ascendIfChain([]Block{elseb, thenb, node}, elseb, g, preds)
	childSet := make(map[Block]bool, len(childRev))
	for _, c := range childRev {
		childSet[c] = true
	}
	for _, p := range elsebPreds {
		if !childSet[p] {
			return nil, nil, false
		}
	}
	block := newNested(IfThenElse, reverseCloned(childRev))
	return block, elsebChildren[0], true
}

func reduceLoop(node Block, g *graph.DirectedGraph[Block], preds map[Block][]Block, loops map[Block]bool) (Block, Block, bool) {
	if !loops[node] || len(preds[node]) <= 1 {
		return nil, nil, false
	}
	headChildren, _ := g.Neighbours(node)
	switch len(headChildren) {
	case 2:
		return findWhile(node, headChildren[0], headChildren[1], g)
	case 1:
		tail := headChildren[0]
		tailChildren, _ := g.Neighbours(tail)
		return findDoWhile(node, tail, tailChildren, g)
	default:
		return nil, nil, false
	}
}

func findWhile(node, next, tail Block, g *graph.DirectedGraph[Block]) (Block, Block, bool) {
	nextChildren, _ := g.Neighbours(next)
	if containsNode(nextChildren, node) {
		next, tail = tail, next
	}
	tailChildren, _ := g.Neighbours(tail)
	if len(tailChildren) == 1 && tailChildren[0] == node {
		return newNested(While, []Block{node, tail}), next, true
	}
	return nil, nil, false
}

func findDoWhile(node, tail Block, tailChildren []Block, g *graph.DirectedGraph[Block]) (Block, Block, bool) {
	if len(tailChildren) != 2 {
		return nil, nil, false
	}
	if !containsNode(tailChildren, node) {
		// type 3/4: one extra node between tail and head.
		post0, _ := g.Neighbours(tailChildren[0])
		post1, _ := g.Neighbours(tailChildren[1])
		var next, postTail Block
		switch {
		case len(post0) == 1 && post0[0] == node:
			postTail, next = tailChildren[0], tailChildren[1]
		case len(post1) == 1 && post1[0] == node:
			postTail, next = tailChildren[1], tailChildren[0]
		default:
			return nil, nil, false
		}
		return newNested(DoWhile, []Block{node, tail, postTail}), next, true
	}
	// type 1/2: head and tail, with or without one extra node.
	next := tailChildren[0]
	if next == node {
		next = tailChildren[1]
	}
	if node != next && tail != next {
		return newNested(DoWhile, []Block{node, tail}), next, true
	}
	return nil, nil, false
}

// remapNodes replaces newNode's children with newNode itself throughout g,
// wires newNode's sole successor to next (if any), drops any predecessor
// sequence node that newNode fully absorbs, and prunes what becomes
// unreachable.
func remapNodes(newNode, next Block, g *graph.DirectedGraph[Block]) *graph.DirectedGraph[Block] {
	if g.Len() == 0 {
		return g
	}
	removeList := make(map[Block]bool, len(newNode.Children())+1)
	for _, c := range newNode.Children() {
		removeList[c] = true
	}
	if newNode.Type() == Sequence {
		for node := range g.Adjacent {
			if node.Type() != Sequence {
				continue
			}
			absorbed := true
			for _, c := range node.Children() {
				if !removeList[c] {
					absorbed = false
					break
				}
			}
			if absorbed {
				removeList[node] = true
			}
		}
	}

	newAdjacency := make(map[Block][]Block, len(g.Adjacent))
	for node, children := range g.Adjacent {
		if removeList[node] {
			continue
		}
		replaced := make([]Block, len(children))
		for i, c := range children {
			if removeList[c] {
				replaced[i] = newNode
			} else {
				replaced[i] = c
			}
		}
		newAdjacency[node] = replaced
	}
	var replacement []Block
	if next != nil {
		replacement = []Block{next}
	}
	newAdjacency[newNode] = replacement

	out := graph.NewDirectedGraph[Block]()
	out.Adjacent = newAdjacency
	oldRoot, _ := g.Root()
	if removeList[oldRoot] {
		out.SetRoot(newNode)
	} else {
		out.SetRoot(oldRoot)
	}

	reached := make(map[Block]bool, len(newAdjacency))
	for _, n := range graph.DFSPreorder[Block](out) {
		reached[n] = true
	}
	var unreachable []Block
	for n := range out.Adjacent {
		if !reached[n] {
			unreachable = append(unreachable, n)
		}
	}
	for _, n := range unreachable {
		delete(out.Adjacent, n)
	}
	return out
}

func deepCopy(cfg *cfganalysis.CFG) *graph.DirectedGraph[Block] {
	out := graph.NewDirectedGraph[Block]()
	if cfg.IsEmpty() {
		return out
	}
	root, _ := cfg.Root()
	wrapped := map[cfganalysis.BasicBlock]Block{}
	get := func(bb cfganalysis.BasicBlock) Block {
		if b, ok := wrapped[bb]; ok {
			return b
		}
		b := &basicBlock{bb: bb}
		wrapped[bb] = b
		return b
	}
	out.SetRoot(get(root))
	visited := map[cfganalysis.BasicBlock]bool{}
	stack := []cfganalysis.BasicBlock{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node] {
			continue
		}
		visited[node] = true
		succs, _ := cfg.Neighbours(node)
		children := make([]Block, 0, len(succs))
		for _, s := range succs {
			children = append(children, get(s))
			stack = append(stack, s)
		}
		out.Adjacent[get(node)] = children
	}
	return out
}

func build(cfg *cfganalysis.CFG) *graph.DirectedGraph[Block] {
	g := deepCopy(cfg)
	reductions := []reduction{reduceSelfLoop, reduceLoop, reduceIfThen, reduceIfElse, reduceSequence}
	for {
		preds := graph.Predecessors[Block](g)
		loops := isLoopMap(graph.SCC[Block](g))
		modified := false
		for _, node := range graph.DFSPostorder[Block](g) {
			for _, r := range reductions {
				newNode, next, ok := r(node, g, preds, loops)
				if ok {
					g = remapNodes(newNode, next, g)
					modified = true
					break
				}
			}
			if modified {
				break
			}
		}
		if !modified {
			break
		}
	}
	return g
}
