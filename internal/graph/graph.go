// Package graph provides generic, iterative traversal algorithms over any
// rooted directed graph exposing a small capability set. Both the CFG
// (ordered [fallthrough, taken] adjacency) and the CFS reducer graph
// (positional list adjacency) satisfy Graph.
package graph

// Graph is the capability bound every traversal in this package requires:
// a root, a neighbour lookup, and a node count. It is intentionally a
// generic constraint rather than an interface hierarchy with embedding.
type Graph[T comparable] interface {
	// Root returns the entry node, or ok=false for an empty graph.
	Root() (node T, ok bool)
	// Neighbours returns node's successors in adjacency order, or
	// ok=false if node does not belong to the graph.
	Neighbours(node T) (succs []T, ok bool)
	// Len returns the number of nodes in the graph.
	Len() int
}

// BFS returns nodes reachable from the root in breadth-first order.
func BFS[T comparable](g Graph[T]) []T {
	root, ok := g.Root()
	if !ok {
		return nil
	}
	marked := map[T]bool{root: true}
	queue := []T{root}
	var order []T
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		succs, _ := g.Neighbours(node)
		for _, s := range succs {
			if !marked[s] {
				marked[s] = true
				queue = append(queue, s)
			}
		}
	}
	return order
}

// DFSPreorder returns nodes reachable from the root in depth-first
// pre-order, using an explicit stack (no recursion).
func DFSPreorder[T comparable](g Graph[T]) []T {
	root, ok := g.Root()
	if !ok {
		return nil
	}
	marked := map[T]bool{}
	stack := []T{root}
	var order []T
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if marked[node] {
			continue
		}
		marked[node] = true
		order = append(order, node)
		succs, _ := g.Neighbours(node)
		for i := len(succs) - 1; i >= 0; i-- {
			if !marked[succs[i]] {
				stack = append(stack, succs[i])
			}
		}
	}
	return order
}

// DFSPostorder returns nodes reachable from the root in depth-first
// post-order, using an explicit stack (no recursion).
func DFSPostorder[T comparable](g Graph[T]) []T {
	root, ok := g.Root()
	if !ok {
		return nil
	}
	type frame struct {
		node    T
		visited bool
	}
	marked := map[T]bool{}
	stack := []frame{{root, false}}
	var order []T
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.visited {
			order = append(order, top.node)
			continue
		}
		if marked[top.node] {
			continue
		}
		marked[top.node] = true
		stack = append(stack, frame{top.node, true})
		succs, _ := g.Neighbours(top.node)
		for i := len(succs) - 1; i >= 0; i-- {
			if !marked[succs[i]] {
				stack = append(stack, frame{succs[i], false})
			}
		}
	}
	return order
}

// Predecessors builds the inverse adjacency map via a single DFS-preorder
// pass. Every node reachable from the root gets an entry, even if its
// predecessor set is empty.
func Predecessors[T comparable](g Graph[T]) map[T][]T {
	preds := make(map[T][]T)
	for _, node := range DFSPreorder(g) {
		if _, ok := preds[node]; !ok {
			preds[node] = nil
		}
		succs, _ := g.Neighbours(node)
		for _, s := range succs {
			preds[s] = append(preds[s], node)
		}
	}
	return preds
}

// DirectedGraph is a concrete adjacency-map implementation of Graph.
type DirectedGraph[T comparable] struct {
	root     T
	hasRoot  bool
	Adjacent map[T][]T
}

// NewDirectedGraph builds an empty DirectedGraph.
func NewDirectedGraph[T comparable]() *DirectedGraph[T] {
	return &DirectedGraph[T]{Adjacent: make(map[T][]T)}
}

// SetRoot designates node as the graph's root.
func (d *DirectedGraph[T]) SetRoot(node T) {
	d.root = node
	d.hasRoot = true
}

func (d *DirectedGraph[T]) Root() (T, bool) {
	return d.root, d.hasRoot
}

func (d *DirectedGraph[T]) Neighbours(node T) ([]T, bool) {
	succs, ok := d.Adjacent[node]
	return succs, ok
}

func (d *DirectedGraph[T]) Len() int {
	return len(d.Adjacent)
}

// sccState is internal per-node Tarjan bookkeeping.
type sccState struct {
	index, lowlink int
	onStack        bool
	visited        bool
}

// callFrame simulates one recursive scc(v) activation: pi tracks how far
// through v's adjacency list we have progressed.
type callFrame struct {
	v  int
	pi int
}

// SCC computes Tarjan's strongly connected components iteratively (an
// explicit call stack simulates recursion, so deep graphs never overflow
// the Go stack). It returns a map from node to a dense SCC id.
func SCC[T comparable](g Graph[T]) map[T]int {
	nodes := DFSPreorder(g)
	ids := make(map[T]int, len(nodes))
	for i, n := range nodes {
		ids[n] = i
	}
	adj := make([][]int, len(nodes))
	for i, n := range nodes {
		succs, _ := g.Neighbours(n)
		for _, s := range succs {
			if j, ok := ids[s]; ok {
				adj[i] = append(adj[i], j)
			}
		}
	}

	state := make([]sccState, len(nodes))
	var stack []int // nodes currently on the Tarjan stack
	nextSCC := 0
	nextDiscoveryIndex := 0
	sccOf := make([]int, len(nodes))
	for i := range sccOf {
		sccOf[i] = -1
	}

	for start := range nodes {
		if state[start].visited {
			continue
		}
		callStack := []callFrame{{v: start, pi: 0}}
		for len(callStack) > 0 {
			top := &callStack[len(callStack)-1]
			v := top.v
			if top.pi == 0 {
				state[v].index = nextDiscoveryIndex
				state[v].lowlink = nextDiscoveryIndex
				nextDiscoveryIndex++
				state[v].visited = true
				state[v].onStack = true
				stack = append(stack, v)
			}
			recursed := false
			for top.pi < len(adj[v]) {
				w := adj[v][top.pi]
				top.pi++
				if !state[w].visited {
					callStack = append(callStack, callFrame{v: w, pi: 0})
					recursed = true
					break
				} else if state[w].onStack {
					if state[w].index < state[v].lowlink {
						state[v].lowlink = state[w].index
					}
				}
			}
			if recursed {
				continue
			}
			if state[v].lowlink == state[v].index {
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					state[w].onStack = false
					sccOf[w] = nextSCC
					if w == v {
						break
					}
				}
				nextSCC++
			}
			callStack = callStack[:len(callStack)-1]
			if len(callStack) > 0 {
				parent := &callStack[len(callStack)-1]
				if state[v].lowlink < state[parent.v].lowlink {
					state[parent.v].lowlink = state[v].lowlink
				}
			}
		}
	}

	result := make(map[T]int, len(nodes))
	for i, n := range nodes {
		result[n] = sccOf[i]
	}
	return result
}
