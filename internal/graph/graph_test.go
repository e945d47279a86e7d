package graph

import (
	"reflect"
	"sort"
	"testing"
)

// sample builds the 7-node fixture 0=>[1,2],1=>[6],2=>[3,4],3=>[5],4=>[5],5=>[6],6=>[].
func sample() *DirectedGraph[int] {
	g := NewDirectedGraph[int]()
	g.SetRoot(0)
	g.Adjacent[0] = []int{1, 2}
	g.Adjacent[1] = []int{6}
	g.Adjacent[2] = []int{3, 4}
	g.Adjacent[3] = []int{5}
	g.Adjacent[4] = []int{5}
	g.Adjacent[5] = []int{6}
	g.Adjacent[6] = []int{}
	return g
}

func TestBFSOrder(t *testing.T) {
	got := BFS[int](sample())
	want := []int{0, 1, 2, 6, 3, 4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BFS = %v, want %v", got, want)
	}
}

func TestDFSPreorder(t *testing.T) {
	got := DFSPreorder[int](sample())
	want := []int{0, 1, 6, 2, 3, 5, 4}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DFSPreorder = %v, want %v", got, want)
	}
}

func TestDFSPostorder(t *testing.T) {
	got := DFSPostorder[int](sample())
	want := []int{6, 1, 5, 3, 4, 2, 0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DFSPostorder = %v, want %v", got, want)
	}
}

func TestPredecessorsOfFive(t *testing.T) {
	preds := Predecessors[int](sample())
	got := append([]int{}, preds[5]...)
	sort.Ints(got)
	want := []int{3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Predecessors[5] = %v, want %v", got, want)
	}
}

func TestPredecessorsEveryNodeHasEntry(t *testing.T) {
	g := sample()
	preds := Predecessors[int](g)
	for n := range g.Adjacent {
		if _, ok := preds[n]; !ok {
			t.Errorf("node %d missing from predecessors map", n)
		}
	}
}

func TestSCCAcyclic(t *testing.T) {
	ids := SCC[int](sample())
	// No cycles: every node is in its own singleton SCC.
	seen := map[int]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("expected all-singleton SCCs in an acyclic graph, found duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestSCCCycle(t *testing.T) {
	// Mutate the sample to introduce a cycle: 4=>[2], 5=>[4,6].
	g := sample()
	g.Adjacent[4] = []int{2}
	g.Adjacent[5] = []int{4, 6}
	ids := SCC[int](g)
	if ids[2] != ids[3] || ids[2] != ids[4] || ids[2] != ids[5] {
		t.Errorf("expected 2,3,4,5 in the same SCC, got %v %v %v %v", ids[2], ids[3], ids[4], ids[5])
	}
	if ids[0] == ids[2] || ids[1] == ids[2] || ids[6] == ids[2] {
		t.Errorf("expected 0,1,6 outside the cyclic SCC")
	}
}
