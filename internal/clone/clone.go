// Package clone detects structurally identical control-flow regions across
// functions by comparing their reduced control-flow structure trees.
package clone

import (
	"log"
	"sort"

	"bcc/internal/cfs"
)

// Interner assigns a stable 32-bit id to each distinct string it sees,
// matching the (bin_id, function_id) encoding the original comparator uses
// in place of repeating binary/function names in every candidate.
type Interner struct {
	ids   map[string]uint32
	names []string
}

// NewInterner creates an empty Interner.
func NewInterner() *Interner {
	return &Interner{ids: make(map[string]uint32)}
}

// Intern returns s's id, assigning the next sequential id the first time s
// is seen.
func (in *Interner) Intern(s string) uint32 {
	if id, ok := in.ids[s]; ok {
		return id
	}
	id := uint32(len(in.names))
	in.ids[s] = id
	in.names = append(in.names, s)
	return id
}

// Name returns the string previously interned as id.
func (in *Interner) Name(id uint32) string { return in.names[id] }

// CloneCandidate is one structure subtree considered for clone membership:
// a node at or above the comparator's depth threshold, tagged with the
// binary and function it came from.
type CloneCandidate struct {
	BinaryID   uint32
	FunctionID uint32
	Structure  cfs.Block
}

// CloneClass is a non-singleton bucket of candidates whose structures share
// a structural hash and are pairwise structurally equal: parallel vectors
// of binary names, function names, and structure nodes, one triple per
// occurrence.
type CloneClass struct {
	Binaries   []string
	Functions  []string
	Structures []cfs.Block
}

// Len returns the number of occurrences in the class.
func (c CloneClass) Len() int { return len(c.Structures) }

// Depth returns the shared nesting depth of the cloned structure, taken
// from the first occurrence; every occurrence in a class has the same
// structural shape and therefore the same depth.
func (c CloneClass) Depth() uint32 {
	if len(c.Structures) == 0 {
		return 0
	}
	return c.Structures[0].Depth()
}

// Nth returns the binary name, function name, and structure of the class's
// occurrence at index, or ok=false if index is out of range.
func (c CloneClass) Nth(index int) (binary, function string, tree cfs.Block, ok bool) {
	if index < 0 || index >= len(c.Structures) {
		return "", "", nil, false
	}
	return c.Binaries[index], c.Functions[index], c.Structures[index], true
}

// Comparator accumulates structurally-hashed subtrees across calls to
// Insert, bucketing them by structural hash; Clones reports every bucket
// that grew to two or more structurally-equal occurrences. mindepth bounds
// how shallow a subtree may be and still be considered: depth 0 (every
// basic block) would otherwise report a clone class per matching
// instruction.
type Comparator struct {
	hashes   map[uint64][]CloneCandidate
	names    *Interner
	mindepth uint32
}

// NewComparator creates an empty Comparator with the given minimum subtree
// depth.
func NewComparator(mindepth uint32) *Comparator {
	return &Comparator{
		hashes:   make(map[uint64][]CloneCandidate),
		names:    NewInterner(),
		mindepth: mindepth,
	}
}

// Insert walks every subtree of tree at or above mindepth, structurally
// hashing each and appending it to its hash bucket under the interned
// (binary, function) identifier pair. The actual clone comparison happens
// later, in Clones, once every function has been inserted.
func (c *Comparator) Insert(tree cfs.Block, binaryName, functionName string) {
	binID := c.names.Intern(binaryName)
	funcID := c.names.Intern(functionName)
	stack := []cfs.Block{tree}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node.Depth() >= c.mindepth {
			hash := cfs.StructuralHash(node)
			c.hashes[hash] = append(c.hashes[hash], CloneCandidate{
				BinaryID:   binID,
				FunctionID: funcID,
				Structure:  node,
			})
			stack = append(stack, node.Children()...)
		}
	}
}

// Clones reports one CloneClass per hash bucket with two or more
// structurally-equal occurrences, with nested duplicate classes (the same
// set of occurrences restated at a shallower nesting depth) suppressed.
func (c *Comparator) Clones() []CloneClass {
	var classes []CloneClass
	for hash, bucket := range c.hashes {
		if len(bucket) < 2 {
			continue
		}
		base := bucket[0].Structure
		var class CloneClass
		for _, cand := range bucket {
			if !cfs.StructuralEquality(base, cand.Structure) {
				log.Printf("clone: hash collision %#x with structurally different trees", hash)
				continue
			}
			class.Binaries = append(class.Binaries, c.names.Name(cand.BinaryID))
			class.Functions = append(class.Functions, c.names.Name(cand.FunctionID))
			class.Structures = append(class.Structures, cand.Structure)
		}
		if class.Len() >= 2 {
			classes = append(classes, class)
		}
	}
	return removeOverlapping(classes)
}

// removeOverlapping drops a class if a deeper class already reports a
// superset restatement of the same clone relationship: every occurrence in
// the shallower class is a strict subtree, at the same (binary, function),
// of the matching occurrence in the deeper class. Such a class adds no
// information beyond the deeper one. O(n^2); clone-class lists are expected
// to stay small.
func removeOverlapping(classes []CloneClass) []CloneClass {
	sorted := append([]CloneClass(nil), classes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Depth() > sorted[j].Depth() })

	removed := make([]bool, len(sorted))
	for i, current := range sorted {
		if removed[i] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if removed[j] {
				continue
			}
			candidate := sorted[j]
			if current.Depth() != candidate.Depth() && overlaps(current, candidate) {
				removed[j] = true
			}
		}
	}
	var out []CloneClass
	for i, c := range sorted {
		if !removed[i] {
			out = append(out, c)
		}
	}
	return out
}

// overlaps reports whether every occurrence of b is nested inside the
// matching (same binary, same function) occurrence of a. a and b must have
// the same number of occurrences for this to hold.
func overlaps(a, b CloneClass) bool {
	if a.Len() != b.Len() {
		return false
	}
	parents := make(map[[2]string]cfs.Block, a.Len())
	for i := range a.Structures {
		parents[[2]string{a.Binaries[i], a.Functions[i]}] = a.Structures[i]
	}
	for i := range b.Structures {
		parent, ok := parents[[2]string{b.Binaries[i], b.Functions[i]}]
		if !ok || !containsOffset(parent.Children(), b.Structures[i].Offset()) {
			return false
		}
	}
	return true
}

func containsOffset(children []cfs.Block, offset uint64) bool {
	stack := append([]cfs.Block(nil), children...)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node.Offset() == offset {
			return true
		}
		stack = append(stack, node.Children()...)
	}
	return false
}
