package cfs

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// StructuralHash hashes a Block by its shape and block-type sequence alone
// (post-order: children first, then this node's type), ignoring offsets.
// Two structurally identical trees hash identically regardless of where in
// the binary they occur.
func StructuralHash(b Block) uint64 {
	d := xxhash.New()
	hashInto(b, d)
	return d.Sum64()
}

func hashInto(b Block, d *xxhash.Digest) {
	for _, c := range b.Children() {
		hashInto(c, d)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(b.Type()))
	_, _ = d.Write(buf[:])
}

// StructuralEquality reports whether a and b have the same block type and
// recursively structurally-equal children, ignoring concrete offsets.
func StructuralEquality(a, b Block) bool {
	if a.Type() != b.Type() {
		return false
	}
	ca, cb := a.Children(), b.Children()
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if !StructuralEquality(ca[i], cb[i]) {
			return false
		}
	}
	return true
}
