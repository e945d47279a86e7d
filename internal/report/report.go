// Package report renders clone-detection results as human-readable text or
// CSV, mirroring the plain fmt.Fprintf-based table building used elsewhere
// in this codebase rather than a template engine.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"bcc/internal/cfs"
	"bcc/internal/clone"
)

// SortKey selects the ordering Sort applies to a clone-class list.
type SortKey int

const (
	// SortByDepth orders the largest (deepest) clone classes first.
	SortByDepth SortKey = iota
	// SortByName orders alphabetically by the first occurrence's
	// "binary:function" identifier.
	SortByName
)

// Sort returns classes ordered by key; the input slice is not modified.
func Sort(classes []clone.CloneClass, key SortKey) []clone.CloneClass {
	sorted := append([]clone.CloneClass(nil), classes...)
	switch key {
	case SortByName:
		sort.SliceStable(sorted, func(i, j int) bool { return firstMember(sorted[i]) < firstMember(sorted[j]) })
	default:
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Depth() > sorted[j].Depth() })
	}
	return sorted
}

// firstMember identifies a class by its first occurrence, for name sorting.
func firstMember(c clone.CloneClass) string {
	bin, fn, _, ok := c.Nth(0)
	if !ok {
		return ""
	}
	return bin + ":" + fn
}

// WriteText renders classes as one "----- CLONE CLASS (depth) -----" header
// per class, followed by one "binary :: function [0xoff,0xoff,...]" line
// per occurrence, listing the offsets of its contributing non-sink basic
// blocks.
func WriteText(w io.Writer, classes []clone.CloneClass) error {
	if len(classes) == 0 {
		_, err := fmt.Fprintln(w, "no clones found")
		return err
	}
	for _, class := range classes {
		if _, err := fmt.Fprintf(w, "----- CLONE CLASS (%d) -----\n", class.Depth()); err != nil {
			return err
		}
		for i := 0; i < class.Len(); i++ {
			bin, fn, tree, _ := class.Nth(i)
			if _, err := fmt.Fprintf(w, "%s :: %s %s\n", bin, fn, formatOffsets(blockOffsets(tree))); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteCSV renders classes as CSV: binary,function,clone_class_id,
// class_depth,basic_blocks — one row per occurrence, clone_class_id
// assigned in output order.
func WriteCSV(w io.Writer, classes []clone.CloneClass) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"binary", "function", "clone_class_id", "class_depth", "basic_blocks"}); err != nil {
		return err
	}
	for classID, class := range classes {
		for i := 0; i < class.Len(); i++ {
			bin, fn, tree, _ := class.Nth(i)
			record := []string{
				bin,
				fn,
				strconv.Itoa(classID),
				strconv.FormatUint(uint64(class.Depth()), 10),
				formatOffsets(blockOffsets(tree)),
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// blockOffsets collects the offsets of every non-sink basic block
// contributing to tree, in ascending order.
func blockOffsets(tree cfs.Block) []uint64 {
	var offsets []uint64
	stack := []cfs.Block{tree}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if bb, ok := cfs.AsBasicBlock(node); ok {
			if !bb.IsSink() {
				offsets = append(offsets, bb.First)
			}
			continue
		}
		stack = append(stack, node.Children()...)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// formatOffsets renders offsets as "[0xoff,0xoff,...]", or "" if empty.
func formatOffsets(offsets []uint64) string {
	if len(offsets) == 0 {
		return ""
	}
	parts := make([]string, len(offsets))
	for i, o := range offsets {
		parts[i] = fmt.Sprintf("0x%x", o)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
