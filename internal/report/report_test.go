package report

import (
	"bytes"
	"strings"
	"testing"

	"bcc/internal/arch"
	"bcc/internal/cfganalysis"
	"bcc/internal/cfs"
	"bcc/internal/clone"
	"bcc/internal/stmt"
)

func buildTree(t *testing.T) cfs.Block {
	t.Helper()
	stmts := []stmt.Statement{
		stmt.New(0x00, stmt.UNK, "test eax, eax"),
		stmt.New(0x04, stmt.UNK, "jne 0x10"),
		stmt.New(0x08, stmt.UNK, "add ebx, 1"),
		stmt.New(0x0C, stmt.UNK, "jmp 0x14"),
		stmt.New(0x10, stmt.UNK, "sub ebx, 1"),
		stmt.New(0x14, stmt.UNK, "ret"),
	}
	cfg := cfganalysis.New(stmts, arch.NewAMD64()).AddSink()
	tree, ok := cfs.New(cfg).Tree()
	if !ok {
		t.Fatal("expected a fully reduced tree")
	}
	return tree
}

func sampleClasses(t *testing.T) []clone.CloneClass {
	t.Helper()
	tree := buildTree(t)
	comparator := clone.NewComparator(1)
	comparator.Insert(tree, "bin-a", "a")
	comparator.Insert(tree, "bin-b", "b")
	classes := comparator.Clones()
	if len(classes) == 0 {
		t.Fatal("expected at least one clone class for an identical function")
	}
	return classes
}

func TestWriteTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, nil); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if !strings.Contains(buf.String(), "no clones found") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWriteTextAndCSV(t *testing.T) {
	classes := sampleClasses(t)

	var text bytes.Buffer
	if err := WriteText(&text, classes); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	out := text.String()
	if !strings.Contains(out, "CLONE CLASS") {
		t.Errorf("text output missing clone class header: %q", out)
	}
	if !strings.Contains(out, "bin-a :: a") {
		t.Errorf("text output missing first occurrence: %q", out)
	}
	if !strings.Contains(out, "bin-b :: b") {
		t.Errorf("text output missing second occurrence: %q", out)
	}

	var csvBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, classes); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(csvBuf.String()), "\n")
	wantRows := 1
	for _, c := range classes {
		wantRows += c.Len()
	}
	if len(lines) != wantRows {
		t.Fatalf("got %d lines, want %d (header + occurrence rows)", len(lines), wantRows)
	}
	if lines[0] != "binary,function,clone_class_id,class_depth,basic_blocks" {
		t.Errorf("header = %q", lines[0])
	}
}

func TestSortByDepthDescending(t *testing.T) {
	classes := sampleClasses(t)
	sorted := Sort(classes, SortByDepth)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Depth() < sorted[i].Depth() {
			t.Errorf("not sorted descending at %d: %d < %d", i, sorted[i-1].Depth(), sorted[i].Depth())
		}
	}
}

func TestSortByNameStable(t *testing.T) {
	classes := sampleClasses(t)
	sorted := Sort(classes, SortByName)
	for i := 1; i < len(sorted); i++ {
		if firstMember(sorted[i-1]) > firstMember(sorted[i]) {
			t.Errorf("not sorted by name at %d", i)
		}
	}
}
