package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
}

// writeSampleDir writes a two-function JSONL bundle: "plain" is a straight
// line sequence, "branchy" is an if/then. Both are fully reducible CFS
// trees, so analyze/render/clones all have something to chew on.
func writeSampleDir(t *testing.T, dir string) {
	t.Helper()
	writeLines(t, filepath.Join(dir, "functions.jsonl"), []string{
		`{"pc":"0x1000","size":16,"name":"plain"}`,
		`{"pc":"0x2000","size":20,"name":"branchy"}`,
	})
	writeLines(t, filepath.Join(dir, "cfg_blocks.jsonl"), []string{
		`{"func_pc":"0x1000","pc":"0x1000","length":4}`,
		`{"func_pc":"0x1000","pc":"0x1004","length":4}`,
		`{"func_pc":"0x1000","pc":"0x1008","length":4}`,

		`{"func_pc":"0x2000","pc":"0x2000","length":4}`,
		`{"func_pc":"0x2000","pc":"0x2004","length":4}`,
		`{"func_pc":"0x2000","pc":"0x2008","length":4}`,
		`{"func_pc":"0x2000","pc":"0x200c","length":4}`,
	})
	writeLines(t, filepath.Join(dir, "cfg_edges.jsonl"), []string{
		`{"func_pc":"0x1000","from_pc":"0x1000","to_pc":"0x1004"}`,
		`{"func_pc":"0x1000","from_pc":"0x1004","to_pc":"0x1008"}`,

		`{"func_pc":"0x2000","from_pc":"0x2000","to_pc":"0x2004"}`,
		`{"func_pc":"0x2000","from_pc":"0x2000","to_pc":"0x2008"}`,
		`{"func_pc":"0x2000","from_pc":"0x2004","to_pc":"0x2008"}`,
		`{"func_pc":"0x2000","from_pc":"0x2008","to_pc":"0x200c"}`,
	})
}

func TestCmdAnalyzeRequiresIn(t *testing.T) {
	if err := cmdAnalyze(nil); err == nil {
		t.Error("expected an error when --in is missing")
	}
}

func TestCmdAnalyzeReportsReducedFunctions(t *testing.T) {
	dir := t.TempDir()
	writeSampleDir(t, dir)

	if err := cmdAnalyze([]string{"--in", dir}); err != nil {
		t.Fatalf("cmdAnalyze: %v", err)
	}
}

func TestCmdRenderWritesDOT(t *testing.T) {
	dir := t.TempDir()
	writeSampleDir(t, dir)
	outFile := filepath.Join(t.TempDir(), "out.dot")

	if err := cmdRender([]string{"--in", dir, "--offset", "0x1000", "--out", outFile}); err != nil {
		t.Fatalf("cmdRender: %v", err)
	}
	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Contains(data, []byte("digraph{")) {
		t.Errorf("output missing digraph header: %q", data)
	}
}

func TestCmdClonesFindsCrossBinaryClone(t *testing.T) {
	root := t.TempDir()
	for _, sample := range []string{"sample_a", "sample_b"} {
		dir := filepath.Join(root, sample)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		writeSampleDir(t, dir)
	}

	outFile := filepath.Join(t.TempDir(), "clones.txt")
	if err := cmdClones([]string{"--samples", root, "--mindepth", "1", "--out", outFile}); err != nil {
		t.Fatalf("cmdClones: %v", err)
	}
	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if bytes.Contains(data, []byte("no clones found")) {
		t.Errorf("expected clones between identical sample_a/sample_b functions, got: %q", data)
	}
	if !bytes.Contains(data, []byte("sample_a :: plain")) || !bytes.Contains(data, []byte("sample_b :: plain")) {
		t.Errorf("expected a plain/plain clone class, got: %q", data)
	}
}

func TestCmdClonesCSV(t *testing.T) {
	root := t.TempDir()
	for _, sample := range []string{"sample_a", "sample_b"} {
		dir := filepath.Join(root, sample)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		writeSampleDir(t, dir)
	}

	outFile := filepath.Join(t.TempDir(), "clones.csv")
	if err := cmdClones([]string{"--samples", root, "--mindepth", "1", "--csv", "--out", outFile}); err != nil {
		t.Fatalf("cmdClones: %v", err)
	}
	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("binary,function,clone_class_id,class_depth,basic_blocks")) {
		t.Errorf("expected a CSV header, got: %q", data)
	}
}
