package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"bcc/internal/cfs"
	"bcc/internal/clone"
	"bcc/internal/oracle"
	"bcc/internal/report"
	"bcc/internal/schedule"
)

// cmdClones finds structurally cloned control-flow regions across every
// sample subdirectory of --samples, each holding one binary's JSONL dump.
func cmdClones(args []string) error {
	fs := flag.NewFlagSet("clones", flag.ExitOnError)
	samples := fs.String("samples", "", "directory containing one JSONL subdirectory per binary")
	mindepth := fs.Uint("mindepth", 2, "minimum clone-subtree depth to report")
	csvOut := fs.Bool("csv", false, "emit the report as CSV")
	sortKey := fs.String("sort", "depth", "sort key: depth or name")
	out := fs.String("out", "", "output file (default stdout)")
	limit := fs.Int("limit", 4, "maximum concurrent per-binary analysis tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *samples == "" {
		return fmt.Errorf("--samples is required")
	}

	entries, err := os.ReadDir(*samples)
	if err != nil {
		return fmt.Errorf("read samples dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}

	comparator := clone.NewComparator(uint32(*mindepth))
	var guard schedule.MergeGuard

	o := oracle.JSONLOracle{}
	tasks := make([]schedule.Task, len(names))
	for i, name := range names {
		dir := filepath.Join(*samples, name)
		sampleName := name
		tasks[i] = schedule.Task{
			Name: sampleName,
			Run: func(ctx context.Context) error {
				funcs, err := treesForSample(o, dir)
				if err != nil {
					return err
				}
				for _, fn := range funcs {
					guard.Do(func() {
						comparator.Insert(fn.tree, sampleName, fn.name)
					})
				}
				return nil
			},
		}
	}

	results := schedule.Pool{Limit: *limit}.Run(context.Background(), tasks)
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.Name, r.Err)
		}
	}

	var key report.SortKey
	if *sortKey == "name" {
		key = report.SortByName
	}
	sorted := report.Sort(comparator.Clones(), key)

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create %s: %w", *out, err)
		}
		defer f.Close()
		w = f
	}

	if *csvOut {
		return report.WriteCSV(w, sorted)
	}
	return report.WriteText(w, sorted)
}

// namedTree pairs a reduced CFS tree with the name of the function it was
// built from.
type namedTree struct {
	name string
	tree cfs.Block
}

// treesForSample builds a reduced CFS tree for every function in a single
// JSONL-backed binary dump. Functions that do not fully reduce are skipped:
// an irreducible function offers no comparable clone boundary.
func treesForSample(o oracle.JSONLOracle, dir string) ([]namedTree, error) {
	h, err := o.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	if err := o.Analyse(context.Background(), h); err != nil {
		return nil, fmt.Errorf("analyse %s: %w", dir, err)
	}

	names, err := o.FunctionNames(h)
	if err != nil {
		return nil, fmt.Errorf("function names %s: %w", dir, err)
	}
	byOffset := make(map[uint64]string, len(names))
	for name, offset := range names {
		byOffset[offset] = name
	}

	offsets, err := o.FunctionOffsets(h)
	if err != nil {
		return nil, fmt.Errorf("function offsets %s: %w", dir, err)
	}

	var funcs []namedTree
	for _, offset := range offsets {
		bare, err := o.FunctionCFG(h, offset)
		if err != nil {
			continue
		}
		cfg, err := cfgFromBareCFG(bare)
		if err != nil {
			continue
		}
		cfg = cfg.AddSink().RemoveNaturalLoops()
		tree, ok := cfs.New(cfg).Tree()
		if !ok {
			continue
		}
		name := byOffset[offset]
		if name == "" {
			name = fmt.Sprintf("0x%x", offset)
		}
		funcs = append(funcs, namedTree{name: name, tree: tree})
	}
	return funcs, nil
}
