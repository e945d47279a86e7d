package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"bcc/internal/cfs"
	"bcc/internal/oracle"
)

// cmdAnalyze builds the denaturated CFG and reduced CFS tree for every
// function reported by an oracle over --in, printing a one-line summary per
// function: whether it reduced fully, its tree depth if so, or its node
// count if it did not (an irreducible "interval" region).
func cmdAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	in := fs.String("in", "", "directory of pre-extracted JSONL (functions.jsonl, cfg_blocks.jsonl, cfg_edges.jsonl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("--in is required")
	}

	o := oracle.JSONLOracle{}
	h, err := o.Open(*in)
	if err != nil {
		return fmt.Errorf("open %s: %w", *in, err)
	}
	if err := o.Analyse(context.Background(), h); err != nil {
		return fmt.Errorf("analyse %s: %w", *in, err)
	}

	names, err := o.FunctionNames(h)
	if err != nil {
		return fmt.Errorf("function names: %w", err)
	}
	funcNames := make([]string, 0, len(names))
	for name := range names {
		funcNames = append(funcNames, name)
	}
	sort.Strings(funcNames)

	for _, name := range funcNames {
		offset := names[name]
		bare, err := o.FunctionCFG(h, offset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s@0x%x: %v\n", name, offset, err)
			continue
		}
		cfg, err := cfgFromBareCFG(bare)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s@0x%x: %v\n", name, offset, err)
			continue
		}
		cfg = cfg.AddSink().RemoveNaturalLoops()
		tree, ok := cfs.New(cfg).Tree()
		if !ok {
			fmt.Printf("%-32s 0x%-8x irreducible (%d nodes)\n", name, offset, cfg.Len())
			continue
		}
		fmt.Printf("%-32s 0x%-8x reduced depth=%d type=%s\n", name, offset, tree.Depth(), cfs.TypeName(tree))
	}
	return nil
}
