package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bcc/internal/dot"
	"bcc/internal/oracle"
)

// cmdRender writes the DOT representation of a single function's
// denaturated CFG to --out (or stdout).
func cmdRender(args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	in := fs.String("in", "", "directory of pre-extracted JSONL")
	offsetStr := fs.String("offset", "", "function entry address, e.g. 0x1000")
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *offsetStr == "" {
		return fmt.Errorf("--in and --offset are required")
	}
	offset, err := strconv.ParseUint(strings.TrimPrefix(*offsetStr, "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("--offset: %w", err)
	}

	o := oracle.JSONLOracle{}
	h, err := o.Open(*in)
	if err != nil {
		return fmt.Errorf("open %s: %w", *in, err)
	}
	if err := o.Analyse(context.Background(), h); err != nil {
		return fmt.Errorf("analyse %s: %w", *in, err)
	}

	bare, err := o.FunctionCFG(h, offset)
	if err != nil {
		return fmt.Errorf("function cfg 0x%x: %w", offset, err)
	}
	cfg, err := cfgFromBareCFG(bare)
	if err != nil {
		return fmt.Errorf("build cfg 0x%x: %w", offset, err)
	}
	cfg = cfg.AddSink().RemoveNaturalLoops()

	doc := dot.Serialize(cfg)

	if *out == "" {
		_, err = fmt.Fprint(os.Stdout, doc)
		return err
	}
	return os.WriteFile(*out, []byte(doc), 0o644)
}
