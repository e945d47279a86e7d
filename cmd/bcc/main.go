// Command bcc finds structurally cloned control-flow regions across
// disassembled binaries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "analyze":
		err = cmdAnalyze(os.Args[2:])
	case "render":
		err = cmdRender(os.Args[2:])
	case "clones":
		err = cmdClones(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `bcc — binary structural clone detector

Usage:
  bcc analyze --in <dir>                          Build CFS trees for every function, report reduction stats
  bcc render  --in <dir> --offset <hex> [--out <file>]  Render a function's denaturated CFG as DOT
  bcc clones  --samples <dir> [--mindepth <n>] [--csv] [--sort depth|name] [--out <file>]
                                                   Find clones across every sample subdirectory

Flags:
  --in <dir>        Directory of pre-extracted JSONL (functions.jsonl, statements.jsonl, cfg_*.jsonl)
  --samples <dir>   Directory containing one subdirectory of JSONL per binary
  --offset <hex>    Function entry address, e.g. 0x1000
  --mindepth <n>    Minimum clone-subtree depth to report (default 2)
  --csv             Emit the clones report as CSV instead of text
  --sort <key>      depth (default) or name
  --out <file>      Write output to file instead of stdout
  --limit <n>       Maximum concurrent per-binary analysis tasks (clones only, default 4)
`)
}
