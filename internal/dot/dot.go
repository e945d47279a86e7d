// Package dot serializes and parses the per-function CFG as Graphviz DOT,
// carrying the basic-block offset metadata a plain .dot file would lose.
package dot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"bcc/internal/cfganalysis"
)

// ErrMalformed indicates a DOT document that does not match the expected
// node/edge grammar, or whose edges reference undeclared node ids.
var ErrMalformed = errors.New("dot: malformed cfg document")

// Serialize renders cfg as DOT. Node ids are a dense 0-based preorder
// numbering; each node carries a comment="(first,last)" attribute; sink and
// entry sentinels get shape="point"; conditional edges get
// arrowhead="empty".
func Serialize(cfg *cfganalysis.CFG) string {
	ids := cfg.NodeIDMap()
	var nodeLines, edgeLines []string
	for node, children := range cfg.Edges {
		id, ok := ids[node]
		if !ok {
			continue
		}
		shape := ""
		if node.IsEntryPoint() || node.IsSink() {
			shape = `,shape="point"`
		}
		nodeLines = append(nodeLines, fmt.Sprintf(`%d[comment="(%d,%d)"%s];`, id, node.First, node.Last, shape))
		if next := children[0]; next != nil {
			if nid, ok := ids[*next]; ok {
				edgeLines = append(edgeLines, fmt.Sprintf("%d->%d", id, nid))
			}
		}
		if cond := children[1]; cond != nil {
			if cid, ok := ids[*cond]; ok {
				edgeLines = append(edgeLines, fmt.Sprintf(`%d->%d[arrowhead="empty"];`, id, cid))
			}
		}
	}
	return fmt.Sprintf("digraph{\n%s\n%s\n}\n", strings.Join(nodeLines, "\n"), strings.Join(edgeLines, "\n"))
}

var nodeRe = regexp.MustCompile(`^(\d+)\[comment="\((\d+),(\d+)\)"(?:,shape="point")?\];$`)
var edgeRe = regexp.MustCompile(`^(\d+)->(\d+)(\[.*\];)?$`)

// Parse reconstructs a CFG from a document produced by Serialize. Unknown
// lines between the digraph{ header and the closing } are ignored.
func Parse(doc string) (*cfganalysis.CFG, error) {
	lines := strings.Split(doc, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "digraph{" {
		return nil, fmt.Errorf("%w: missing digraph header", ErrMalformed)
	}
	lines = lines[1:]

	type nodeEntry struct {
		bb cfganalysis.BasicBlock
	}
	nodes := map[int]nodeEntry{}
	edgesNext := map[int]int{}
	edgesCond := map[int]int{}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "}" || line == "" {
			continue
		}
		if m := nodeRe.FindStringSubmatch(line); m != nil {
			id, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			first, err := strconv.ParseUint(m[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			last, err := strconv.ParseUint(m[3], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			nodes[id] = nodeEntry{bb: cfganalysis.BasicBlock{First: first, Last: last}}
		} else if m := edgeRe.FindStringSubmatch(line); m != nil {
			from, _ := strconv.Atoi(m[1])
			to, _ := strconv.Atoi(m[2])
			if m[3] == "" {
				edgesNext[from] = to
			} else {
				edgesCond[from] = to
			}
		}
		// anything else is ignored, matching the original's "super dumb" parser.
	}

	edges := map[cfganalysis.BasicBlock][2]*cfganalysis.BasicBlock{}
	for srcID, dstID := range edgesNext {
		src, ok := nodes[srcID]
		if !ok {
			return nil, fmt.Errorf("%w: edge from unknown node %d", ErrMalformed, srcID)
		}
		dst, ok := nodes[dstID]
		if !ok {
			return nil, fmt.Errorf("%w: edge to unknown node %d", ErrMalformed, dstID)
		}
		dstCopy := dst.bb
		edges[src.bb] = [2]*cfganalysis.BasicBlock{&dstCopy, nil}
	}
	for srcID, dstID := range edgesCond {
		src, ok := nodes[srcID]
		if !ok {
			return nil, fmt.Errorf("%w: edge from unknown node %d", ErrMalformed, srcID)
		}
		dst, ok := nodes[dstID]
		if !ok {
			return nil, fmt.Errorf("%w: edge to unknown node %d", ErrMalformed, dstID)
		}
		existing := edges[src.bb]
		dstCopy := dst.bb
		existing[1] = &dstCopy
		edges[src.bb] = existing
	}
	for _, entry := range nodes {
		if _, ok := edges[entry.bb]; !ok {
			edges[entry.bb] = [2]*cfganalysis.BasicBlock{nil, nil}
		}
	}

	result := &cfganalysis.CFG{Edges: edges}
	if root, ok := nodes[0]; ok {
		rootCopy := root.bb
		result.SetRoot(&rootCopy)
	}
	return result, nil
}
