// Package callgraph derives lattice graphs from static disassembly and from
// reconstructed dynamic call trees.
package callgraph

import (
	"fmt"

	"github.com/zboralski/lattice"

	"rvtrace/internal/calltree"
	"rvtrace/internal/disasm"
)

// TraceRoot names the caller of depth-0 calls in a dynamic graph.
const TraceRoot = "<trace>"

// FuncInfo holds the data needed to build call graph and CFG for one function.
type FuncInfo struct {
	Name      string
	Insts     []disasm.Inst
	CallEdges []disasm.CallEdge
}

// Funcs pairs split functions with their extracted call edges.
func Funcs(funcs []disasm.Func, lookup disasm.SymbolLookup, window int) []FuncInfo {
	out := make([]FuncInfo, 0, len(funcs))
	for _, f := range funcs {
		out = append(out, FuncInfo{
			Name:      f.Name,
			Insts:     f.Insts,
			CallEdges: disasm.ExtractCallEdges(f.Insts, lookup, window),
		})
	}
	return out
}

// BuildCallGraph constructs a static graph from disassembled functions.
// Each function becomes a node and each call edge an edge. Targets without
// a symbol are named by address; unresolved jalr targets are skipped.
func BuildCallGraph(funcs []FuncInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, e := range f.CallEdges {
			callee := e.TargetName
			if callee == "" && e.TargetPC != 0 {
				callee = fmt.Sprintf("0x%x", e.TargetPC)
			}
			if callee == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: callee,
			})
		}
	}
	g.Dedup()
	return g
}

// BuildDynamic constructs a graph of the calls observed in a trace. The
// caller of a node at depth d is the latest node emitted at depth d-1.
func BuildDynamic(nodes []calltree.Node) *lattice.Graph {
	g := &lattice.Graph{Nodes: []string{TraceRoot}}
	seen := map[string]bool{TraceRoot: true}
	var parents []string
	for _, n := range nodes {
		name := n.Name
		if name == "" {
			name = calltree.UnresolvedLabel
		}
		caller := TraceRoot
		if n.Depth > 0 && n.Depth-1 < len(parents) {
			caller = parents[n.Depth-1]
		}
		if n.Depth < len(parents) {
			parents = parents[:n.Depth]
		}
		for len(parents) < n.Depth {
			parents = append(parents, caller)
		}
		parents = append(parents, name)

		if !seen[name] {
			seen[name] = true
			g.Nodes = append(g.Nodes, name)
		}
		g.Edges = append(g.Edges, lattice.Edge{Caller: caller, Callee: name})
	}
	g.Dedup()
	return g
}
