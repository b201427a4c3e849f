package callgraph

import (
	"strings"
	"testing"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"rvtrace/internal/calltree"
	"rvtrace/internal/disasm"
)

func TestBuildCFGDOTOutput(t *testing.T) {
	// entry (B0):
	//   0x1000: addi a0,zero,0
	//   0x1004: jal  ra,0x1104     ; call "init"
	//   0x1008: beq  a0,zero,+12   ; -> B2
	// fallthrough (B1):
	//   0x100c: jalr ra,0(t0)      ; unresolved indirect call
	//   0x1010: ret
	// target (B2):
	//   0x1014: nop
	//   0x1018: ret
	insts := []disasm.Inst{
		{Addr: 0x1000, Raw: 0x00000513, Size: 4},
		{Addr: 0x1004, Raw: 0x100000ef, Size: 4},
		{Addr: 0x1008, Raw: 0x00050663, Size: 4},
		{Addr: 0x100c, Raw: 0x000280e7, Size: 4},
		{Addr: 0x1010, Raw: 0x00008067, Size: 4},
		{Addr: 0x1014, Raw: 0x00000013, Size: 4},
		{Addr: 0x1018, Raw: 0x00008067, Size: 4},
	}
	lookup := disasm.PlaceholderLookup(map[uint64]string{0x1104: "init"})
	funcs := []FuncInfo{{
		Name:      "main",
		Insts:     insts,
		CallEdges: disasm.ExtractCallEdges(insts, lookup, 8),
	}}

	cfg := BuildCFG(funcs)
	if len(cfg.Funcs) != 1 {
		t.Fatalf("got %d functions, want 1", len(cfg.Funcs))
	}
	f := cfg.Funcs[0]
	if len(f.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(f.Blocks))
	}
	b0 := f.Blocks[0]
	if len(b0.Calls) != 1 || b0.Calls[0].Callee != "init" {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if len(b0.Succs) != 2 {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}
	b1 := f.Blocks[1]
	if len(b1.Calls) != 1 || b1.Calls[0].Callee != "jalr x5" {
		t.Errorf("B1 calls = %+v", b1.Calls)
	}
	if !b1.Term || !f.Blocks[2].Term {
		t.Error("ret blocks should be terminal")
	}

	if dot := render.DOTCFG(cfg, "rvtrace CFG"); dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildCallGraph(t *testing.T) {
	funcs := []FuncInfo{
		{
			Name: "main",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x1004, Kind: "jal", TargetPC: 0x2000, TargetName: "init"},
				{FromPC: 0x1010, Kind: "jal", TargetPC: 0x3000},
				{FromPC: 0x1014, Kind: "jalr", Reg: "x5"},
			},
		},
		{
			Name: "init",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x2008, Kind: "jal", TargetPC: 0x4000, TargetName: "log"},
				{FromPC: 0x200c, Kind: "jal", TargetPC: 0x4000, TargetName: "log"},
			},
		},
	}

	cg := BuildCallGraph(funcs)
	if len(cg.Nodes) != 2 {
		t.Errorf("got %d nodes, want 2", len(cg.Nodes))
	}
	if !hasEdge(cg, "main", "0x3000") || !hasEdge(cg, "init", "log") {
		t.Errorf("edges = %+v", cg.Edges)
	}
	for _, e := range cg.Edges {
		if strings.HasPrefix(e.Callee, "jalr") {
			t.Errorf("unresolved jalr should be skipped: %+v", e)
		}
	}
	if dot := render.DOT(cg, "rvtrace call graph"); dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildDynamic(t *testing.T) {
	nodes := []calltree.Node{
		{Depth: 0, Name: "main"},
		{Depth: 1, Name: "init"},
		{Depth: 2, Name: "memset"},
		{Depth: 1, Name: "run"},
		{Depth: 2},
		{Depth: 0, Name: "exit"},
	}
	g := BuildDynamic(nodes)

	want := [][2]string{
		{TraceRoot, "main"},
		{"main", "init"},
		{"init", "memset"},
		{"main", "run"},
		{"run", calltree.UnresolvedLabel},
		{TraceRoot, "exit"},
	}
	for _, w := range want {
		if !hasEdge(g, w[0], w[1]) {
			t.Errorf("missing edge %s -> %s in %+v", w[0], w[1], g.Edges)
		}
	}
	if len(g.Nodes) != 7 {
		t.Errorf("got %d nodes, want 7: %v", len(g.Nodes), g.Nodes)
	}
}

func TestFuncs(t *testing.T) {
	insts := []disasm.Inst{
		{Addr: 0x100, Raw: 0x008000ef, Size: 4}, // jal ra,0x108
		{Addr: 0x104, Raw: 0x00008067, Size: 4},
		{Addr: 0x108, Raw: 0x00008067, Size: 4},
	}
	lookup := disasm.PlaceholderLookup(map[uint64]string{0x100: "a", 0x108: "b"})
	infos := Funcs(disasm.SplitFuncs(insts, lookup), lookup, 8)
	if len(infos) != 2 {
		t.Fatalf("got %d funcs, want 2", len(infos))
	}
	if len(infos[0].CallEdges) != 1 || infos[0].CallEdges[0].TargetName != "b" {
		t.Errorf("edges = %+v", infos[0].CallEdges)
	}
	if !hasEdge(BuildCallGraph(infos), "a", "b") {
		t.Error("missing a -> b")
	}
}

func hasEdge(g *lattice.Graph, caller, callee string) bool {
	for _, e := range g.Edges {
		if e.Caller == caller && e.Callee == callee {
			return true
		}
	}
	return false
}
