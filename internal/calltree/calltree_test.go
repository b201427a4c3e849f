package calltree

import (
	"math/rand"
	"testing"

	"rvtrace/internal/diag"
	"rvtrace/internal/disasm"
	"rvtrace/internal/symtab"
	"rvtrace/internal/tracefmt"
)

const (
	insnJAL  = 0x000000ef // jal ra, 0
	insnJALR = 0x000280e7 // jalr ra, 0(t0)
	insnRET  = 0x00008067 // jalr x0, 0(ra)
	insnNOP  = 0x00000013
)

func table(entries ...symtab.Entry) *symtab.Table { return symtab.Build(entries) }

func fn(addr uint64, name string) symtab.Entry {
	return symtab.Entry{Addr: addr, Name: name, Letter: 'T', Kind: symtab.Text}
}

type countingSizer struct {
	sizes map[string]int
	calls map[string]int
}

func (c *countingSizer) FrameSize(name string) (int, bool) {
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[name]++
	n, ok := c.sizes[name]
	return n, ok
}

func TestCallThenReturnPending(t *testing.T) {
	syms := table(fn(0x2000, "foo"))
	recs := []tracefmt.Record{
		{PC: 0x1000, Instr: insnJAL},
		{PC: 0x2000, Instr: insnRET},
	}

	res := Reconstruct(recs, syms, nil, Options{})
	if len(res.Nodes) != 1 {
		t.Fatalf("got %d nodes, want 1: %+v", len(res.Nodes), res.Nodes)
	}
	n := res.Nodes[0]
	if n.Name != "foo" || n.Depth != 0 || !n.Resolved {
		t.Errorf("node = %+v, want foo at depth 0", n)
	}
	if n.PC != 0x1000 || n.TraceIndex != 0 {
		t.Errorf("node site = 0x%x/%d, want call site 0x1000/0", n.PC, n.TraceIndex)
	}
	if res.FinalDepth != 0 {
		t.Errorf("final depth = %d, want 0", res.FinalDepth)
	}
	if res.MaxDepth != 1 {
		t.Errorf("max depth = %d, want 1", res.MaxDepth)
	}
}

func TestCallThenReturnAnnotated(t *testing.T) {
	syms := table(fn(0x2000, "foo"))
	recs := []tracefmt.Record{
		{PC: 0x1000, Instr: 0x7ff0f0ef, Annotation: "x1 0x00001004 ; jal ra, 0x2000 <foo>"},
		{PC: 0x2000, Instr: insnRET, Annotation: "; ret"},
	}

	res := Reconstruct(recs, syms, nil, Options{})
	if len(res.Nodes) != 1 || res.Nodes[0].Name != "foo" || res.Nodes[0].Depth != 0 {
		t.Fatalf("nodes = %+v, want one foo at depth 0", res.Nodes)
	}
	if res.FinalDepth != 0 {
		t.Errorf("final depth = %d, want 0", res.FinalDepth)
	}
	if res.Annotated != 2 {
		t.Errorf("annotated = %d, want 2", res.Annotated)
	}
}

func TestFrameDiagnosticNamesMissingFunction(t *testing.T) {
	syms := table(fn(0x100, "main"), fn(0x200, "leaf"), fn(0x300, "stub"))
	x := disasm.ParseFrameIndex(`
00000100 <main>:
     100:	ff010113          	addi	sp,sp,-16

00000200 <leaf>:
     200:	00008067          	ret
`)
	recs := []tracefmt.Record{
		{PC: 0x100, Instr: insnJAL},
		{PC: 0x200, Instr: insnRET},
		{PC: 0x104, Instr: insnJAL},
		{PC: 0x300, Instr: insnRET},
	}

	res := Reconstruct(recs, syms, x, Options{})
	var msgs []string
	for _, d := range res.Diags.Items() {
		if d.Kind == diag.UnresolvedDisasm {
			msgs = append(msgs, d.Msg)
		}
	}
	want := []string{"no stack adjustment found for leaf", "stub not in disassembly listing"}
	if len(msgs) != 2 || msgs[0] != want[0] || msgs[1] != want[1] {
		t.Errorf("got %q, want %q", msgs, want)
	}
}

func TestNestedCallsWithFrameSizes(t *testing.T) {
	syms := table(fn(0x100, "main"), fn(0x200, "a"), fn(0x300, "b"))
	sizer := &countingSizer{sizes: map[string]int{"a": 32, "b": 0}}
	recs := []tracefmt.Record{
		{PC: 0x100, Instr: insnNOP},
		{PC: 0x104, Instr: insnJAL}, // -> a
		{PC: 0x200, Instr: insnNOP},
		{PC: 0x204, Instr: insnJALR}, // -> b
		{PC: 0x300, Instr: insnRET},
		{PC: 0x208, Instr: insnRET},
		{PC: 0x108, Instr: insnNOP},
	}

	res := Reconstruct(recs, syms, sizer, Options{})
	if len(res.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(res.Nodes))
	}
	if got := res.Nodes[0]; got.Name != "a" || got.Depth != 0 || got.FrameSize != 32 || got.Label != "a [frame: 32 bytes]" {
		t.Errorf("node 0 = %+v", got)
	}
	if got := res.Nodes[1]; got.Name != "b" || got.Depth != 1 || got.Label != "b" {
		t.Errorf("node 1 = %+v", got)
	}
	if res.MaxDepth != 2 || res.FinalDepth != 0 {
		t.Errorf("depth max/final = %d/%d, want 2/0", res.MaxDepth, res.FinalDepth)
	}
	if d := res.DeepestCall(); d != 1 {
		t.Errorf("deepest call = %d, want 1", d)
	}
	if res.Calls != 2 || res.Returns != 2 {
		t.Errorf("calls/returns = %d/%d", res.Calls, res.Returns)
	}
	if fi := res.FrameSizes["b"]; !fi.Found || fi.Size != 0 {
		t.Errorf("frame b = %+v", fi)
	}

	// main, a, b, a, main
	var bases []string
	for _, tr := range res.Transitions {
		bases = append(bases, tr.Base)
	}
	want := []string{"main", "a", "b", "a", "main"}
	if len(bases) != len(want) {
		t.Fatalf("transitions = %v, want %v", bases, want)
	}
	for i := range want {
		if bases[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, bases[i], want[i])
		}
	}
	if res.CallCounts["a"] != 2 || res.CallCounts["main"] != 2 || res.CallCounts["b"] != 1 {
		t.Errorf("call counts = %v", res.CallCounts)
	}
	if tr := res.Transitions[3]; tr.Function != "a+0x8" || tr.Count != 2 {
		t.Errorf("transition 3 = %+v", tr)
	}
}

func TestFrameSizeQueriedOncePerName(t *testing.T) {
	syms := table(fn(0x100, "main"), fn(0x200, "leaf"))
	sizer := &countingSizer{sizes: map[string]int{}}
	var recs []tracefmt.Record
	for i := 0; i < 50; i++ {
		recs = append(recs,
			tracefmt.Record{PC: 0x100, Instr: insnJAL, Line: 1 + i*300},
			tracefmt.Record{PC: 0x200, Instr: insnRET, Line: 2 + i*300},
		)
	}

	res := Reconstruct(recs, syms, sizer, Options{})
	if sizer.calls["leaf"] != 1 {
		t.Errorf("leaf queried %d times, want 1", sizer.calls["leaf"])
	}
	if fi, ok := res.FrameSizes["leaf"]; !ok || fi.Found {
		t.Errorf("frame leaf = %+v, %v, want cached not-found", fi, ok)
	}
	if res.Diags.Count(diag.UnresolvedDisasm) != 1 {
		t.Errorf("unresolved_disasm = %d, want 1", res.Diags.Count(diag.UnresolvedDisasm))
	}
	// Each call lands in its own 100-line bucket.
	if len(res.Nodes) != 50 {
		t.Errorf("got %d nodes, want 50", len(res.Nodes))
	}
}

func TestDedupKeepsBookkeeping(t *testing.T) {
	syms := table(fn(0x100, "main"), fn(0x200, "leaf"))
	var recs []tracefmt.Record
	// Ten calls to leaf within one bucket; the last one never returns.
	for i := 0; i < 10; i++ {
		recs = append(recs, tracefmt.Record{PC: 0x100, Instr: insnJAL, Line: 2*i + 1})
		if i < 9 {
			recs = append(recs, tracefmt.Record{PC: 0x200, Instr: insnRET, Line: 2*i + 2})
		}
	}
	recs = append(recs, tracefmt.Record{PC: 0x200, Instr: insnNOP, Line: 20})

	res := Reconstruct(recs, syms, nil, Options{})
	if len(res.Nodes) != 1 {
		t.Errorf("got %d nodes, want 1", len(res.Nodes))
	}
	if res.Calls != 10 || res.Returns != 9 {
		t.Errorf("calls/returns = %d/%d, want 10/9", res.Calls, res.Returns)
	}
	if res.FinalDepth != 1 {
		t.Errorf("final depth = %d, want 1", res.FinalDepth)
	}

	res = Reconstruct(recs, syms, nil, Options{BucketWidth: 1})
	if len(res.Nodes) != 10 {
		t.Errorf("bucket width 1: got %d nodes, want 10", len(res.Nodes))
	}
}

func TestExtraReturnsAreNoOps(t *testing.T) {
	recs := []tracefmt.Record{
		{PC: 0x100, Instr: insnRET},
		{PC: 0x104, Instr: insnRET},
		{PC: 0x108, Instr: insnJAL, Annotation: "x1 0x0000010c ; jal ra, 0x300 <f>"},
	}
	res := Reconstruct(recs, nil, nil, Options{})
	if res.Returns != 2 || res.FinalDepth != 1 {
		t.Errorf("returns/final = %d/%d, want 2/1", res.Returns, res.FinalDepth)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].Depth != 0 || res.Nodes[0].Name != "f" {
		t.Errorf("nodes = %+v", res.Nodes)
	}
}

func TestPendingNeverResolved(t *testing.T) {
	recs := []tracefmt.Record{
		{PC: 0x1000, Instr: insnJAL},
		{PC: 0x5000, Instr: insnNOP},
	}
	res := Reconstruct(recs, table(fn(0x8000, "far")), nil, Options{})
	if len(res.Nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(res.Nodes))
	}
	n := res.Nodes[0]
	if n.Resolved || n.Label != UnresolvedLabel || n.Depth != 0 {
		t.Errorf("node = %+v, want unresolved at depth 0", n)
	}
	if res.FinalDepth != 1 {
		t.Errorf("final depth = %d, want 1", res.FinalDepth)
	}
}

func TestPendingBuriedByNextCall(t *testing.T) {
	syms := table(fn(0x2000, "g"))
	recs := []tracefmt.Record{
		{PC: 0x1000, Instr: insnJAL}, // pending, unresolvable
		{PC: 0x1004, Instr: insnJAL}, // buries it, pending again
		{PC: 0x2000, Instr: insnRET}, // resolves to g, then returns
		{PC: 0x1008, Instr: insnRET},
	}
	res := Reconstruct(recs, syms, nil, Options{})
	if len(res.Nodes) != 2 {
		t.Fatalf("got %d nodes, want 2: %+v", len(res.Nodes), res.Nodes)
	}
	if n := res.Nodes[0]; n.Resolved || n.Depth != 0 || n.PC != 0x1000 {
		t.Errorf("node 0 = %+v", n)
	}
	if n := res.Nodes[1]; n.Name != "g" || n.Depth != 1 || n.PC != 0x1004 {
		t.Errorf("node 1 = %+v", n)
	}
	if res.FinalDepth != 0 || res.MaxDepth != 2 {
		t.Errorf("final/max = %d/%d, want 0/2", res.FinalDepth, res.MaxDepth)
	}
}

// Depth bookkeeping obeys max <= calls and final == max(0, balance).
func TestStackBalanceProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	syms := table(fn(0x100, "a"), fn(0x200, "b"))
	insns := []uint32{insnJAL, insnJALR, insnRET, insnNOP}
	for iter := 0; iter < 200; iter++ {
		r := New(syms, nil, Options{})
		depth := 0
		n := rng.Intn(200)
		for i := 0; i < n; i++ {
			in := insns[rng.Intn(len(insns))]
			r.Step(tracefmt.Record{PC: 0x100 + uint64(rng.Intn(0x200)), Instr: in})
			switch {
			case disasm.IsCall(in):
				depth++
			case disasm.IsReturn(in) && depth > 0:
				depth--
			}
			if r.Depth() != depth {
				t.Fatalf("iter %d step %d: depth = %d, want %d", iter, i, r.Depth(), depth)
			}
		}
		res := r.Finish()
		if res.MaxDepth > res.Calls {
			t.Fatalf("iter %d: max depth %d > calls %d", iter, res.MaxDepth, res.Calls)
		}
		if res.FinalDepth != depth {
			t.Fatalf("iter %d: final = %d, want %d", iter, res.FinalDepth, depth)
		}
	}
}

func TestPCSummary(t *testing.T) {
	recs := []tracefmt.Record{
		{PC: 0x80000000}, {PC: 0x80000004}, {PC: 0x80000000},
		{PC: 0x100}, {PC: 0x100}, {PC: 0x90000000},
	}
	res := Reconstruct(recs, nil, nil, Options{})
	s := res.PCs
	if s.Min != 0x100 || s.Max != 0x90000000 || s.Unique != 4 || s.Count != 6 {
		t.Errorf("summary = %+v", s)
	}
	if s.OutOfRange != 3 || len(s.Examples) != 2 || s.Examples[0] != 0x100 {
		t.Errorf("out of range = %d, examples %x", s.OutOfRange, s.Examples)
	}
	if res.Diags.Count(diag.PCRange) != 1 {
		t.Errorf("pc_range diags = %d, want 1", res.Diags.Count(diag.PCRange))
	}

	res = Reconstruct(recs, nil, nil, Options{RAMLow: 0, RAMHigh: 0xffffffff})
	if res.PCs.OutOfRange != 0 {
		t.Errorf("custom window: out of range = %d, want 0", res.PCs.OutOfRange)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		rec    tracefmt.Record
		call   bool
		ret    bool
		target string
		ann    bool
	}{
		{"annotated jal", tracefmt.Record{Instr: insnNOP, Annotation: "x1 0x80000010 ; jal ra, 0x80000100 <memset>"}, true, false, "memset", true},
		{"annotated jalr", tracefmt.Record{Instr: insnNOP, Annotation: "x1 0x80000010 ; jalr ra, 0(a5) <f+0x4>"}, true, false, "f", true},
		{"jal without link", tracefmt.Record{Instr: insnNOP, Annotation: "; jal zero, 0x80000100 <loop>"}, false, false, "", false},
		{"annotated ret", tracefmt.Record{Instr: insnNOP, Annotation: "; ret"}, false, true, "", true},
		{"decoded call", tracefmt.Record{Instr: insnJALR}, true, false, "", false},
		{"decoded ret", tracefmt.Record{Instr: insnRET}, false, true, "", false},
		{"decoded call over annotated ret", tracefmt.Record{Instr: insnJALR, Annotation: "; ret"}, true, false, "", false},
		{"plain", tracefmt.Record{Instr: insnNOP, Annotation: "x5 0x00000000"}, false, false, "", false},
		{"jal to x0", tracefmt.Record{Instr: 0x0000006f}, false, false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.rec)
			if c.Call != tt.call || c.Return != tt.ret || c.Target != tt.target || c.Annotated != tt.ann {
				t.Errorf("got %+v, want call=%v ret=%v target=%q", c, tt.call, tt.ret, tt.target)
			}
		})
	}
}
