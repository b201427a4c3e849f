package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rvtrace/internal/tracefmt"
)

func writeFile(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

const rtlTrace = `1 0x80000000 (0x00000297)
2 0x80000004 (0x00000537)
3 0x80000008 (0x00008067)
`

const simTrace = `core   0: 3 0x00001000 (0x00000297)
core   0: 3 0x00001004 (0x02028593)
core   0: 3 0x80000000 (0x00000297)
core   0: 3 0x80000004 (0x00000537)
core   0: 3 0x80000008 (0x00008067)
`

func TestCompareCommandPass(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "rtl.log", rtlTrace)
	b := writeFile(t, dir, "sim.log", simTrace)
	report := filepath.Join(dir, "report.txt")
	js := filepath.Join(dir, "out", "result.json")

	if err := cmdCompare([]string{"--out", report, "--json", js, a, b}); err != nil {
		t.Fatalf("compare: %v", err)
	}
	out := readFile(t, report)
	if !strings.Contains(out, "offset = 2") || !strings.Contains(out, "[PASS] Traces match perfectly!") {
		t.Errorf("unexpected report:\n%s", out)
	}

	var rep struct {
		Formats []string
		Result  struct {
			Verdict string
			Offset  int `json:"alignment_offset"`
		}
	}
	if err := json.Unmarshal([]byte(readFile(t, js)), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Result.Verdict != "perfect_match" || rep.Result.Offset != 2 {
		t.Errorf("got %+v", rep.Result)
	}
	if len(rep.Formats) != 2 || rep.Formats[0] != tracefmt.CycleLog.String() || rep.Formats[1] != tracefmt.CommitLog.String() {
		t.Errorf("formats = %v", rep.Formats)
	}
}

func TestCompareCommandFail(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "rtl.log", rtlTrace)
	b := writeFile(t, dir, "sim.log", strings.Replace(simTrace, "0x00000537", "0x00000513", 1))
	report := filepath.Join(dir, "report.txt")

	err := cmdCompare([]string{"--out", report, a, b})
	if !errors.Is(err, errFailed) {
		t.Fatalf("got %v, want errFailed", err)
	}
	if out := readFile(t, report); !strings.Contains(out, "[FAIL] Found 1 mismatches") {
		t.Errorf("unexpected report:\n%s", out)
	}
}

func TestCompareCommandErrors(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "rtl.log", rtlTrace)
	junk := writeFile(t, dir, "junk.log", "hello world\n")

	err := cmdCompare([]string{"--out", filepath.Join(dir, "r.txt"), a, junk})
	if !errors.Is(err, tracefmt.ErrUnknownFormat) {
		t.Errorf("got %v, want ErrUnknownFormat", err)
	}
	if err := cmdCompare([]string{a}); err == nil || errors.Is(err, errFailed) {
		t.Errorf("single trace: got %v", err)
	}
}

func TestCompareCommandEmpty(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "rtl.log", "# nothing retired\n")
	b := writeFile(t, dir, "sim.log", simTrace)
	report := filepath.Join(dir, "report.txt")

	if err := cmdCompare([]string{"--out", report, a, b}); !errors.Is(err, errFailed) {
		t.Fatalf("got %v, want errFailed", err)
	}
	if out := readFile(t, report); !strings.Contains(out, "[FAIL] One or both traces are empty") {
		t.Errorf("unexpected report:\n%s", out)
	}
}

const programSyms = `80000000 T _start
80000008 T leaf
8000000c T main
`

const programListing = `
Disassembly of section .text:

80000000 <_start>:
80000000:	00c000ef          	jal	ra,8000000c <main>

80000008 <leaf>:
80000008:	00008067          	ret

8000000c <main>:
8000000c:	fe010113          	addi	sp,sp,-32
80000010:	00112e23          	sw	ra,28(sp)
80000014:	ff5ff0ef          	jal	ra,80000008 <leaf>
`

// _start calls main, main calls leaf, leaf returns.
const callTrace = `1 0x80000000 (0x00c000ef)
2 0x8000000c (0xfe010113)
3 0x80000010 (0x00112e23)
4 0x80000014 (0xff5ff0ef)
5 0x80000008 (0x00008067)
`

func TestCalltreeCommand(t *testing.T) {
	dir := t.TempDir()
	trace := writeFile(t, dir, "trace.log", callTrace)
	syms := writeFile(t, dir, "prog.nm", programSyms)
	lst := writeFile(t, dir, "prog.lst", programListing)
	report := filepath.Join(dir, "call_trace_report.txt")
	jsonl := filepath.Join(dir, "nodes.jsonl")
	dot := filepath.Join(dir, "calltree.dot")
	html := filepath.Join(dir, "calltree.html")

	err := cmdCalltree([]string{
		"--trace", trace, "--syms", syms, "--disasm", lst,
		"--out", report, "--jsonl", jsonl, "--dot", dot, "--html", html,
	})
	if err != nil {
		t.Fatalf("calltree: %v", err)
	}

	out := readFile(t, report)
	for _, w := range []string{
		"Call Tree Structure:",
		"main [frame: 32 bytes]",
		"\n  leaf\n",
		"Maximum call depth: 1 (stack height 2)",
		"PC Range Summary:",
	} {
		if !strings.Contains(out, w) {
			t.Errorf("missing %q in:\n%s", w, out)
		}
	}

	lines := strings.Split(strings.TrimSpace(readFile(t, jsonl)), "\n")
	if len(lines) != 2 {
		t.Errorf("got %d JSONL nodes, want 2", len(lines))
	}
	if g := readFile(t, dot); !strings.Contains(g, "main") || !strings.Contains(g, "leaf") {
		t.Errorf("unexpected DOT:\n%s", g)
	}
	if h := readFile(t, html); !strings.Contains(h, "main [frame: 32 bytes]") {
		t.Errorf("unexpected HTML:\n%s", h)
	}
}

func TestCalltreeCommandWithoutSymbols(t *testing.T) {
	dir := t.TempDir()
	trace := writeFile(t, dir, "trace.log", callTrace)
	report := filepath.Join(dir, "report.txt")

	if err := cmdCalltree([]string{"--out", report, trace}); err != nil {
		t.Fatalf("calltree: %v", err)
	}
	if out := readFile(t, report); !strings.Contains(out, "<unresolved>") {
		t.Errorf("unexpected report:\n%s", out)
	}
}

func TestBatchCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "rtl.log", rtlTrace)
	writeFile(t, dir, "sim.log", simTrace)
	writeFile(t, dir, "bad.log", strings.Replace(simTrace, "0x00008067", "0x00000013", 1))
	pairs := writeFile(t, dir, "pairs.txt", `# rtl vs sim
rtl.log sim.log

rtl.log bad.log
rtl.log missing.log
`)
	summary := filepath.Join(dir, "summary.json")

	err := cmdBatch([]string{"--pairs", pairs, "--jobs", "2", "--out", summary})
	if !errors.Is(err, errFailed) {
		t.Fatalf("got %v, want errFailed", err)
	}

	var sum batchSummary
	if err := json.Unmarshal([]byte(readFile(t, summary)), &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Pairs != 3 || sum.Passed != 1 || sum.Failed != 1 || sum.Errors != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Runs[0].Line != 2 || !sum.Runs[0].Pass || sum.Runs[0].Offset != 2 {
		t.Errorf("run 0 = %+v", sum.Runs[0])
	}
	if sum.Runs[1].Verdict != "length_mismatch_fail" || sum.Runs[1].MismatchCount != 1 {
		t.Errorf("run 1 = %+v", sum.Runs[1])
	}
	if !strings.Contains(sum.Runs[2].Error, "missing.log") {
		t.Errorf("run 2 error = %q", sum.Runs[2].Error)
	}
}

func TestReadPairsRejectsBadLine(t *testing.T) {
	dir := t.TempDir()
	pairs := writeFile(t, dir, "pairs.txt", "a.log\n")
	if _, err := readPairs(pairs); err == nil || !strings.Contains(err.Error(), ":1:") {
		t.Errorf("got %v", err)
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName("ns::f<int>"); got != "ns__f_int_" {
		t.Errorf("got %q", got)
	}
}
