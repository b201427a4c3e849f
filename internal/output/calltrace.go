package output

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"rvtrace/internal/calltree"
)

const (
	DefaultMaxEntries = 5000
	DefaultTopFrames  = 30
	DefaultTopFuncs   = 50
)

var (
	ruleHeavy = strings.Repeat("=", 80)
	ruleLight = strings.Repeat("-", 80)
)

// ReportOptions tunes the call-trace report.
type ReportOptions struct {
	Title      string // default "Call Trace Report"
	MaxEntries int    // tree and transition lines; default DefaultMaxEntries
	TopFrames  int    // default DefaultTopFrames
	TopFuncs   int    // default DefaultTopFuncs
}

func (o ReportOptions) effective() ReportOptions {
	if o.Title == "" {
		o.Title = "Call Trace Report"
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.TopFrames <= 0 {
		o.TopFrames = DefaultTopFrames
	}
	if o.TopFuncs <= 0 {
		o.TopFuncs = DefaultTopFuncs
	}
	return o
}

// WriteCallTrace renders a reconstruction as a text report: call tree,
// stack frame sizes, call frequency, function transitions and pc range.
func WriteCallTrace(w io.Writer, res *calltree.Result, opts ReportOptions) error {
	opts = opts.effective()
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "%s\n%s\n%s\n\n", ruleHeavy, opts.Title, ruleHeavy)

	if len(res.Nodes) > 0 {
		fmt.Fprintf(bw, "Call Tree Structure:\n%s\n", ruleLight)
		for _, n := range res.Nodes[:min(len(res.Nodes), opts.MaxEntries)] {
			fmt.Fprintf(bw, "%s%s\n", strings.Repeat("  ", n.Depth), n.Label)
		}
		if extra := len(res.Nodes) - opts.MaxEntries; extra > 0 {
			printer.Fprintf(bw, "\n... (%d more calls omitted for brevity)\n", extra)
		}
		writeFrameSizes(bw, res, opts.TopFrames)
	}

	fmt.Fprintf(bw, "\n%s\nFunction Call Summary (by frequency):\n%s\n", ruleHeavy, ruleLight)
	for _, fc := range rankCounts(res.CallCounts)[:min(len(res.CallCounts), opts.TopFuncs)] {
		printer.Fprintf(bw, "  %6dx  %s\n", fc.count, fc.name)
	}

	fmt.Fprintf(bw, "\n%s\nDetailed Call Trace (function transitions):\n%s\n\n", ruleHeavy, ruleHeavy)
	for _, t := range res.Transitions[:min(len(res.Transitions), opts.MaxEntries)] {
		line := t.Line
		if line == 0 {
			line = t.TraceIndex + 1
		}
		fmt.Fprintf(bw, "Line %8d: PC=0x%08x  => %s", line, t.PC, t.Function)
		if t.Count > 1 {
			fmt.Fprintf(bw, "  [call #%d]", t.Count)
		}
		bw.WriteByte('\n')
	}
	if extra := len(res.Transitions) - opts.MaxEntries; extra > 0 {
		printer.Fprintf(bw, "\n... (%d more transitions omitted)\n", extra)
	}

	writePCRange(bw, &res.PCs)
	return bw.Flush()
}

func writeFrameSizes(bw *bufio.Writer, res *calltree.Result, top int) {
	type frame struct {
		name string
		size int
	}
	var frames []frame
	for name, fi := range res.FrameSizes {
		if fi.Found && fi.Size > 0 {
			frames = append(frames, frame{name, fi.Size})
		}
	}
	if len(frames) == 0 {
		return
	}
	sort.Slice(frames, func(i, j int) bool {
		if frames[i].size != frames[j].size {
			return frames[i].size > frames[j].size
		}
		return frames[i].name < frames[j].name
	})

	fmt.Fprintf(bw, "\n%s\nStack Frame Sizes:\n%s\n", ruleHeavy, ruleLight)
	total := 0
	for i, f := range frames {
		total += f.size
		if i < top {
			fmt.Fprintf(bw, "  %4d bytes  %s\n", f.size, f.name)
		}
	}
	printer.Fprintf(bw, "\n  Total stack in traced functions: %d bytes\n", total)
	fmt.Fprintf(bw, "  Maximum call depth: %d (stack height %d)\n", res.DeepestCall(), res.MaxDepth)
}

func writePCRange(bw *bufio.Writer, s *calltree.PCSummary) {
	if s.Count == 0 {
		return
	}
	fmt.Fprintf(bw, "\n%s\nPC Range Summary:\n%s\n", ruleHeavy, ruleLight)
	fmt.Fprintf(bw, "  Min PC: 0x%08x\n", s.Min)
	fmt.Fprintf(bw, "  Max PC: 0x%08x\n", s.Max)
	printer.Fprintf(bw, "  Total unique PCs: %d\n", s.Unique)
	if s.OutOfRange == 0 {
		return
	}
	printer.Fprintf(bw, "\n  WARNING: Found %d PCs outside RAM range!\n", s.OutOfRange)
	ex := make([]string, len(s.Examples))
	for i, pc := range s.Examples {
		ex[i] = fmt.Sprintf("0x%08x", pc)
	}
	fmt.Fprintf(bw, "  Invalid PC examples: %s\n", strings.Join(ex, ", "))
}

type nameCount struct {
	name  string
	count int
}

// rankCounts orders by count descending, then name.
func rankCounts(m map[string]int) []nameCount {
	out := make([]nameCount, 0, len(m))
	for k, v := range m {
		out = append(out, nameCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}
