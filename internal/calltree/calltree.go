// Package calltree rebuilds a call tree from a retired-instruction trace.
//
// Calls and returns are detected per record, a call stack is simulated
// explicitly, and each observed call becomes a Node labelled with its target
// function and prologue stack frame size. Call targets that cannot be read
// from the trace annotation are deferred: the frame stays pending until the
// next record with a resolvable pc names the callee.
package calltree

import (
	"fmt"

	"rvtrace/internal/diag"
	"rvtrace/internal/symtab"
	"rvtrace/internal/tracefmt"
)

// Resolver maps a pc to its enclosing function. *symtab.Table implements it.
type Resolver interface {
	Resolve(pc uint64) (symtab.Resolved, bool)
}

// FrameSizer reports a function's prologue stack allocation.
// *disasm.FrameIndex implements it. A sizer that also has a
// Has(name string) bool method lets diagnostics tell a function missing
// from the listing apart from one without a prologue.
type FrameSizer interface {
	FrameSize(name string) (int, bool)
}

// UnresolvedLabel labels calls whose target never became known.
const UnresolvedLabel = "<unresolved>"

const (
	DefaultBucketWidth        = 100
	DefaultRAMLow      uint64 = 0x80000000
	DefaultRAMHigh     uint64 = 0x80040000
)

// Options tunes reconstruction.
type Options struct {
	// BucketWidth groups nearby trace positions for deduplication.
	// 0 means DefaultBucketWidth.
	BucketWidth int

	// RAMLow and RAMHigh bound the expected pc window (inclusive). PCs
	// outside it are counted in the summary. Both 0 means the defaults.
	RAMLow, RAMHigh uint64
}

func (o Options) bucketWidth() int {
	if o.BucketWidth <= 0 {
		return DefaultBucketWidth
	}
	return o.BucketWidth
}

func (o Options) ramWindow() (uint64, uint64) {
	if o.RAMLow == 0 && o.RAMHigh == 0 {
		return DefaultRAMLow, DefaultRAMHigh
	}
	return o.RAMLow, o.RAMHigh
}

// frame is one call-stack entry: resolvedFrame or pendingFrame.
type frame interface {
	entry() callSite
}

// callSite is where a call was observed.
type callSite struct {
	pc    uint64
	index int // trace index
	line  int
	pos   int // dedup position: line if known, else index
}

type resolvedFrame struct {
	site callSite
	name string // "" when the target was never learned
}

type pendingFrame struct {
	site callSite
}

func (f resolvedFrame) entry() callSite { return f.site }
func (f pendingFrame) entry() callSite  { return f.site }

// Node is one emitted call in program order.
type Node struct {
	TraceIndex int    `json:"trace_index"`
	Line       int    `json:"line,omitempty"`
	PC         uint64 `json:"pc"`
	Depth      int    `json:"depth"`
	Name       string `json:"name,omitempty"`
	Label      string `json:"label"`
	FrameSize  int    `json:"frame_size,omitempty"`
	Resolved   bool   `json:"resolved"`
}

// FrameInfo is a cached frame size lookup.
type FrameInfo struct {
	Size  int  `json:"size"`
	Found bool `json:"found"`
}

// Transition records the trace entering a different function.
type Transition struct {
	TraceIndex int    `json:"trace_index"`
	Line       int    `json:"line,omitempty"`
	PC         uint64 `json:"pc"`
	Function   string `json:"function"` // name+0xoff
	Base       string `json:"base"`
	Count      int    `json:"count"` // entries into Base so far
}

// MaxPCExamples bounds PCSummary.Examples.
const MaxPCExamples = 10

// PCSummary describes the pcs seen.
type PCSummary struct {
	Count      int      `json:"count"`
	Min        uint64   `json:"min"`
	Max        uint64   `json:"max"`
	Unique     int      `json:"unique"`
	RAMLow     uint64   `json:"ram_low"`
	RAMHigh    uint64   `json:"ram_high"`
	OutOfRange int      `json:"out_of_range"`
	Examples   []uint64 `json:"examples,omitempty"` // distinct out-of-range pcs, first seen
}

// Result is the output of a reconstruction.
type Result struct {
	Nodes       []Node               `json:"nodes"`
	FrameSizes  map[string]FrameInfo `json:"frame_sizes"`
	Transitions []Transition         `json:"transitions,omitempty"`
	CallCounts  map[string]int       `json:"call_counts"`

	Records    int `json:"records"`
	Calls      int `json:"calls"`
	Returns    int `json:"returns"`
	Annotated  int `json:"annotated"`   // calls and returns decided by a trace comment
	MaxDepth   int `json:"max_depth"`   // highest stack height observed
	FinalDepth int `json:"final_depth"` // calls left open at end of trace

	PCs PCSummary `json:"pcs"`

	Diags diag.Diags `json:"-"`
}

// DeepestCall returns the largest depth among emitted nodes. It is one
// less than MaxDepth whenever the deepest frame was named.
func (r *Result) DeepestCall() int {
	d := 0
	for _, n := range r.Nodes {
		d = max(d, n.Depth)
	}
	return d
}

type dedupKey struct {
	depth  int
	name   string
	bucket int
}

// Reconstructor owns all per-trace state. It is not safe for concurrent use;
// independent traces use independent reconstructors.
type Reconstructor struct {
	syms   Resolver
	frames FrameSizer
	opts   Options

	stack []frame
	seen  map[dedupKey]struct{}
	res   *Result

	cur      string // base function of the last resolved pc
	uniq     map[uint64]struct{}
	badSeen  map[uint64]struct{}
	ramLo    uint64
	ramHi    uint64
	finished bool
}

// New creates a reconstructor. syms and frames may be nil.
func New(syms Resolver, frames FrameSizer, opts Options) *Reconstructor {
	lo, hi := opts.ramWindow()
	return &Reconstructor{
		syms:   syms,
		frames: frames,
		opts:   opts,
		seen:   make(map[dedupKey]struct{}),
		res: &Result{
			FrameSizes: make(map[string]FrameInfo),
			CallCounts: make(map[string]int),
			PCs:        PCSummary{RAMLow: lo, RAMHigh: hi},
		},
		uniq:    make(map[uint64]struct{}),
		badSeen: make(map[uint64]struct{}),
		ramLo:   lo,
		ramHi:   hi,
	}
}

// Depth returns the current stack height.
func (r *Reconstructor) Depth() int { return len(r.stack) }

// Step processes the next record in retirement order.
func (r *Reconstructor) Step(rec tracefmt.Record) {
	i := r.res.Records
	r.res.Records++
	r.observePC(rec.PC)

	var sym symtab.Resolved
	resolved := false
	if r.syms != nil {
		sym, resolved = r.syms.Resolve(rec.PC)
	}
	if resolved {
		r.transition(i, rec, sym)
	} else {
		r.res.Diags.Addf(i, diag.MissingSymbol, "no function symbol for pc 0x%08x", rec.PC)
	}

	// A pending call takes its name from the first resolvable record after it.
	if resolved {
		if p, ok := r.top().(pendingFrame); ok {
			r.stack[len(r.stack)-1] = resolvedFrame{site: p.site, name: sym.Name}
			r.emit(p.site, len(r.stack)-1, sym.Name)
		}
	}

	site := callSite{pc: rec.PC, index: i, line: rec.Line, pos: i}
	if rec.Line > 0 {
		site.pos = rec.Line
	}

	c := Classify(rec)
	if c.Annotated {
		r.res.Annotated++
	}
	switch {
	case c.Call:
		r.res.Calls++
		r.bury()
		if c.Target != "" {
			r.stack = append(r.stack, resolvedFrame{site: site, name: c.Target})
			r.emit(site, len(r.stack)-1, c.Target)
		} else {
			r.stack = append(r.stack, pendingFrame{site: site})
		}
		if d := len(r.stack); d > r.res.MaxDepth {
			r.res.MaxDepth = d
		}
	case c.Return:
		r.res.Returns++
		if len(r.stack) == 0 {
			return
		}
		r.bury()
		r.stack = r.stack[:len(r.stack)-1]
	}
}

// Finish closes the trace and returns the result. Calls still open are left
// on the stack and counted in FinalDepth.
func (r *Reconstructor) Finish() *Result {
	if r.finished {
		return r.res
	}
	r.finished = true
	r.bury()
	r.res.FinalDepth = len(r.stack)
	r.res.PCs.Unique = len(r.uniq)
	if n := r.res.PCs.OutOfRange; n > 0 {
		r.res.Diags.Addf(r.res.Records, diag.PCRange, "%d pcs outside 0x%08x..0x%08x", n, r.ramLo, r.ramHi)
	}
	return r.res
}

// Reconstruct runs a reconstructor over a whole trace.
func Reconstruct(recs []tracefmt.Record, syms Resolver, frames FrameSizer, opts Options) *Result {
	r := New(syms, frames, opts)
	for _, rec := range recs {
		r.Step(rec)
	}
	return r.Finish()
}

func (r *Reconstructor) top() frame {
	if len(r.stack) == 0 {
		return nil
	}
	return r.stack[len(r.stack)-1]
}

// bury gives up on a pending top frame: it is emitted as unresolved and
// kept on the stack under its unknown name so depth stays correct.
func (r *Reconstructor) bury() {
	p, ok := r.top().(pendingFrame)
	if !ok {
		return
	}
	r.stack[len(r.stack)-1] = resolvedFrame{site: p.site}
	r.emit(p.site, len(r.stack)-1, "")
}

// emit appends a node unless an equivalent one was emitted in the same
// position bucket. Stack bookkeeping never depends on the outcome.
func (r *Reconstructor) emit(site callSite, depth int, name string) {
	key := dedupKey{depth: depth, name: name, bucket: site.pos / r.opts.bucketWidth()}
	if _, dup := r.seen[key]; dup {
		return
	}
	r.seen[key] = struct{}{}

	n := Node{
		TraceIndex: site.index,
		Line:       site.line,
		PC:         site.pc,
		Depth:      depth,
		Name:       name,
		Resolved:   name != "",
	}
	if name == "" {
		n.Label = UnresolvedLabel
		r.res.Diags.Addf(site.index, diag.MissingSymbol, "call at 0x%08x has no resolvable target", site.pc)
	} else {
		n.Label = name
		if fi := r.frameSize(name, site.index); fi.Found && fi.Size > 0 {
			n.FrameSize = fi.Size
			n.Label = fmt.Sprintf("%s [frame: %d bytes]", name, fi.Size)
		}
	}
	r.res.Nodes = append(r.res.Nodes, n)
}

// frameSize consults the listing once per function name.
func (r *Reconstructor) frameSize(name string, pos int) FrameInfo {
	if r.frames == nil {
		return FrameInfo{}
	}
	if fi, ok := r.res.FrameSizes[name]; ok {
		return fi
	}
	size, found := r.frames.FrameSize(name)
	fi := FrameInfo{Size: size, Found: found}
	r.res.FrameSizes[name] = fi
	if !found {
		if h, ok := r.frames.(interface{ Has(string) bool }); ok && !h.Has(name) {
			r.res.Diags.Addf(pos, diag.UnresolvedDisasm, "%s not in disassembly listing", name)
		} else {
			r.res.Diags.Addf(pos, diag.UnresolvedDisasm, "no stack adjustment found for %s", name)
		}
	}
	return fi
}

func (r *Reconstructor) transition(i int, rec tracefmt.Record, sym symtab.Resolved) {
	if sym.Name == r.cur {
		return
	}
	r.cur = sym.Name
	r.res.CallCounts[sym.Name]++
	r.res.Transitions = append(r.res.Transitions, Transition{
		TraceIndex: i,
		Line:       rec.Line,
		PC:         rec.PC,
		Function:   sym.String(),
		Base:       sym.Name,
		Count:      r.res.CallCounts[sym.Name],
	})
}

func (r *Reconstructor) observePC(pc uint64) {
	s := &r.res.PCs
	if s.Count == 0 || pc < s.Min {
		s.Min = pc
	}
	if s.Count == 0 || pc > s.Max {
		s.Max = pc
	}
	s.Count++
	r.uniq[pc] = struct{}{}
	if pc < r.ramLo || pc > r.ramHi {
		s.OutOfRange++
		if _, dup := r.badSeen[pc]; !dup && len(s.Examples) < MaxPCExamples {
			r.badSeen[pc] = struct{}{}
			s.Examples = append(s.Examples, pc)
		}
	}
}
