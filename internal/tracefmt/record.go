// Package tracefmt parses retired-instruction traces produced by the RTL
// model (cycle log) and by Spike (commit log) into a common record shape.
package tracefmt

import "fmt"

// Format identifies a trace grammar.
type Format int

const (
	Unknown   Format = iota
	CycleLog         // "<cycle> 0x<pc> (0x<instr>) ..."
	CommitLog        // "core <id>: [<priv> ]0x<pc> (0x<instr>) ..."
)

func (f Format) String() string {
	switch f {
	case CycleLog:
		return "cycle-log"
	case CommitLog:
		return "commit-log"
	}
	return "unknown"
}

// Record is one retired instruction.
type Record struct {
	Cycle    uint64 `json:"cycle,omitempty"`
	HasCycle bool   `json:"-"`
	PC       uint64 `json:"pc"`
	Instr    uint32 `json:"instr"`

	// Line is the 1-based line number in the source file, 0 when the record
	// was not parsed from text.
	Line int `json:"line,omitempty"`

	// Annotation is the text following the opcode field: register writes,
	// memory accesses and, in cycle logs, a "; mnemonic ... <symbol>" comment.
	Annotation string `json:"annotation,omitempty"`
}

func (r Record) String() string {
	return fmt.Sprintf("PC=0x%08x INSTR=0x%08x", r.PC, r.Instr)
}

// Same reports whether two records retire the same instruction at the same
// address. Cycle counts and annotations are not compared.
func (r Record) Same(o Record) bool {
	return r.PC == o.PC && r.Instr == o.Instr
}

// Trace is a fully parsed trace file.
type Trace struct {
	Format  Format
	Records []Record
	Lines   int // physical lines read
	Skipped int // non-blank lines that did not match the grammar
}

// Len returns the number of records.
func (t *Trace) Len() int { return len(t.Records) }
