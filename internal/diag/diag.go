// Package diag collects non-fatal issues found while analyzing traces.
package diag

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a diagnostic message.
type Kind string

const (
	MalformedLine    Kind = "malformed_line"
	MissingSymbol    Kind = "missing_symbol"
	UnresolvedDisasm Kind = "unresolved_disasm"
	Alignment        Kind = "alignment"
	LengthDelta      Kind = "length_delta"
	PCRange          Kind = "pc_range"
)

// Diag records a non-fatal issue. Pos is a source line number for parse
// problems and a trace index for analysis problems.
type Diag struct {
	Pos  int    `json:"pos"`
	Kind Kind   `json:"kind"`
	Msg  string `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] %d: %s", d.Kind, d.Pos, d.Msg)
}

// Diags accumulates diagnostics. Only the first Limit messages of each kind
// are kept; every occurrence is counted.
type Diags struct {
	items  []Diag
	counts map[Kind]int

	// Limit caps stored messages per kind. 0 means DefaultLimit.
	Limit int
}

// DefaultLimit is the per-kind message cap used when Diags.Limit is 0.
const DefaultLimit = 20

func (d *Diags) limit() int {
	if d.Limit > 0 {
		return d.Limit
	}
	return DefaultLimit
}

func (d *Diags) Add(pos int, kind Kind, msg string) {
	if d.counts == nil {
		d.counts = make(map[Kind]int)
	}
	d.counts[kind]++
	if d.counts[kind] <= d.limit() {
		d.items = append(d.items, Diag{Pos: pos, Kind: kind, Msg: msg})
	}
}

func (d *Diags) Addf(pos int, kind Kind, format string, args ...any) {
	d.Add(pos, kind, fmt.Sprintf(format, args...))
}

func (d *Diags) Items() []Diag { return d.items }

// Len returns the total number of diagnostics, including unstored ones.
func (d *Diags) Len() int {
	n := 0
	for _, c := range d.counts {
		n += c
	}
	return n
}

// Count returns how many diagnostics of kind were added.
func (d *Diags) Count(kind Kind) int { return d.counts[kind] }

// Merge appends all diagnostics from o.
func (d *Diags) Merge(o *Diags) {
	if o == nil {
		return
	}
	for _, it := range o.items {
		d.Add(it.Pos, it.Kind, it.Msg)
	}
	// Unstored occurrences still count.
	for k, c := range o.counts {
		stored := 0
		for _, it := range o.items {
			if it.Kind == k {
				stored++
			}
		}
		if extra := c - stored; extra > 0 {
			if d.counts == nil {
				d.counts = make(map[Kind]int)
			}
			d.counts[k] += extra
		}
	}
}

// Summary renders counts as "3 missing_symbol, 1 alignment", sorted by kind.
// Returns "" when empty.
func (d *Diags) Summary() string {
	if len(d.counts) == 0 {
		return ""
	}
	kinds := make([]string, 0, len(d.counts))
	for k := range d.counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%d %s", d.counts[Kind(k)], k))
	}
	return strings.Join(parts, ", ")
}
