// Package compare aligns and compares retired-instruction traces from
// different execution engines.
//
// Engines start in vendor boot code that differs between them, so the
// secondary streams are aligned on the first record whose PC equals the
// reference stream's first PC rather than on index zero.
package compare

import (
	"fmt"

	"rvtrace/internal/diag"
	"rvtrace/internal/tracefmt"
)

// Verdict classifies a comparison.
type Verdict int

const (
	PerfectMatch Verdict = iota
	PartialMatchShorter
	PartialMatchLonger
	LengthMismatchFail
	AlignmentFail
	EmptyInputFail
)

var verdictNames = [...]string{
	PerfectMatch:        "perfect_match",
	PartialMatchShorter: "partial_match_shorter",
	PartialMatchLonger:  "partial_match_longer",
	LengthMismatchFail:  "length_mismatch_fail",
	AlignmentFail:       "alignment_fail",
	EmptyInputFail:      "empty_input_fail",
}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// MarshalText encodes the verdict by name.
func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// Pass reports pass-class verdicts.
func (v Verdict) Pass() bool {
	return v == PerfectMatch || v == PartialMatchShorter || v == PartialMatchLonger
}

// DefaultMaxDetail is the number of mismatches kept in detail.
const DefaultMaxDetail = 10

// Options tunes a comparison.
type Options struct {
	MaxDetail int // detailed mismatches kept; 0 = DefaultMaxDetail, <0 = unlimited
}

func (o Options) maxDetail() int {
	if o.MaxDetail == 0 {
		return DefaultMaxDetail
	}
	return o.MaxDetail
}

// Mismatch is one disagreeing position of the common prefix.
type Mismatch struct {
	Index int             `json:"index"` // position in the reference stream
	A     tracefmt.Record `json:"a"`
	B     tracefmt.Record `json:"b"`

	// Three-way comparisons only.
	C *tracefmt.Record `json:"c,omitempty"`
	// Odd is the stream (0=A, 1=B, 2=C) disagreeing with the majority pair,
	// -1 when all three differ or in two-way comparisons.
	Odd int `json:"odd"`
}

// Result is the outcome of a comparison.
type Result struct {
	Verdict Verdict `json:"verdict"`

	// Mismatches holds at most MaxDetail entries; MismatchCount is exact.
	Mismatches    []Mismatch `json:"mismatches,omitempty"`
	MismatchCount int        `json:"mismatch_count"`

	// Offset is the alignment offset of stream B, OffsetC that of stream C.
	Offset  int `json:"alignment_offset"`
	OffsetC int `json:"alignment_offset_c,omitempty"`

	// Effective lengths after alignment.
	LenA int `json:"len_a"`
	LenB int `json:"len_b"`
	LenC int `json:"len_c,omitempty"`

	Compared int  `json:"compared"`
	ThreeWay bool `json:"three_way,omitempty"`

	// First PCs, reported on AlignmentFail.
	StartA uint64 `json:"start_a,omitempty"`
	StartB uint64 `json:"start_b,omitempty"`

	// LastMatched is the last record of A inside the compared prefix.
	LastMatched *tracefmt.Record `json:"last_matched,omitempty"`
	// FirstUnmatched is the first record past the compared prefix in
	// whichever of A or B is longer.
	FirstUnmatched *tracefmt.Record `json:"first_unmatched,omitempty"`

	Diags diag.Diags `json:"-"`
}

// Pass reports whether the verdict is pass-class.
func (r *Result) Pass() bool { return r.Verdict.Pass() }

// Extra returns LenA-LenB: positive when A ran past B.
func (r *Result) Extra() int { return r.LenA - r.LenB }

// Truncated reports whether mismatch details were capped.
func (r *Result) Truncated() bool { return r.MismatchCount > len(r.Mismatches) }

// align returns the index of the first record in s whose PC equals pivot.
func align(s []tracefmt.Record, pivot uint64) (int, bool) {
	for i := range s {
		if s[i].PC == pivot {
			return i, true
		}
	}
	return 0, false
}

// Compare aligns b against a and compares them in lock step.
func Compare(a, b []tracefmt.Record, opts Options) *Result {
	res := &Result{LenA: len(a), LenB: len(b)}
	if len(a) == 0 || len(b) == 0 {
		res.Verdict = EmptyInputFail
		return res
	}

	off, ok := align(b, a[0].PC)
	if !ok {
		res.Verdict = AlignmentFail
		res.StartA = a[0].PC
		res.StartB = b[0].PC
		return res
	}
	res.Offset = off
	b = b[off:]
	res.LenB = len(b)

	n := min(len(a), len(b))
	res.Compared = n
	limit := opts.maxDetail()
	for i := 0; i < n; i++ {
		if a[i].Same(b[i]) {
			continue
		}
		res.MismatchCount++
		if limit < 0 || len(res.Mismatches) < limit {
			res.Mismatches = append(res.Mismatches, Mismatch{Index: i, A: a[i], B: b[i], Odd: -1})
		}
	}
	if n > 0 {
		last := a[n-1]
		res.LastMatched = &last
	}
	switch {
	case len(a) > n:
		first := a[n]
		res.FirstUnmatched = &first
	case len(b) > n:
		first := b[n]
		res.FirstUnmatched = &first
	}

	switch {
	case res.MismatchCount > 0:
		res.Verdict = LengthMismatchFail
		if res.LenA != res.LenB {
			res.Diags.Addf(n, diag.LengthDelta, "length mismatch: A=%d B=%d", res.LenA, res.LenB)
		}
	case len(a) == len(b):
		res.Verdict = PerfectMatch
	case len(a) < len(b):
		res.Verdict = PartialMatchShorter
	default:
		res.Verdict = PartialMatchLonger
		res.Diags.Addf(n, diag.LengthDelta, "A has %d extra records after index %d", len(a)-n, n)
	}
	return res
}

// Compare3 aligns b and c independently against ref and compares all three
// over their common prefix. A stream that cannot be aligned is compared
// from index 0 and a warning is recorded.
func Compare3(ref, b, c []tracefmt.Record, opts Options) *Result {
	res := &Result{ThreeWay: true, LenA: len(ref), LenB: len(b), LenC: len(c)}
	if len(ref) == 0 || len(b) == 0 || len(c) == 0 {
		res.Verdict = EmptyInputFail
		return res
	}

	pivot := ref[0].PC
	offB, ok := align(b, pivot)
	if !ok {
		res.Diags.Addf(0, diag.Alignment, "stream B never reaches 0x%08x (starts at 0x%08x); comparing from index 0", pivot, b[0].PC)
	}
	offC, ok := align(c, pivot)
	if !ok {
		res.Diags.Addf(0, diag.Alignment, "stream C never reaches 0x%08x (starts at 0x%08x); comparing from index 0", pivot, c[0].PC)
	}
	res.Offset, res.OffsetC = offB, offC
	b, c = b[offB:], c[offC:]
	res.LenB, res.LenC = len(b), len(c)

	n := min(len(ref), len(b), len(c))
	res.Compared = n
	limit := opts.maxDetail()
	for i := 0; i < n; i++ {
		ab := ref[i].Same(b[i])
		ac := ref[i].Same(c[i])
		if ab && ac {
			continue
		}
		res.MismatchCount++
		if limit >= 0 && len(res.Mismatches) >= limit {
			continue
		}
		odd := -1
		switch {
		case b[i].Same(c[i]):
			odd = 0
		case ac:
			odd = 1
		case ab:
			odd = 2
		}
		cr := c[i]
		res.Mismatches = append(res.Mismatches, Mismatch{Index: i, A: ref[i], B: b[i], C: &cr, Odd: odd})
	}
	if n > 0 {
		last := ref[n-1]
		res.LastMatched = &last
	}

	switch {
	case res.MismatchCount > 0:
		res.Verdict = LengthMismatchFail
	case len(ref) == len(b) && len(ref) == len(c):
		res.Verdict = PerfectMatch
	case len(ref) <= len(b) && len(ref) <= len(c):
		res.Verdict = PartialMatchShorter
	default:
		res.Verdict = PartialMatchLonger
		res.Diags.Addf(n, diag.LengthDelta, "reference has records past the common prefix of %d", n)
	}
	return res
}
