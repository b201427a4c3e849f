package output

import (
	"bufio"
	"fmt"
	"io"

	"rvtrace/internal/compare"
	"rvtrace/internal/disasm"
	"rvtrace/internal/tracefmt"
)

// Labels name the compared streams in reports.
type Labels struct {
	A, B, C string
}

// DefaultLabels follow the usual RTL-versus-simulator setup.
var DefaultLabels = Labels{A: "RTL", B: "SW Sim", C: "Ref"}

func (l Labels) effective() Labels {
	if l.A == "" {
		l.A = DefaultLabels.A
	}
	if l.B == "" {
		l.B = DefaultLabels.B
	}
	if l.C == "" {
		l.C = DefaultLabels.C
	}
	return l
}

// WriteComparison renders a comparison result as the familiar [PASS]/[FAIL]
// console report. Mismatched instructions are disassembled when possible.
func WriteComparison(w io.Writer, res *compare.Result, labels Labels) error {
	l := labels.effective()
	bw := bufio.NewWriter(w)
	width := max(len(l.A), len(l.B), len(l.C)) + 1

	if res.ThreeWay {
		printer.Fprintf(bw, "Trace entries: %s=%d %s=%d %s=%d\n", l.A, res.LenA, l.B, res.LenB+res.Offset, l.C, res.LenC+res.OffsetC)
	} else {
		printer.Fprintf(bw, "Trace entries: %s=%d %s=%d\n", l.A, res.LenA, l.B, res.LenB+res.Offset)
	}

	switch res.Verdict {
	case compare.EmptyInputFail:
		fmt.Fprintf(bw, "\n[FAIL] One or both traces are empty\n")
		return bw.Flush()
	case compare.AlignmentFail:
		fmt.Fprintf(bw, "\n[FAIL] Cannot align traces - %s starts at 0x%08x, %s starts at 0x%08x\n",
			l.A, res.StartA, l.B, res.StartB)
		return bw.Flush()
	}

	if res.Offset > 0 {
		printer.Fprintf(bw, "Aligning traces: %s offset = %d (skipping bootloader)\n", l.B, res.Offset)
	}
	if res.ThreeWay && res.OffsetC > 0 {
		printer.Fprintf(bw, "Aligning traces: %s offset = %d (skipping bootloader)\n", l.C, res.OffsetC)
	}

	for _, m := range res.Mismatches {
		fmt.Fprintf(bw, "\nMismatch at entry %d:", m.Index)
		if res.ThreeWay && m.Odd >= 0 {
			fmt.Fprintf(bw, " (%s disagrees)", [3]string{l.A, l.B, l.C}[m.Odd])
		}
		bw.WriteByte('\n')
		writeRecord(bw, l.A+":", width, m.A)
		writeRecord(bw, l.B+":", width, m.B)
		if m.C != nil {
			writeRecord(bw, l.C+":", width, *m.C)
		}
	}
	if res.Truncated() {
		printer.Fprintf(bw, "\n... stopping after %d mismatches\n", len(res.Mismatches))
	}

	if res.ThreeWay {
		writeThreeWayVerdict(bw, res, l)
	} else {
		writeTwoWayVerdict(bw, res, l)
	}
	return bw.Flush()
}

func writeRecord(bw *bufio.Writer, label string, width int, r tracefmt.Record) {
	fmt.Fprintf(bw, "  %-*s PC=0x%08x INSTR=0x%08x", width, label, r.PC, r.Instr)
	if text := disasm.DisasmOne(r.Instr); text != "" {
		fmt.Fprintf(bw, "  %s", text)
	}
	bw.WriteByte('\n')
}

func writeTwoWayVerdict(bw *bufio.Writer, res *compare.Result, l Labels) {
	switch res.Verdict {
	case compare.PerfectMatch:
		fmt.Fprintf(bw, "\n[PASS] Traces match perfectly!\n")
	case compare.PartialMatchShorter:
		printer.Fprintf(bw, "\n[PASS] All %d %s instructions match %s\n", res.LenA, l.A, l.B)
		printer.Fprintf(bw, "  (%s continued for %d more instructions)\n", l.B, -res.Extra())
		printer.Fprintf(bw, "  %s trace ends at line %d\n", l.A, res.LenA)
		if last := res.LastMatched; last != nil {
			fmt.Fprintf(bw, "  Last %s instruction: PC=0x%08x INSTR=0x%08x\n", l.A, last.PC, last.Instr)
		}
	case compare.PartialMatchLonger:
		printer.Fprintf(bw, "\n[WARNING] Length mismatch: %s=%d %s=%d\n", l.A, res.LenA, l.B, res.LenB)
		printer.Fprintf(bw, "  All %s instructions matched, but %s trace has %d extra entries\n", l.B, l.A, res.Extra())
		printer.Fprintf(bw, "  %s trace ends at line %d (after alignment)\n", l.B, res.LenB+res.Offset)
		printer.Fprintf(bw, "  %s continues from line %d to %d\n", l.A, res.LenB+1, res.LenA)
		if last := res.LastMatched; last != nil {
			fmt.Fprintf(bw, "  Last matching instruction: PC=0x%08x\n", last.PC)
		}
		if first := res.FirstUnmatched; first != nil {
			fmt.Fprintf(bw, "  First unmatched %s instruction (line %d): PC=0x%08x INSTR=0x%08x\n",
				l.A, res.LenB+1, first.PC, first.Instr)
		}
		fmt.Fprintf(bw, "\n[PASS] Partial match - core instructions verified (extra entries are acceptable)\n")
	default:
		printer.Fprintf(bw, "\n[FAIL] Found %d mismatches\n", res.MismatchCount)
		if d := res.Extra(); d != 0 {
			printer.Fprintf(bw, "  Length mismatch: %s=%d %s=%d\n", l.A, res.LenA, l.B, res.LenB)
			if d > 0 {
				printer.Fprintf(bw, "  %s has %d extra entries after line %d\n", l.A, d, res.LenB)
			} else {
				printer.Fprintf(bw, "  %s has %d extra entries after line %d\n", l.B, -d, res.LenA)
			}
		}
	}
}

func writeThreeWayVerdict(bw *bufio.Writer, res *compare.Result, l Labels) {
	if res.Pass() {
		printer.Fprintf(bw, "\n[PASS] %s, %s and %s agree on all %d common instructions\n", l.A, l.B, l.C, res.Compared)
		return
	}
	printer.Fprintf(bw, "\n[FAIL] Found %d mismatches in %d common instructions\n", res.MismatchCount, res.Compared)
}
