package render

import (
	"bufio"
	"fmt"
	"io"

	"rvtrace/internal/compare"
	"rvtrace/internal/tracefmt"
)

func (t Theme) verdictColor(v compare.Verdict) string {
	switch v {
	case compare.PerfectMatch, compare.PartialMatchShorter:
		return t.Pass
	case compare.PartialMatchLonger:
		return t.Warn
	}
	return t.Fail
}

// WriteCompareHTML writes a comparison verdict and its detailed mismatches.
// names labels the compared streams in order.
func WriteCompareHTML(w io.Writer, res *compare.Result, title string, names [3]string) error {
	bw := bufio.NewWriter(w)
	t := NASA

	fmt.Fprintf(bw, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
%s</style>
</head>
<body>
`, htmlEscape(title), t.style())
	fmt.Fprintf(bw, "<h1>%s</h1>\n", htmlEscape(title))
	fmt.Fprintf(bw, "<p><span class=\"verdict\" style=\"background:%s\">%s</span></p>\n",
		t.verdictColor(res.Verdict), res.Verdict)

	fmt.Fprintln(bw, "<table>")
	fmt.Fprintf(bw, "<tr><td>%s records</td><td class=\"num\">%d</td></tr>\n", htmlEscape(names[0]), res.LenA)
	fmt.Fprintf(bw, "<tr><td>%s records (aligned)</td><td class=\"num\">%d</td></tr>\n", htmlEscape(names[1]), res.LenB)
	fmt.Fprintf(bw, "<tr><td>%s alignment offset</td><td class=\"num\">%d</td></tr>\n", htmlEscape(names[1]), res.Offset)
	if res.ThreeWay {
		fmt.Fprintf(bw, "<tr><td>%s records (aligned)</td><td class=\"num\">%d</td></tr>\n", htmlEscape(names[2]), res.LenC)
		fmt.Fprintf(bw, "<tr><td>%s alignment offset</td><td class=\"num\">%d</td></tr>\n", htmlEscape(names[2]), res.OffsetC)
	}
	fmt.Fprintf(bw, "<tr><td>Compared</td><td class=\"num\">%d</td></tr>\n", res.Compared)
	fmt.Fprintf(bw, "<tr><td>Mismatches</td><td class=\"num\">%d</td></tr>\n", res.MismatchCount)
	fmt.Fprintln(bw, "</table>")

	if res.Verdict == compare.AlignmentFail {
		fmt.Fprintf(bw, "<p class=\"unres\">%s starts at 0x%08x and %s never reaches it (starts at 0x%08x).</p>\n",
			htmlEscape(names[0]), res.StartA, htmlEscape(names[1]), res.StartB)
	}

	if len(res.Mismatches) > 0 {
		fmt.Fprintln(bw, "<h2>Mismatches</h2>")
		fmt.Fprintln(bw, "<table class=\"mono\">")
		fmt.Fprint(bw, "<tr><th>Entry</th>")
		cols := 2
		if res.ThreeWay {
			cols = 3
		}
		for _, n := range names[:cols] {
			fmt.Fprintf(bw, "<th>%s</th>", htmlEscape(n))
		}
		fmt.Fprintln(bw, "</tr>")
		for i, m := range res.Mismatches {
			class := ""
			if i%2 == 1 {
				class = ` class="alt"`
			}
			fmt.Fprintf(bw, "<tr%s><td class=\"num\">%d</td>", class, m.Index)
			writeCell(bw, m.A, m.Odd == 0)
			writeCell(bw, m.B, m.Odd == 1)
			if m.C != nil {
				writeCell(bw, *m.C, m.Odd == 2)
			}
			fmt.Fprintln(bw, "</tr>")
		}
		fmt.Fprintln(bw, "</table>")
		if res.Truncated() {
			fmt.Fprintf(bw, "<p class=\"muted\">... %d more mismatches not shown</p>\n", res.MismatchCount-len(res.Mismatches))
		}
	}

	fmt.Fprintln(bw, "</body></html>")
	return bw.Flush()
}

func writeCell(bw *bufio.Writer, r tracefmt.Record, odd bool) {
	class := ""
	if odd {
		class = ` class="unres"`
	}
	fmt.Fprintf(bw, "<td%s>0x%08x (0x%08x)</td>", class, r.PC, r.Instr)
}
