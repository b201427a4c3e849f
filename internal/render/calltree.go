package render

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"rvtrace/internal/calltree"
)

type nameCount struct {
	Name  string
	Count int
}

func topCounts(m map[string]int, limit int) []nameCount {
	out := make([]nameCount, 0, len(m))
	for k, v := range m {
		out = append(out, nameCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// WriteCallTreeHTML writes a single-page HTML view of a reconstruction:
// summary, call frequency, frame sizes, the indented tree and pc range.
// At most maxEntries tree nodes are shown.
func WriteCallTreeHTML(w io.Writer, res *calltree.Result, title string, maxEntries int) error {
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

	unresolved := 0
	for _, n := range res.Nodes {
		if !n.Resolved {
			unresolved++
		}
	}

	fmt.Fprintln(bw, "<h2>Summary</h2>")
	fmt.Fprintln(bw, "<table>")
	fmt.Fprintf(bw, "<tr><td>Records</td><td class=\"num\">%d</td></tr>\n", res.Records)
	fmt.Fprintf(bw, "<tr><td>Calls</td><td class=\"num\">%d</td></tr>\n", res.Calls)
	fmt.Fprintf(bw, "<tr><td>Returns</td><td class=\"num\">%d</td></tr>\n", res.Returns)
	fmt.Fprintf(bw, "<tr><td>Call tree entries</td><td class=\"num\">%d</td></tr>\n", len(res.Nodes))
	fmt.Fprintf(bw, "<tr><td>Unresolved calls</td><td class=\"num\">%d</td></tr>\n", unresolved)
	fmt.Fprintf(bw, "<tr><td>Maximum call depth</td><td class=\"num\">%d</td></tr>\n", res.DeepestCall())
	fmt.Fprintf(bw, "<tr><td>Maximum stack height</td><td class=\"num\">%d</td></tr>\n", res.MaxDepth)
	fmt.Fprintf(bw, "<tr><td>Open at end of trace</td><td class=\"num\">%d</td></tr>\n", res.FinalDepth)
	fmt.Fprintln(bw, "</table>")

	if top := topCounts(res.CallCounts, 30); len(top) > 0 {
		fmt.Fprintln(bw, "<h2>Function Call Frequency</h2>")
		fmt.Fprintln(bw, "<table>")
		fmt.Fprintln(bw, "<tr><th>Function</th><th>Entries</th><th></th></tr>")
		for _, nc := range top {
			fmt.Fprintf(bw, "<tr><td class=\"mono\">%s</td><td class=\"num\">%d</td><td><span class=\"mbar\" style=\"width:%dpx\"></span></td></tr>\n",
				htmlEscape(nc.Name), nc.Count, barWidth(nc.Count, top[0].Count, 160))
		}
		fmt.Fprintln(bw, "</table>")
	}

	frames := make(map[string]int)
	for name, fi := range res.FrameSizes {
		if fi.Found && fi.Size > 0 {
			frames[name] = fi.Size
		}
	}
	if top := topCounts(frames, 30); len(top) > 0 {
		fmt.Fprintln(bw, "<h2>Stack Frame Sizes</h2>")
		fmt.Fprintln(bw, "<table>")
		fmt.Fprintln(bw, "<tr><th>Function</th><th>Bytes</th><th></th></tr>")
		for _, nc := range top {
			fmt.Fprintf(bw, "<tr><td class=\"mono\">%s</td><td class=\"num\">%d</td><td><span class=\"mbar\" style=\"width:%dpx\"></span></td></tr>\n",
				htmlEscape(nc.Name), nc.Count, barWidth(nc.Count, top[0].Count, 160))
		}
		fmt.Fprintln(bw, "</table>")
	}

	if len(res.Nodes) > 0 {
		fmt.Fprintln(bw, "<h2>Call Tree</h2>")
		fmt.Fprint(bw, "<div class=\"tree\">")
		shown := res.Nodes[:min(len(res.Nodes), maxEntries)]
		for _, n := range shown {
			indent := strings.Repeat("  ", n.Depth)
			if n.Resolved {
				fmt.Fprintf(bw, "%s%s\n", indent, htmlEscape(n.Label))
			} else {
				fmt.Fprintf(bw, "%s<span class=\"unres\">%s</span> <span class=\"muted\">@0x%08x</span>\n",
					indent, htmlEscape(n.Label), n.PC)
			}
		}
		fmt.Fprintln(bw, "</div>")
		if extra := len(res.Nodes) - len(shown); extra > 0 {
			fmt.Fprintf(bw, "<p class=\"muted\">... %d more calls omitted</p>\n", extra)
		}
	}

	if s := res.PCs; s.Count > 0 {
		fmt.Fprintln(bw, "<h2>PC Range</h2>")
		fmt.Fprintln(bw, "<table>")
		fmt.Fprintf(bw, "<tr><td>Min PC</td><td class=\"mono\">0x%08x</td></tr>\n", s.Min)
		fmt.Fprintf(bw, "<tr><td>Max PC</td><td class=\"mono\">0x%08x</td></tr>\n", s.Max)
		fmt.Fprintf(bw, "<tr><td>Unique PCs</td><td class=\"num\">%d</td></tr>\n", s.Unique)
		if s.OutOfRange > 0 {
			fmt.Fprintf(bw, "<tr><td class=\"unres\">Outside 0x%08x..0x%08x</td><td class=\"num\">%d</td></tr>\n",
				s.RAMLow, s.RAMHigh, s.OutOfRange)
		}
		fmt.Fprintln(bw, "</table>")
	}

	fmt.Fprintln(bw, "</body></html>")
	return bw.Flush()
}
