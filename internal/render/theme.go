// Package render produces HTML reports from comparison and call-tree results.
package render

import "strings"

// Theme holds colors for HTML reports.
type Theme struct {
	Background string
	TextColor  string
	Rule       string
	Link       string

	Pass    string // pass verdicts
	Warn    string // partial matches
	Fail    string // fail verdicts, unresolved calls
	Bar     string // frequency and frame bars
	Muted   string // omitted-entry notes
	RowFill string // alternating table rows
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	TextColor:  "#1A1A1A",
	Rule:       "#DDDDDD",
	Link:       "#0B3D91",

	Pass:    "#00695C", // teal
	Warn:    "#E65100", // deep orange
	Fail:    "#FC3D21", // NASA red
	Bar:     "#0B3D91", // NASA blue
	Muted:   "#9E9E9E",
	RowFill: "#ECEFF1", // blue-gray 50
}

func (t Theme) style() string {
	return `body { font-family: "Helvetica Neue", Helvetica, Arial, sans-serif; font-size: 14px; color: ` + t.TextColor + `; background: ` + t.Background + `; margin: 2em; max-width: 1000px; }
h1 { font-size: 18px; font-weight: 600; margin-bottom: 0.5em; }
h2 { font-size: 14px; font-weight: 600; margin-top: 1.5em; border-bottom: 1px solid ` + t.Rule + `; padding-bottom: 4px; }
table { border-collapse: collapse; margin: 0.5em 0; }
th, td { text-align: left; padding: 3px 12px 3px 0; font-size: 13px; }
th { font-weight: 600; }
td.num { text-align: right; font-variant-numeric: tabular-nums; }
tr.alt { background: ` + t.RowFill + `; }
a { color: ` + t.Link + `; }
.mbar { height: 6px; border-radius: 2px; display: inline-block; vertical-align: middle; background: ` + t.Bar + `; }
.verdict { display: inline-block; padding: 2px 8px; border-radius: 2px; color: white; font-weight: 600; }
.mono { font-family: "Courier New", monospace; font-size: 12px; }
.tree { font-family: "Courier New", monospace; font-size: 12px; white-space: pre; line-height: 1.4; }
.unres { color: ` + t.Fail + `; }
.muted { color: ` + t.Muted + `; }
`
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// barWidth scales count against maxCount into [2, width] pixels.
func barWidth(count, maxCount, width int) int {
	if maxCount <= 0 {
		return 0
	}
	return max(count*width/maxCount, 2)
}
