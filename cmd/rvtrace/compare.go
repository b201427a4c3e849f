package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"rvtrace/internal/compare"
	"rvtrace/internal/diag"
	"rvtrace/internal/output"
	rvrender "rvtrace/internal/render"
	"rvtrace/internal/tracefile"
	"rvtrace/internal/tracefmt"
)

// compareReport is the --json payload.
type compareReport struct {
	Files       []string        `json:"files"`
	Formats     []string        `json:"formats"`
	Result      *compare.Result `json:"result"`
	Diagnostics []diag.Diag     `json:"diagnostics,omitempty"`
}

func cmdCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	ref := fs.String("ref", "", "Reference trace (three-way mode, with --b and --c)")
	second := fs.String("b", "", "Second trace")
	third := fs.String("c", "", "Third trace")
	jsonOut := fs.String("json", "", "Write the result as JSON to this file")
	htmlOut := fs.String("html", "", "Write an HTML report to this file")
	outPath := fs.String("out", "", "Write the report to this file instead of stdout")
	maxDetail := fs.Int("max-detail", compare.DefaultMaxDetail, "Mismatches shown in detail (-1 = all)")
	labelA := fs.String("label-a", output.DefaultLabels.A, "Name of the first trace")
	labelB := fs.String("label-b", output.DefaultLabels.B, "Name of the second trace")
	labelC := fs.String("label-c", output.DefaultLabels.C, "Name of the third trace")
	verbose := fs.Bool("v", false, "Print every stored diagnostic")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var paths []string
	switch {
	case *ref != "" && *second != "" && *third != "":
		paths = []string{*ref, *second, *third}
	case *ref != "" && *second != "":
		paths = []string{*ref, *second}
	case fs.NArg() == 2 || fs.NArg() == 3:
		paths = fs.Args()
	default:
		return fmt.Errorf("need two or three traces: compare <a> <b> [c] or --ref <r> --b <b> [--c <c>]")
	}

	var diags diag.Diags
	traces, err := loadTraces(paths, &diags, os.Stderr)
	if err != nil {
		return err
	}
	res := runCompare(traces, compare.Options{MaxDetail: *maxDetail})
	diags.Merge(&res.Diags)

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", *outPath, err)
		}
		defer f.Close()
		w = f
	}
	labels := output.Labels{A: *labelA, B: *labelB, C: *labelC}
	if err := output.WriteComparison(w, res, labels); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if *jsonOut != "" {
		rep := compareReport{Files: paths, Result: res, Diagnostics: diags.Items()}
		for _, t := range traces {
			rep.Formats = append(rep.Formats, t.Format.String())
		}
		if err := output.WriteJSON(*jsonOut, rep); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", *jsonOut)
	}
	if *htmlOut != "" {
		f, err := os.Create(*htmlOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", *htmlOut, err)
		}
		defer f.Close()
		title := fmt.Sprintf("Trace comparison: %s", strings.Join(paths, " vs "))
		if err := rvrender.WriteCompareHTML(f, res, title, [3]string{*labelA, *labelB, *labelC}); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", *htmlOut)
	}
	printDiags(os.Stderr, &diags, *verbose)

	if !res.Pass() {
		return errFailed
	}
	return nil
}

// loadTraces parses each path fully. A file whose format cannot be detected
// is an error; a file with no records is kept and yields an empty-input
// verdict.
func loadTraces(paths []string, diags *diag.Diags, progress io.Writer) ([]*tracefmt.Trace, error) {
	traces := make([]*tracefmt.Trace, len(paths))
	for i, p := range paths {
		t, err := tracefile.ReadTrace(p, diags)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			fmt.Fprintf(progress, "parsed %d records from %s (%s, %d skipped)\n",
				t.Len(), p, t.Format, t.Skipped)
		}
		traces[i] = t
	}
	return traces, nil
}

func runCompare(traces []*tracefmt.Trace, opts compare.Options) *compare.Result {
	if len(traces) == 3 {
		return compare.Compare3(traces[0].Records, traces[1].Records, traces[2].Records, opts)
	}
	return compare.Compare(traces[0].Records, traces[1].Records, opts)
}

func printDiags(w io.Writer, d *diag.Diags, verbose bool) {
	if d.Len() == 0 {
		return
	}
	if verbose {
		for _, it := range d.Items() {
			fmt.Fprintf(w, "warning: %s\n", it)
		}
	}
	fmt.Fprintf(w, "warnings: %s\n", d.Summary())
}
