package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"rvtrace/internal/compare"
	"rvtrace/internal/diag"
	"rvtrace/internal/output"
)

// pairJob is one line of a pairs file: two or three traces to compare.
type pairJob struct {
	Line  int      `json:"line"`
	Files []string `json:"files"`
}

type pairResult struct {
	pairJob
	Verdict       string `json:"verdict,omitempty"`
	Pass          bool   `json:"pass"`
	MismatchCount int    `json:"mismatch_count"`
	Offset        int    `json:"alignment_offset"`
	Compared      int    `json:"compared"`
	Warnings      string `json:"warnings,omitempty"`
	Error         string `json:"error,omitempty"`
}

type batchSummary struct {
	Pairs  int          `json:"pairs"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Errors int          `json:"errors"`
	Runs   []pairResult `json:"runs"`
}

func cmdBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	pairsPath := fs.String("pairs", "", "File listing trace pairs, one \"a b [c]\" per line")
	outPath := fs.String("out", "", "Write the JSON summary to this file instead of stdout")
	jobs := fs.Int("jobs", runtime.NumCPU(), "Comparisons run in parallel")
	maxDetail := fs.Int("max-detail", compare.DefaultMaxDetail, "Mismatches kept per pair (-1 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pairsPath == "" {
		return fmt.Errorf("--pairs is required")
	}

	pairs, err := readPairs(*pairsPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "comparing %d pairs with %d workers\n", len(pairs), max(*jobs, 1))

	// Each worker writes only its own slot.
	results := make([]pairResult, len(pairs))
	var g errgroup.Group
	g.SetLimit(max(*jobs, 1))
	for i, p := range pairs {
		g.Go(func() error {
			results[i] = comparePair(p, compare.Options{MaxDetail: *maxDetail})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sum := batchSummary{Pairs: len(results), Runs: results}
	for _, r := range results {
		switch {
		case r.Error != "":
			sum.Errors++
			fmt.Fprintf(os.Stderr, "  line %d: error: %s\n", r.Line, r.Error)
		case r.Pass:
			sum.Passed++
		default:
			sum.Failed++
			fmt.Fprintf(os.Stderr, "  line %d: %s (%s)\n", r.Line, r.Verdict, strings.Join(r.Files, " "))
		}
	}

	if *outPath != "" {
		if err := output.WriteJSON(*outPath, sum); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", *outPath)
	} else if err := output.EncodeJSON(os.Stdout, sum); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d/%d pairs passed, %d failed, %d errors\n", sum.Passed, sum.Pairs, sum.Failed, sum.Errors)

	if sum.Passed != sum.Pairs {
		return errFailed
	}
	return nil
}

func comparePair(p pairJob, opts compare.Options) pairResult {
	r := pairResult{pairJob: p}
	var diags diag.Diags
	traces, err := loadTraces(p.Files, &diags, nil)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	res := runCompare(traces, opts)
	diags.Merge(&res.Diags)

	r.Verdict = res.Verdict.String()
	r.Pass = res.Pass()
	r.MismatchCount = res.MismatchCount
	r.Offset = res.Offset
	r.Compared = res.Compared
	r.Warnings = diags.Summary()
	return r
}

// readPairs parses a pairs file. Blank lines and '#' comments are ignored;
// relative paths are taken relative to the pairs file.
func readPairs(path string) ([]pairJob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dir := filepath.Dir(path)
	var pairs []pairJob
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 && len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: want 2 or 3 paths, got %d", path, n, len(fields))
		}
		for i, p := range fields {
			if !filepath.IsAbs(p) {
				fields[i] = filepath.Join(dir, p)
			}
		}
		pairs = append(pairs, pairJob{Line: n, Files: fields})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return pairs, nil
}
