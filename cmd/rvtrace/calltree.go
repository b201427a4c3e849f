package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/zboralski/lattice/render"

	"rvtrace/internal/callgraph"
	"rvtrace/internal/calltree"
	"rvtrace/internal/diag"
	"rvtrace/internal/disasm"
	"rvtrace/internal/elfx"
	"rvtrace/internal/output"
	rvrender "rvtrace/internal/render"
	"rvtrace/internal/symtab"
	"rvtrace/internal/tracefile"
	"rvtrace/internal/tracefmt"
)

const progressEvery = 100_000

func cmdCalltree(args []string) error {
	fs := flag.NewFlagSet("calltree", flag.ExitOnError)
	tracePath := fs.String("trace", "", "Trace file")
	symsPath := fs.String("syms", "", "Symbol table in nm -n form")
	disasmPath := fs.String("disasm", "", "Disassembly listing (objdump -d form) for frame sizes")
	elfPath := fs.String("elf", "", "Program ELF; supplies symbols and listing when --syms/--disasm are absent")
	outPath := fs.String("out", "call_trace_report.txt", "Report path")
	jsonlPath := fs.String("jsonl", "", "Write call tree nodes as JSON lines")
	jsonPath := fs.String("json", "", "Write the full result as JSON")
	dotPath := fs.String("dot", "", "Write the dynamic call graph as DOT")
	htmlPath := fs.String("html", "", "Write an HTML view of the call tree")
	maxEntries := fs.Int("max-entries", output.DefaultMaxEntries, "Tree and transition lines in the report")
	bucket := fs.Int("bucket", calltree.DefaultBucketWidth, "Trace positions per deduplication bucket")
	ramLow := fs.Uint64("ram-low", calltree.DefaultRAMLow, "Lowest expected pc")
	ramHigh := fs.Uint64("ram-high", calltree.DefaultRAMHigh, "Highest expected pc")
	verbose := fs.Bool("v", false, "Print every stored diagnostic")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tracePath == "" {
		if fs.NArg() != 1 {
			return fmt.Errorf("--trace is required")
		}
		*tracePath = fs.Arg(0)
	}

	var diags diag.Diags
	syms, frames, err := loadSources(*symsPath, *disasmPath, *elfPath, &diags)
	if err != nil {
		return err
	}

	// Nil pointers must not reach the reconstructor as non-nil interfaces.
	var resolver calltree.Resolver
	if syms != nil {
		resolver = syms
		fmt.Fprintf(os.Stderr, "loaded %d symbols (%d functions)\n", syms.Len(), syms.Funcs())
	} else {
		fmt.Fprintf(os.Stderr, "warning: no symbols; every call will be <unresolved>\n")
	}
	var sizer calltree.FrameSizer
	if frames != nil {
		sizer = frames
		fmt.Fprintf(os.Stderr, "indexed %d functions for frame sizes\n", frames.Functions())
	}

	res, format, err := reconstructFile(*tracePath, resolver, sizer, calltree.Options{
		BucketWidth: *bucket,
		RAMLow:      *ramLow,
		RAMHigh:     *ramHigh,
	}, &diags)
	if err != nil {
		return err
	}
	diags.Merge(&res.Diags)

	f, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", *outPath, err)
	}
	defer f.Close()
	title := fmt.Sprintf("Call Trace Report: %s (%s)", *tracePath, format)
	if err := output.WriteCallTrace(f, res, output.ReportOptions{Title: title, MaxEntries: *maxEntries}); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *outPath)

	if *jsonlPath != "" {
		jf, err := os.Create(*jsonlPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", *jsonlPath, err)
		}
		defer jf.Close()
		if err := output.WriteNodesJSONL(jf, res.Nodes); err != nil {
			return err
		}
		if err := jf.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d nodes)\n", *jsonlPath, len(res.Nodes))
	}
	if *jsonPath != "" {
		if err := output.WriteJSON(*jsonPath, res); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", *jsonPath)
	}
	if *htmlPath != "" {
		hf, err := os.Create(*htmlPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", *htmlPath, err)
		}
		defer hf.Close()
		if err := rvrender.WriteCallTreeHTML(hf, res, title, *maxEntries); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
		if err := hf.Close(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", *htmlPath)
	}
	if *dotPath != "" {
		g := callgraph.BuildDynamic(res.Nodes)
		if err := output.WriteFile(*dotPath, render.DOT(g, "calltree")); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d nodes, %d edges)\n", *dotPath, len(g.Nodes), len(g.Edges))
	}

	fmt.Fprintf(os.Stderr, "records: %d, calls: %d, returns: %d (%d classified from trace comments)\n",
		res.Records, res.Calls, res.Returns, res.Annotated)
	fmt.Fprintf(os.Stderr, "call tree entries: %d, unique functions called: %d\n", len(res.Nodes), len(res.CallCounts))
	fmt.Fprintf(os.Stderr, "function transitions: %d, maximum call depth: %d (stack height %d)\n",
		len(res.Transitions), res.DeepestCall(), res.MaxDepth)
	printDiags(os.Stderr, &diags, *verbose)
	return nil
}

// loadSources loads the symbol table and frame index. Explicit files win;
// --elf fills whichever is missing. Either result may be nil.
func loadSources(symsPath, disasmPath, elfPath string, diags *diag.Diags) (*symtab.Table, *disasm.FrameIndex, error) {
	var syms *symtab.Table
	var frames *disasm.FrameIndex
	var err error

	if symsPath != "" {
		if syms, err = tracefile.ReadSymbols(symsPath, diags); err != nil {
			return nil, nil, err
		}
	}
	if disasmPath != "" {
		if frames, err = tracefile.ReadFrameIndex(disasmPath); err != nil {
			return nil, nil, err
		}
	}
	if elfPath == "" || (syms != nil && frames != nil) {
		return syms, frames, nil
	}

	ef, err := elfx.Open(elfPath)
	if err != nil {
		return nil, nil, err
	}
	defer ef.Close()

	if syms == nil {
		entries, err := ef.Symbols()
		switch {
		case errors.Is(err, elfx.ErrNoSymbols):
			fmt.Fprintf(os.Stderr, "warning: %s has no symbol table\n", elfPath)
		case err != nil:
			return nil, nil, err
		default:
			syms = symtab.Build(entries)
		}
	}
	if frames == nil {
		listing, _, err := ef.Listing(disasm.Options{})
		if err != nil {
			return nil, nil, err
		}
		frames = disasm.ParseFrameIndex(listing)
	}
	return syms, frames, nil
}

// reconstructFile streams a trace through a reconstructor without holding
// the records in memory.
func reconstructFile(path string, syms calltree.Resolver, frames calltree.FrameSizer, opts calltree.Options, diags *diag.Diags) (*calltree.Result, tracefmt.Format, error) {
	f, err := tracefile.Open(path)
	if err != nil {
		return nil, tracefmt.Unknown, err
	}
	defer f.Close()

	fmt.Fprintf(os.Stderr, "reading %s (%s)\n", path, f.Codec)
	sc := tracefmt.NewScanner(f, diags)
	r := calltree.New(syms, frames, opts)
	n := 0
	for sc.Scan() {
		r.Step(sc.Record())
		n++
		if n%progressEvery == 0 {
			fmt.Fprintf(os.Stderr, "  processed %d records (depth %d)\n", n, r.Depth())
		}
	}
	if err := sc.Err(); err != nil {
		return nil, sc.Format(), fmt.Errorf("%s: %w", path, err)
	}
	return r.Finish(), sc.Format(), nil
}
