package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"rvtrace/internal/callgraph"
	"rvtrace/internal/disasm"
	"rvtrace/internal/elfx"
	"rvtrace/internal/output"
)

func cmdObjdump(args []string) error {
	fs := flag.NewFlagSet("objdump", flag.ExitOnError)
	elfPath := fs.String("elf", "", "Program ELF")
	outPath := fs.String("out", "", "Listing file (default stdout)")
	dotPath := fs.String("dot", "", "Write the static call graph as DOT")
	cfgDir := fs.String("cfg", "", "Write one CFG DOT per function into this directory")
	maxSteps := fs.Int("max-steps", 0, "Instruction decode cap per section (0 = default)")
	window := fs.Int("window", 8, "Instructions an auipc stays live for jalr resolution")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *elfPath == "" {
		return fmt.Errorf("--elf is required")
	}

	ef, err := elfx.Open(*elfPath)
	if err != nil {
		return err
	}
	defer ef.Close()

	listing, funcs, err := ef.Listing(disasm.Options{MaxSteps: *maxSteps})
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", *outPath, err)
		}
		defer f.Close()
		w = f
	}
	if _, err := io.WriteString(w, listing); err != nil {
		return fmt.Errorf("write listing: %w", err)
	}
	fmt.Fprintf(os.Stderr, "disassembled %d functions\n", len(funcs))

	if *dotPath == "" && *cfgDir == "" {
		return nil
	}
	lookup, err := ef.FuncLookup()
	if err != nil {
		return err
	}
	infos := callgraph.Funcs(funcs, lookup, *window)

	if *dotPath != "" {
		cg := callgraph.BuildCallGraph(infos)
		if err := output.WriteFile(*dotPath, render.DOT(cg, "callgraph")); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d nodes, %d edges)\n", *dotPath, len(cg.Nodes), len(cg.Edges))
	}

	if *cfgDir != "" {
		n := 0
		for _, fi := range infos {
			lcfg, nblocks := callgraph.BuildFuncCFG(fi.Name, fi.Insts, fi.CallEdges)
			if nblocks <= 1 {
				continue
			}
			g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}
			path := filepath.Join(*cfgDir, safeName(fi.Name)+".dot")
			if err := output.WriteFile(path, render.DOTCFG(g, fi.Name)); err != nil {
				return err
			}
			n++
		}
		fmt.Fprintf(os.Stderr, "wrote %d per-function CFG DOTs to %s\n", n, *cfgDir)
	}
	return nil
}

// safeName maps a symbol to a file name.
func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '<', '>', '*', '?', '"', '|':
			return '_'
		}
		return r
	}, name)
}
