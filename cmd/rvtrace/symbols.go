package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"rvtrace/internal/elfx"
	"rvtrace/internal/symtab"
)

func cmdSymbols(args []string) error {
	fs := flag.NewFlagSet("symbols", flag.ExitOnError)
	elfPath := fs.String("elf", "", "Program ELF")
	outPath := fs.String("out", "", "Output file (default stdout)")
	funcsOnly := fs.Bool("funcs", false, "Only text symbols")
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

	entries, err := ef.Symbols()
	if err != nil {
		return err
	}
	if *funcsOnly {
		kept := entries[:0]
		for _, e := range entries {
			if e.Kind == symtab.Text || e.Kind == symtab.WeakText {
				kept = append(kept, e)
			}
		}
		entries = kept
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
	if err := symtab.WriteNM(w, entries); err != nil {
		return fmt.Errorf("write symbols: %w", err)
	}
	fmt.Fprintf(os.Stderr, "%d symbols\n", len(entries))
	return nil
}
