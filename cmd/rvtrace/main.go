package main

import (
	"errors"
	"fmt"
	"os"
)

// errFailed reports a failing verdict. The report has already been printed,
// so main exits non-zero without an error line.
var errFailed = errors.New("traces do not match")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "compare":
		err = cmdCompare(os.Args[2:])
	case "calltree":
		err = cmdCalltree(os.Args[2:])
	case "batch":
		err = cmdBatch(os.Args[2:])
	case "symbols":
		err = cmdSymbols(os.Args[2:])
	case "objdump":
		err = cmdObjdump(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if errors.Is(err, errFailed) {
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `rvtrace - RISC-V execution trace analyzer

Usage:
  rvtrace compare <a> <b>                         Compare two traces (RTL vs simulator)
  rvtrace compare --ref <r> --b <b> --c <c>       Three-way comparison
  rvtrace calltree --trace <t> [--syms <nm>] [--disasm <lst>] [--elf <prog>]
                                                  Reconstruct the call tree
  rvtrace batch   --pairs <file> [--jobs <n>]     Compare many trace pairs in parallel
  rvtrace symbols --elf <prog>                    Print the symbol table in nm -n form
  rvtrace objdump --elf <prog> [--dot <file>] [--cfg <dir>]
                                                  Disassemble executable sections

Flags:
  --json <file>         Write the comparison result as JSON
  --max-detail <n>      Mismatches shown in detail (-1 = all)
  --out <path>          Output file
  --jsonl <file>        Write call tree nodes as JSON lines
  --dot <file>          Write a call graph in Graphviz DOT form

Trace, symbol and listing files may be zstd, gzip or snappy compressed.
Exit status is 1 when a comparison fails.
`)
}
