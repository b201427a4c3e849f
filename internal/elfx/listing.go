package elfx

import (
	"errors"
	"fmt"
	"strings"

	"rvtrace/internal/disasm"
	"rvtrace/internal/symtab"
)

// Listing disassembles every executable section into an `objdump -d` style
// listing with a "<name>:" header at each function symbol. It also returns
// the instructions grouped per function.
func (f *File) Listing(opts disasm.Options) (string, []disasm.Func, error) {
	secs, err := f.TextSections()
	if err != nil {
		return "", nil, err
	}
	lookup, err := f.FuncLookup()
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\nfile format %s\n", f.FormatName())
	var funcs []disasm.Func
	for _, sec := range secs {
		fmt.Fprintf(&b, "\nDisassembly of section %s:\n", sec.Name)
		o := opts
		o.BaseAddr = sec.Addr
		insts := disasm.Disassemble(sec.Data, o)
		b.WriteString(disasm.Format(insts, lookup))
		funcs = append(funcs, disasm.SplitFuncs(insts, lookup)...)
	}
	return b.String(), funcs, nil
}

// FuncLookup maps exact function entry addresses to names. A file without
// a symbol table yields a lookup that never matches.
func (f *File) FuncLookup() (disasm.SymbolLookup, error) {
	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, ErrNoSymbols) {
		return nil, err
	}
	names := make(map[uint64]string)
	for _, s := range syms {
		if s.Kind == symtab.Text || s.Kind == symtab.WeakText {
			names[s.Addr] = s.Name
		}
	}
	return disasm.PlaceholderLookup(names), nil
}
