// Package elfx provides ELF loading helpers for RISC-V test programs: symbol
// listing in `nm -n` form and executable section extraction for
// disassembly.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"sort"

	"rvtrace/internal/symtab"
)

var (
	ErrNotELF     = errors.New("elfx: not an ELF file")
	ErrNotRISCV   = errors.New("elfx: not RISC-V (EM_RISCV)")
	ErrNoSymbols  = errors.New("elfx: no symbol table")
	ErrNoTextCode = errors.New("elfx: no executable sections")
)

// File wraps a debug/elf.File with convenience methods for trace analysis.
type File struct {
	ELF *elf.File
	f   *os.File
}

// Open opens an ELF file and validates it is a RISC-V executable or shared
// object.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	if ef.Machine != elf.EM_RISCV {
		ef.Close()
		f.Close()
		return nil, ErrNotRISCV
	}

	return &File{ELF: ef, f: f}, nil
}

// Close releases resources.
func (f *File) Close() error {
	err := f.ELF.Close()
	if cerr := f.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Is64 reports an ELFCLASS64 file.
func (f *File) Is64() bool { return f.ELF.Class == elf.ELFCLASS64 }

// FormatName returns the BFD target name objdump prints for the file.
func (f *File) FormatName() string {
	if f.Is64() {
		return "elf64-littleriscv"
	}
	return "elf32-littleriscv"
}

// Symbols returns the static symbol table as nm would list it with -n:
// ascending address, type letters derived from binding, type and section
// flags. Section, file and unnamed symbols are omitted.
func (f *File) Symbols() ([]symtab.Entry, error) {
	syms, err := f.ELF.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil, ErrNoSymbols
		}
		return nil, fmt.Errorf("elfx: symtab: %w", err)
	}

	entries := make([]symtab.Entry, 0, len(syms))
	for _, s := range syms {
		typ := elf.ST_TYPE(s.Info)
		if s.Name == "" || typ == elf.STT_SECTION || typ == elf.STT_FILE {
			continue
		}
		l := f.letter(s)
		if l == 'U' {
			continue
		}
		entries = append(entries, symtab.Entry{
			Addr:   s.Value,
			Name:   s.Name,
			Letter: l,
			Kind:   symtab.KindOf(l),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Addr < entries[j].Addr })
	return entries, nil
}

// letter approximates nm's symbol type letter.
func (f *File) letter(s elf.Symbol) byte {
	bind := elf.ST_BIND(s.Info)
	if s.Section == elf.SHN_UNDEF {
		if bind == elf.STB_WEAK {
			return 'w'
		}
		return 'U'
	}

	var c byte
	switch {
	case s.Section == elf.SHN_ABS:
		c = 'a'
	case s.Section == elf.SHN_COMMON:
		c = 'c'
	case int(s.Section) < len(f.ELF.Sections):
		sec := f.ELF.Sections[s.Section]
		switch {
		case sec.Flags&elf.SHF_EXECINSTR != 0:
			c = 't'
		case sec.Type == elf.SHT_NOBITS:
			c = 'b'
		case sec.Flags&elf.SHF_WRITE != 0:
			c = 'd'
		default:
			c = 'r'
		}
	default:
		c = '?'
	}

	switch bind {
	case elf.STB_WEAK:
		if c == 't' {
			return 'W'
		}
		return 'V'
	case elf.STB_GLOBAL:
		if c >= 'a' && c <= 'z' {
			return c - 'a' + 'A'
		}
	}
	return c
}

// Section is an executable section's bytes.
type Section struct {
	Name string
	Addr uint64
	Data []byte
}

// TextSections returns the contents of all allocated executable sections in
// address order.
func (f *File) TextSections() ([]Section, error) {
	var out []Section
	for _, s := range f.ELF.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 || s.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("elfx: read %s: %w", s.Name, err)
		}
		out = append(out, Section{Name: s.Name, Addr: s.Addr, Data: data})
	}
	if len(out) == 0 {
		return nil, ErrNoTextCode
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out, nil
}
