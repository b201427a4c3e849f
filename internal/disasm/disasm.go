// Package disasm provides RISC-V disassembly and opcode classification for
// trace analysis.
package disasm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/arch/riscv64/riscv64asm"
)

// Inst is a decoded RISC-V instruction with address and raw bits.
type Inst struct {
	Addr     uint64
	Raw      uint32
	Size     int // 2 for compressed, 4 otherwise
	Mnemonic string
	Operands string
	Text     string // full disassembly
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	BaseAddr uint64       // VA of the first byte in Data
	MaxSteps int          // maximum instructions to decode; 0 = 10M
	Symbols  SymbolLookup // optional symbol resolver
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// InstLen returns the encoded length implied by the low opcode bits.
func InstLen(lo uint16) int {
	if lo&0x3 != 0x3 {
		return 2
	}
	return 4
}

// Disassemble decodes RISC-V instructions (base and compressed) from a byte
// region. Returns decoded instructions up to MaxSteps or end of data.
func Disassemble(data []byte, opts Options) []Inst {
	maxSteps := opts.effectiveMax()
	result := make([]Inst, 0, len(data)/4)

	off := 0
	for len(result) < maxSteps && off+2 <= len(data) {
		lo := binary.LittleEndian.Uint16(data[off:])
		size := InstLen(lo)
		if off+size > len(data) {
			break
		}
		var raw uint32
		if size == 4 {
			raw = binary.LittleEndian.Uint32(data[off:])
		} else {
			raw = uint32(lo)
		}
		inst := decode(data[off:off+size], raw, size)
		inst.Addr = opts.BaseAddr + uint64(off)
		result = append(result, inst)
		off += size
	}
	return result
}

func decode(src []byte, raw uint32, size int) Inst {
	inst := Inst{Raw: raw, Size: size}
	dec, err := riscv64asm.Decode(src)
	if err != nil {
		if size == 2 {
			inst.Mnemonic = ".short"
			inst.Operands = fmt.Sprintf("0x%04x", raw)
		} else {
			inst.Mnemonic = ".word"
			inst.Operands = fmt.Sprintf("0x%08x", raw)
		}
		inst.Text = inst.Mnemonic + " " + inst.Operands
		return inst
	}
	inst.Text = riscv64asm.GNUSyntax(dec)
	parts := strings.SplitN(inst.Text, " ", 2)
	inst.Mnemonic = parts[0]
	if len(parts) > 1 {
		inst.Operands = parts[1]
	}
	return inst
}

// DisasmOne decodes a single instruction from its raw encoding as it
// appears in a trace. Returns "" if decoding fails.
func DisasmOne(raw uint32) string {
	size := InstLen(uint16(raw))
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, raw)
	dec, err := riscv64asm.Decode(buf[:size])
	if err != nil {
		return ""
	}
	return riscv64asm.GNUSyntax(dec)
}

// Format renders instructions as an `objdump -d` style listing. A
// "<addr> <name>:" header is written before every address that lookup
// names, which is what FrameIndex uses as a function boundary.
func Format(insts []Inst, lookup SymbolLookup) string {
	var b strings.Builder
	for _, inst := range insts {
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "\n%08x <%s>:\n", inst.Addr, name)
			}
		}
		fmt.Fprintf(&b, "%8x:\t", inst.Addr)
		if inst.Size == 2 {
			fmt.Fprintf(&b, "%04x                \t", inst.Raw)
		} else {
			fmt.Fprintf(&b, "%08x            \t", inst.Raw)
		}
		b.WriteString(inst.Mnemonic)
		if inst.Operands != "" {
			b.WriteByte('\t')
			b.WriteString(inst.Operands)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// PlaceholderLookup returns a SymbolLookup over a fixed set of entry points.
func PlaceholderLookup(entryPoints map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		if name, ok := entryPoints[addr]; ok {
			return name, true
		}
		return "", false
	}
}

// Func is a contiguous range of instructions attributed to one symbol.
type Func struct {
	Name  string
	Addr  uint64
	Insts []Inst
}

// SplitFuncs partitions insts at every address lookup names. Instructions
// before the first named address are dropped.
func SplitFuncs(insts []Inst, lookup SymbolLookup) []Func {
	var funcs []Func
	for _, inst := range insts {
		if name, ok := lookup(inst.Addr); ok {
			funcs = append(funcs, Func{Name: name, Addr: inst.Addr})
		}
		if len(funcs) == 0 {
			continue
		}
		f := &funcs[len(funcs)-1]
		f.Insts = append(f.Insts, inst)
	}
	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Addr < funcs[j].Addr })
	return funcs
}
