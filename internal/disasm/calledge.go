package disasm

import "fmt"

// CallEdge represents a call site extracted from disassembly.
type CallEdge struct {
	FromPC     uint64 `json:"from_pc"`
	Kind       string `json:"kind"`                // "jal" or "jalr"
	TargetPC   uint64 `json:"target_pc,omitempty"` // resolved VA
	TargetName string `json:"target_name,omitempty"`
	Reg        string `json:"reg,omitempty"` // base register for jalr (e.g. "x6")
}

// RegDef records the last auipc value of a register within the window.
type RegDef struct {
	Value uint64
	Valid bool
	Age   int // instructions since definition
}

// RegTracker tracks auipc results for x0-x31 so that the `call` pseudo
// (auipc rX, hi; jalr ra, lo(rX)) can be resolved to a target.
// Definitions older than w instructions are expired.
type RegTracker struct {
	defs [regMax + 1]RegDef
	w    int
}

// NewRegTracker creates a tracker with the given window size.
func NewRegTracker(w int) *RegTracker {
	return &RegTracker{w: w}
}

// Reset clears all tracked definitions. Call between functions.
func (rt *RegTracker) Reset() {
	for i := range rt.defs {
		rt.defs[i] = RegDef{}
	}
}

// Tick ages all definitions by 1 and expires those beyond the window.
func (rt *RegTracker) Tick() {
	for i := range rt.defs {
		if rt.defs[i].Valid {
			rt.defs[i].Age++
			if rt.defs[i].Age > rt.w {
				rt.defs[i] = RegDef{}
			}
		}
	}
}

// Define records that register rd holds value. Writes to x0 are discarded.
func (rt *RegTracker) Define(rd int, value uint64) {
	if rd <= RegZero || rd > regMax {
		return
	}
	rt.defs[rd] = RegDef{Value: value, Valid: true}
}

// Lookup returns the tracked value of register rd.
func (rt *RegTracker) Lookup(rd int) (uint64, bool) {
	if rd < 0 || rd > regMax || !rt.defs[rd].Valid {
		return 0, false
	}
	return rt.defs[rd].Value, true
}

// Kill clears the definition for a register.
func (rt *RegTracker) Kill(rd int) {
	if rd < 0 || rd > regMax {
		return
	}
	rt.defs[rd] = RegDef{}
}

// writesRd reports whether a 32-bit instruction with this major opcode
// writes its rd field.
func writesRd(raw uint32) bool {
	switch Opcode(raw) {
	case 0x03, // loads
		0x13, // op-imm
		0x17, // auipc
		0x1B, // op-imm-32
		0x33, // op
		0x37, // lui
		0x3B, // op-32
		opJAL, opJALR:
		return true
	case 0x73: // system: csr* write rd, ecall/ebreak have rd = 0
		return true
	}
	return false
}

// ExtractCallEdges scans instructions for jal/jalr calls that link into ra.
// jalr targets are resolved through auipc tracking with window w.
// symbols resolves target addresses to names.
func ExtractCallEdges(insts []Inst, symbols SymbolLookup, w int) []CallEdge {
	rt := NewRegTracker(w)
	var edges []CallEdge

	for _, inst := range insts {
		if inst.Size != 4 {
			rt.Tick()
			continue
		}
		raw := inst.Raw

		if IsCall(raw) {
			e := CallEdge{FromPC: inst.Addr}
			if target, ok := JALTarget(raw, inst.Addr); ok {
				e.Kind = "jal"
				e.TargetPC = target
			} else {
				e.Kind = "jalr"
				rs1 := Rs1(raw)
				e.Reg = fmt.Sprintf("x%d", rs1)
				if base, ok := rt.Lookup(rs1); ok {
					imm, _ := JALRImm(raw)
					e.TargetPC = uint64(int64(base) + imm)
				}
			}
			if e.TargetPC != 0 && symbols != nil {
				if name, found := symbols(e.TargetPC); found {
					e.TargetName = name
				}
			}
			edges = append(edges, e)
			rt.Kill(RegRA)
			rt.Tick()
			continue
		}

		if rd, value, ok := AUIPCValue(raw, inst.Addr); ok {
			rt.Tick()
			rt.Define(rd, value)
			continue
		}

		if writesRd(raw) {
			rt.Kill(Rd(raw))
		}
		rt.Tick()
	}

	return edges
}
