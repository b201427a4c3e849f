package disasm

// RISC-V control transfer detection from raw encodings.
// IsCall and IsReturn examine only the 7-bit major opcode, so compressed
// c.jal/c.jalr are never classified as calls or returns.

const (
	opBRANCH = 0x63
	opJAL    = 0x6F
	opJALR   = 0x67
	opAUIPC  = 0x17

	RegZero = 0  // x0
	RegRA   = 1  // x1, return address
	RegSP   = 2  // x2, stack pointer
	regMax  = 31 // highest GPR
)

// Opcode returns the low 7-bit major opcode.
func Opcode(raw uint32) uint32 { return raw & 0x7F }

// Rd returns the destination register field.
func Rd(raw uint32) int { return int((raw >> 7) & 0x1F) }

// Rs1 returns the first source register field.
func Rs1(raw uint32) int { return int((raw >> 15) & 0x1F) }

// IsCall reports a jal/jalr that links into ra.
func IsCall(raw uint32) bool {
	op := Opcode(raw)
	return (op == opJAL || op == opJALR) && Rd(raw) == RegRA
}

// IsReturn reports jalr x0, off(ra).
func IsReturn(raw uint32) bool {
	return Opcode(raw) == opJALR && Rd(raw) == RegZero && Rs1(raw) == RegRA
}

// JALTarget returns the absolute target of a jal at pc.
func JALTarget(raw uint32, pc uint64) (uint64, bool) {
	if Opcode(raw) != opJAL {
		return 0, false
	}
	imm := ((raw>>31)&1)<<20 |
		((raw>>21)&0x3FF)<<1 |
		((raw>>20)&1)<<11 |
		((raw>>12)&0xFF)<<12
	return uint64(int64(pc) + int64(signExtend(imm, 21))), true
}

// JALRImm returns the sign-extended 12-bit offset of a jalr.
func JALRImm(raw uint32) (int64, bool) {
	if Opcode(raw) != opJALR {
		return 0, false
	}
	return int64(int32(raw) >> 20), true
}

// AUIPCValue returns the register value produced by an auipc at pc.
func AUIPCValue(raw uint32, pc uint64) (rd int, value uint64, ok bool) {
	if Opcode(raw) != opAUIPC {
		return 0, 0, false
	}
	return Rd(raw), uint64(int64(pc) + int64(int32(raw&0xFFFFF000))), true
}

// BranchInfo describes an instruction that ends a basic block.
type BranchInfo struct {
	Target uint64 // absolute target, 0 for indirect jumps
	Cond   bool   // conditional branch: falls through when not taken
	IsRet  bool   // ret or indirect jump: no static successor
}

// DecodeBranch classifies block terminators: conditional branches, jumps
// that do not link, and register-indirect jumps. Calls return nil because
// control comes back to the next instruction. inst.Size selects the 16-bit
// compressed encodings.
func DecodeBranch(inst Inst) *BranchInfo {
	if inst.Size == 2 {
		return decodeCompressedBranch(uint16(inst.Raw), inst.Addr)
	}
	raw, pc := inst.Raw, inst.Addr
	switch Opcode(raw) {
	case opBRANCH:
		imm := ((raw>>31)&1)<<12 |
			((raw>>7)&1)<<11 |
			((raw>>25)&0x3F)<<5 |
			((raw>>8)&0xF)<<1
		return &BranchInfo{Target: uint64(int64(pc) + int64(signExtend(imm, 13))), Cond: true}
	case opJAL:
		if Rd(raw) != RegZero {
			return nil
		}
		target, _ := JALTarget(raw, pc)
		return &BranchInfo{Target: target}
	case opJALR:
		if Rd(raw) != RegZero {
			return nil
		}
		return &BranchInfo{IsRet: true}
	}
	return nil
}

// decodeCompressedBranch handles c.j, c.beqz, c.bnez and c.jr.
func decodeCompressedBranch(h uint16, pc uint64) *BranchInfo {
	raw := uint32(h)
	bit := func(n uint) uint32 { return (raw >> n) & 1 }
	switch {
	case raw&3 == 1 && raw>>13 == 0b101: // c.j
		imm := bit(12)<<11 | bit(11)<<4 | ((raw>>9)&3)<<8 | bit(8)<<10 |
			bit(7)<<6 | bit(6)<<7 | ((raw>>3)&7)<<1 | bit(2)<<5
		return &BranchInfo{Target: uint64(int64(pc) + int64(signExtend(imm, 12)))}
	case raw&3 == 1 && (raw>>13 == 0b110 || raw>>13 == 0b111): // c.beqz, c.bnez
		imm := bit(12)<<8 | ((raw>>10)&3)<<3 | ((raw>>5)&3)<<6 | ((raw>>3)&3)<<1 | bit(2)<<5
		return &BranchInfo{Target: uint64(int64(pc) + int64(signExtend(imm, 9))), Cond: true}
	case raw&3 == 2 && raw>>13 == 0b100 && bit(12) == 0 && (raw>>2)&0x1F == 0 && (raw>>7)&0x1F != 0: // c.jr
		return &BranchInfo{IsRet: true}
	}
	return nil
}

// signExtend sign-extends a value from the given bit width to int32.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask) // negative
	}
	return int32(val & mask)
}
