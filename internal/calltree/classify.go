package calltree

import (
	"strings"

	"rvtrace/internal/disasm"
	"rvtrace/internal/tracefmt"
)

// Class is the control-transfer classification of one record.
type Class struct {
	Call   bool
	Return bool
	// Target is the callee named by the disassembly comment, "" if absent.
	Target string
	// Annotated reports that the comment, not the opcode, decided the class.
	Annotated bool
}

// Classify decides whether rec is a call or a return. A disassembly comment
// ("; jal ...", "; ret") is consulted first; the raw opcode is decoded when
// the comment is absent or inconclusive. A record that looks like both is a
// call.
func Classify(rec tracefmt.Record) Class {
	var c Class
	var annCall, annRet bool
	ann := rec.Annotation
	if ann != "" {
		lower := strings.ToLower(ann)
		// The linking register shows up as a write-back "x1 0x...".
		linksRA := strings.Contains(" "+ann+" ", " x1 ")
		jal := strings.Contains(lower, "; jal ")
		jalr := strings.Contains(lower, "; jalr")
		if (jal || jalr) && linksRA {
			c.Call, annCall = true, true
		}
		if strings.Contains(lower, "; ret") || (jalr && strings.Contains(lower, "x0")) {
			c.Return, annRet = true, true
		}
	}
	if !c.Call && disasm.IsCall(rec.Instr) {
		c.Call = true
	}
	if !c.Return && disasm.IsReturn(rec.Instr) {
		c.Return = true
	}
	if c.Call {
		c.Return = false
		c.Target = symbolRef(ann)
	}
	c.Annotated = (c.Call && annCall) || (c.Return && annRet)
	return c
}

// symbolRef extracts the base name of the first "<sym>" or "<sym+0x10>"
// reference.
func symbolRef(s string) string {
	i := strings.IndexByte(s, '<')
	if i < 0 {
		return ""
	}
	j := strings.IndexByte(s[i+1:], '>')
	if j <= 0 {
		return ""
	}
	name := s[i+1 : i+1+j]
	if k := strings.IndexByte(name, '+'); k > 0 {
		name = name[:k]
	}
	return strings.TrimSpace(name)
}
