package tracefmt

import (
	"strconv"
	"strings"
)

// cursor walks a single trace line. Every take method either consumes input
// and returns true, or leaves the position unchanged and returns false.
type cursor struct {
	s   string
	pos int
}

func (c *cursor) rest() string { return c.s[c.pos:] }

// spaces consumes one or more whitespace bytes.
func (c *cursor) spaces() bool {
	start := c.pos
	for c.pos < len(c.s) && isSpace(c.s[c.pos]) {
		c.pos++
	}
	return c.pos > start
}

// decimal consumes a run of ASCII digits.
func (c *cursor) decimal() (string, bool) {
	start := c.pos
	for c.pos < len(c.s) && isDigit(c.s[c.pos]) {
		c.pos++
	}
	return c.s[start:c.pos], c.pos > start
}

// hex consumes "0x" followed by at least one hex digit and returns the digits.
func (c *cursor) hex() (string, bool) {
	if !strings.HasPrefix(c.rest(), "0x") {
		return "", false
	}
	start := c.pos + 2
	end := start
	for end < len(c.s) && isHex(c.s[end]) {
		end++
	}
	if end == start {
		return "", false
	}
	c.pos = end
	return c.s[start:end], true
}

func (c *cursor) literal(lit string) bool {
	if !strings.HasPrefix(c.rest(), lit) {
		return false
	}
	c.pos += len(lit)
	return true
}

// pcInstr parses `0x<pc>\s+(0x<instr>)`, the tail shared by both grammars.
func (c *cursor) pcInstr() (pc uint64, instr uint32, ok bool) {
	save := c.pos
	fail := func() (uint64, uint32, bool) {
		c.pos = save
		return 0, 0, false
	}

	pcHex, ok := c.hex()
	if !ok || !c.spaces() || !c.literal("(") {
		return fail()
	}
	instrHex, ok := c.hex()
	if !ok || !c.literal(")") {
		return fail()
	}

	p, err := strconv.ParseUint(pcHex, 16, 64)
	if err != nil {
		return fail()
	}
	in, err := strconv.ParseUint(instrHex, 16, 32)
	if err != nil {
		return fail()
	}
	return p, uint32(in), true
}

// ParseCycleLine parses one cycle-log line. The line must already be trimmed.
func ParseCycleLine(line string) (Record, bool) {
	c := cursor{s: line}
	cyc, ok := c.decimal()
	if !ok || !c.spaces() {
		return Record{}, false
	}
	pc, instr, ok := c.pcInstr()
	if !ok {
		return Record{}, false
	}
	n, err := strconv.ParseUint(cyc, 10, 64)
	if err != nil {
		return Record{}, false
	}
	return Record{
		Cycle:      n,
		HasCycle:   true,
		PC:         pc,
		Instr:      instr,
		Annotation: strings.TrimSpace(c.rest()),
	}, true
}

// ParseCommitLine parses one commit-log line, with or without the privilege
// field. The line must already be trimmed.
func ParseCommitLine(line string) (Record, bool) {
	c := cursor{s: line}
	if !c.literal("core") || !c.spaces() {
		return Record{}, false
	}
	if _, ok := c.decimal(); !ok || !c.literal(":") || !c.spaces() {
		return Record{}, false
	}

	pc, instr, ok := c.pcInstr()
	if !ok {
		// Privilege level variant: "core 0: 3 0x80000000 (0x00000297)".
		if _, ok := c.decimal(); !ok || !c.spaces() {
			return Record{}, false
		}
		pc, instr, ok = c.pcInstr()
		if !ok {
			return Record{}, false
		}
	}
	return Record{
		PC:         pc,
		Instr:      instr,
		Annotation: strings.TrimSpace(c.rest()),
	}, true
}

// ParseLine parses a trimmed line using the grammar for f.
func ParseLine(f Format, line string) (Record, bool) {
	switch f {
	case CycleLog:
		if strings.HasPrefix(line, "#") {
			return Record{}, false
		}
		return ParseCycleLine(line)
	case CommitLog:
		return ParseCommitLine(line)
	}
	return Record{}, false
}

// DetectLine classifies a trimmed, non-blank line by its leading token.
func DetectLine(line string) Format {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Unknown
	}
	tok := fields[0]
	switch {
	case tok == "core":
		return CommitLog
	case tok != "" && allDigits(tok):
		return CycleLog
	}
	return Unknown
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isHex(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
