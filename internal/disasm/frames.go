package disasm

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// spAdjust matches a prologue stack allocation in objdump or GNU syntax:
// "addi sp,sp,-48", "addi x2, x2, -48", "c.addi16sp sp,-48", "c.addi sp,-16".
var spAdjust = regexp.MustCompile(`\b(?:c\.)?addi(?:16sp)?\s+(?:sp|x2)\s*,\s*(?:(?:sp|x2)\s*,\s*)?-(\d+)\b`)

// FrameIndex answers stack frame size queries against a disassembly listing.
// The listing is read once; each query scans only the lines belonging to
// one function.
type FrameIndex struct {
	lines  []string
	starts map[string]int // function name -> line after its "<name>:" header
}

// NewFrameIndex reads a whole listing from r.
func NewFrameIndex(r io.Reader) (*FrameIndex, error) {
	x := &FrameIndex{starts: make(map[string]int)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if name, ok := boundaryName(line); ok {
			if _, dup := x.starts[name]; !dup {
				x.starts[name] = len(x.lines) + 1
			}
		}
		x.lines = append(x.lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("disasm: read listing: %w", err)
	}
	return x, nil
}

// ParseFrameIndex indexes a listing held in memory.
func ParseFrameIndex(text string) *FrameIndex {
	x, _ := NewFrameIndex(strings.NewReader(text))
	return x
}

// boundaryName extracts name from a "<name>:" function header.
func boundaryName(line string) (string, bool) {
	end := strings.Index(line, ">:")
	if end < 0 {
		return "", false
	}
	start := strings.LastIndexByte(line[:end], '<')
	if start < 0 {
		return "", false
	}
	return line[start+1 : end], true
}

// Functions returns the number of function headers in the listing.
func (x *FrameIndex) Functions() int { return len(x.starts) }

// Has reports whether the listing contains a header for name.
func (x *FrameIndex) Has(name string) bool {
	_, ok := x.starts[name]
	return ok
}

// FrameSize returns the size of the first stack pointer decrement after the
// header of name, stopping at the next function header.
func (x *FrameIndex) FrameSize(name string) (int, bool) {
	start, ok := x.starts[name]
	if !ok {
		return 0, false
	}
	for _, line := range x.lines[start:] {
		if m := spAdjust.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, false
			}
			return n, true
		}
		if _, boundary := boundaryName(line); boundary {
			break
		}
	}
	return 0, false
}
