package tracefmt

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"rvtrace/internal/diag"
)

var ErrUnknownFormat = errors.New("tracefmt: unknown trace format")

// MaxLineBytes bounds a single trace line. Longer lines are cut at this
// length and the rest is discarded.
const MaxLineBytes = 1 << 20

// Scanner reads records one at a time so that large traces can be processed
// without keeping the raw text. The format is detected from the first
// non-blank, non-comment line.
type Scanner struct {
	sc      *bufio.Scanner
	format  Format
	rec     Record
	line    int
	skipped int
	err     error
	pending string // first data line, consumed by detection
	hasPend bool
	diags   *diag.Diags

	truncated  bool // last token was cut at MaxLineBytes
	discarding bool // skipping the tail of an over-long line
}

// NewScanner returns a scanner over r. diags may be nil.
func NewScanner(r io.Reader, diags *diag.Diags) *Scanner {
	s := &Scanner{diags: diags}
	s.sc = bufio.NewScanner(r)
	s.sc.Buffer(make([]byte, 64*1024), 2*MaxLineBytes)
	s.sc.Split(s.splitLines)
	return s
}

// splitLines is bufio.ScanLines with a length cap: a line longer than
// MaxLineBytes yields its first MaxLineBytes bytes and the remainder up to
// the next newline is dropped.
func (s *Scanner) splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		if s.discarding {
			s.discarding = false
			return i + 1, nil, nil
		}
		return i + 1, dropCR(data[:i]), nil
	}
	if len(data) >= MaxLineBytes {
		if s.discarding {
			return len(data), nil, nil
		}
		s.discarding, s.truncated = true, true
		return len(data), data[:MaxLineBytes], nil
	}
	if atEOF && len(data) > 0 {
		if s.discarding {
			s.discarding = false
			return len(data), nil, nil
		}
		return len(data), dropCR(data), nil
	}
	return 0, nil, nil
}

func dropCR(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\r' {
		return b[:len(b)-1]
	}
	return b
}

// nextLine returns the next physical line, trimmed.
func (s *Scanner) nextLine() (string, bool) {
	if !s.sc.Scan() {
		return "", false
	}
	s.line++
	if s.truncated {
		s.truncated = false
		if s.diags != nil {
			s.diags.Addf(s.line, diag.MalformedLine, "line longer than %d bytes truncated", MaxLineBytes)
		}
	}
	return strings.TrimSpace(s.sc.Text()), true
}

// Detect reads ahead to the first data line and classifies it. It is called
// implicitly by Scan. An input with no data lines reports Unknown with a nil
// error; a data line with an unrecognized leading token reports
// ErrUnknownFormat.
func (s *Scanner) Detect() (Format, error) {
	if s.format != Unknown || s.hasPend || s.err != nil {
		return s.format, s.err
	}
	for {
		line, ok := s.nextLine()
		if !ok {
			break
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.format = DetectLine(line)
		if s.format == Unknown {
			s.err = fmt.Errorf("%w: line %d starts with %q", ErrUnknownFormat, s.line, firstToken(line))
			return Unknown, s.err
		}
		s.pending = line
		s.hasPend = true
		return s.format, nil
	}
	s.err = s.sc.Err()
	return Unknown, s.err
}

// Scan advances to the next record. Lines that do not match the grammar are
// counted and skipped.
func (s *Scanner) Scan() bool {
	if s.format == Unknown {
		if f, err := s.Detect(); err != nil || f == Unknown {
			return false
		}
	}
	if s.hasPend {
		s.hasPend = false
		if s.accept(s.pending, s.line) {
			return true
		}
	}
	for {
		line, ok := s.nextLine()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		if s.accept(line, s.line) {
			return true
		}
	}
	s.err = s.sc.Err()
	return false
}

func (s *Scanner) accept(line string, n int) bool {
	rec, ok := ParseLine(s.format, line)
	if !ok {
		if !strings.HasPrefix(line, "#") {
			s.skipped++
			if s.diags != nil {
				s.diags.Addf(n, diag.MalformedLine, "unparseable %s line: %.60q", s.format, line)
			}
		}
		return false
	}
	rec.Line = n
	s.rec = rec
	return true
}

// Record returns the record produced by the last successful Scan.
func (s *Scanner) Record() Record { return s.rec }

// Format returns the detected format, Unknown before detection.
func (s *Scanner) Format() Format { return s.format }

// Err returns the first non-EOF error.
func (s *Scanner) Err() error { return s.err }

// Lines returns the number of physical lines read so far.
func (s *Scanner) Lines() int { return s.line }

// Skipped returns the number of malformed data lines skipped so far.
func (s *Scanner) Skipped() int { return s.skipped }

// Read parses a whole trace.
func Read(r io.Reader, diags *diag.Diags) (*Trace, error) {
	s := NewScanner(r, diags)
	t := &Trace{}
	for s.Scan() {
		t.Records = append(t.Records, s.Record())
	}
	t.Format = s.Format()
	t.Lines = s.Lines()
	t.Skipped = s.Skipped()
	if err := s.Err(); err != nil {
		return t, err
	}
	return t, nil
}

// ReadString parses a trace held in memory.
func ReadString(text string) (*Trace, error) {
	return Read(strings.NewReader(text), nil)
}

func firstToken(line string) string {
	f := strings.Fields(line)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
