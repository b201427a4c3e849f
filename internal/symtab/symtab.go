// Package symtab resolves instruction addresses to the enclosing function
// using an `nm -n` style symbol listing.
package symtab

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"rvtrace/internal/diag"
)

// Kind classifies a symbol for resolution purposes.
type Kind int

const (
	Other Kind = iota
	Text
	WeakText
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case WeakText:
		return "weak-text"
	}
	return "other"
}

// KindOf maps an nm type letter to a Kind. Only T/t and W/w denote
// functions.
func KindOf(letter byte) Kind {
	switch letter {
	case 'T', 't':
		return Text
	case 'W', 'w':
		return WeakText
	}
	return Other
}

// Entry is one symbol from the dump.
type Entry struct {
	Addr   uint64
	Name   string
	Letter byte
	Kind   Kind
}

// Resolved is the result of resolving a PC.
type Resolved struct {
	Name   string
	Addr   uint64
	Offset uint64
}

// String renders "name" or "name+0xoff".
func (r Resolved) String() string {
	if r.Offset > 0 {
		return fmt.Sprintf("%s+0x%x", r.Name, r.Offset)
	}
	return r.Name
}

// Table is an address-sorted symbol index. It is read-only after Build.
type Table struct {
	entries []Entry // all symbols, ascending address, input order kept for ties
	funcs   []Entry // function symbols, one per address (last in input order wins)
}

// Build creates a table. Entries are expected in ascending address order;
// unsorted input is stably sorted so that same-address symbols keep their
// input order.
func Build(entries []Entry) *Table {
	t := &Table{entries: make([]Entry, len(entries))}
	copy(t.entries, entries)
	if !sort.SliceIsSorted(t.entries, func(i, j int) bool { return t.entries[i].Addr < t.entries[j].Addr }) {
		sort.SliceStable(t.entries, func(i, j int) bool { return t.entries[i].Addr < t.entries[j].Addr })
	}

	for _, e := range t.entries {
		if e.Kind != Text && e.Kind != WeakText {
			continue
		}
		if n := len(t.funcs); n > 0 && t.funcs[n-1].Addr == e.Addr {
			t.funcs[n-1] = e
			continue
		}
		t.funcs = append(t.funcs, e)
	}
	return t
}

// Len returns the number of symbols of any kind.
func (t *Table) Len() int { return len(t.entries) }

// Funcs returns the number of distinct function addresses.
func (t *Table) Funcs() int { return len(t.funcs) }

// Entries returns all symbols in address order. The slice must not be
// modified.
func (t *Table) Entries() []Entry { return t.entries }

// Resolve returns the function symbol with the greatest address <= pc.
func (t *Table) Resolve(pc uint64) (Resolved, bool) {
	// First function strictly above pc; the candidate is the one before it.
	i := sort.Search(len(t.funcs), func(i int) bool { return t.funcs[i].Addr > pc })
	if i == 0 {
		return Resolved{}, false
	}
	e := t.funcs[i-1]
	return Resolved{Name: e.Name, Addr: e.Addr, Offset: pc - e.Addr}, true
}

// Lookup returns the address of the function symbol named name.
func (t *Table) Lookup(name string) (uint64, bool) {
	for _, e := range t.funcs {
		if e.Name == name {
			return e.Addr, true
		}
	}
	return 0, false
}

// ParseNM reads `nm -n` output: "<hex addr> <letter> <name...>". Lines with
// fewer than three fields (undefined symbols) are ignored; lines with a bad
// address are reported to diags and skipped.
func ParseNM(r io.Reader, diags *diag.Diags) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil || len(fields[1]) != 1 {
			if diags != nil {
				diags.Addf(n, diag.MalformedLine, "bad symbol line: %.60q", sc.Text())
			}
			continue
		}
		letter := fields[1][0]
		entries = append(entries, Entry{
			Addr:   addr,
			Name:   nameField(sc.Text(), fields[0], fields[1]),
			Letter: letter,
			Kind:   KindOf(letter),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("symtab: read: %w", err)
	}
	return entries, nil
}

// nameField returns the text after the address and type columns with
// interior whitespace kept, so names containing runs of spaces survive.
func nameField(line, addr, letter string) string {
	rest := strings.TrimLeftFunc(line, unicode.IsSpace)[len(addr):]
	rest = strings.TrimLeftFunc(rest, unicode.IsSpace)[len(letter):]
	return strings.TrimSpace(rest)
}

// Read parses an nm listing and builds a table.
func Read(r io.Reader, diags *diag.Diags) (*Table, error) {
	entries, err := ParseNM(r, diags)
	if err != nil {
		return nil, err
	}
	return Build(entries), nil
}

// WriteNM writes entries in `nm -n` format.
func WriteNM(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%08x %c %s\n", e.Addr, e.Letter, e.Name); err != nil {
			return err
		}
	}
	return bw.Flush()
}
