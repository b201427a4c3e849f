package tracefile

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"rvtrace/internal/tracefmt"
)

const cycleTrace = "# boot\n7 0x80000000 (0x00000297)\n8 0x80000004 (0x00000537)\n"

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func compress(t *testing.T, c Codec, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case Zstd:
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatal(err)
		}
		w = enc
	case Gzip:
		w = gzip.NewWriter(&buf)
	case Snappy:
		w = snappy.NewBufferedWriter(&buf)
	default:
		return data
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadTraceCodecs(t *testing.T) {
	for _, c := range []Codec{Plain, Zstd, Gzip, Snappy} {
		t.Run(c.String(), func(t *testing.T) {
			p := writeFile(t, "trace.log", compress(t, c, []byte(cycleTrace)))

			f, err := Open(p)
			if err != nil {
				t.Fatal(err)
			}
			if f.Codec != c {
				t.Errorf("codec = %v, want %v", f.Codec, c)
			}
			if err := f.Close(); err != nil {
				t.Errorf("close: %v", err)
			}

			tr, err := ReadTrace(p, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tr.Format != tracefmt.CycleLog {
				t.Errorf("format = %v, want cycle-log", tr.Format)
			}
			if tr.Len() != 2 || tr.Records[1].PC != 0x80000004 {
				t.Errorf("records = %+v", tr.Records)
			}
		})
	}
}

func TestOpenNotFound(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.log"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist wrapped", err)
	}
}

func TestOpenDirectoryUnreadable(t *testing.T) {
	_, err := ReadTrace(t.TempDir(), nil)
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("got %v, want ErrUnreadable", err)
	}
}

func TestReadTraceEmptyFile(t *testing.T) {
	tr, err := ReadTrace(writeFile(t, "empty.log", nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Len() != 0 || tr.Format != tracefmt.Unknown {
		t.Errorf("got %d records, format %v", tr.Len(), tr.Format)
	}
}

func TestReadTraceUnknownFormat(t *testing.T) {
	_, err := ReadTrace(writeFile(t, "bad.log", []byte("hello world\n")), nil)
	if !errors.Is(err, tracefmt.ErrUnknownFormat) {
		t.Errorf("got %v, want ErrUnknownFormat", err)
	}
}

func TestReadSymbolsAndFrames(t *testing.T) {
	syms := "80000000 T _start\n80000010 t foo\n80002000 D data\n"
	tab, err := ReadSymbols(writeFile(t, "syms.txt", compress(t, Zstd, []byte(syms))), nil)
	if err != nil {
		t.Fatal(err)
	}
	r, ok := tab.Resolve(0x80000014)
	if !ok || r.Name != "foo" || r.Offset != 4 {
		t.Errorf("resolve = %+v, %v", r, ok)
	}

	listing := "80000010 <foo>:\n80000010:\tfe010113\taddi\tsp,sp,-32\n"
	x, err := ReadFrameIndex(writeFile(t, "prog.dis", []byte(listing)))
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := x.FrameSize("foo"); !ok || n != 32 {
		t.Errorf("frame = %d, %v, want 32", n, ok)
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		head []byte
		want Codec
	}{
		{[]byte{0x28, 0xb5, 0x2f, 0xfd, 0}, Zstd},
		{[]byte{0x1f, 0x8b, 8}, Gzip},
		{[]byte("\xff\x06\x00\x00sNaPpY"), Snappy},
		{[]byte("7 0x8"), Plain},
		{nil, Plain},
	}
	for _, tt := range tests {
		if got := Sniff(tt.head); got != tt.want {
			t.Errorf("Sniff(%q) = %v, want %v", tt.head, got, tt.want)
		}
	}
}
