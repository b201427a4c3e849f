// Package tracefile opens trace, symbol and listing inputs from disk.
// Simulator traces are large and are often archived compressed, so zstd,
// gzip and framed snappy streams are decoded transparently based on their
// leading magic bytes.
package tracefile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"rvtrace/internal/diag"
	"rvtrace/internal/disasm"
	"rvtrace/internal/symtab"
	"rvtrace/internal/tracefmt"
)

var (
	ErrNotFound   = errors.New("tracefile: input file not found")
	ErrUnreadable = errors.New("tracefile: input file unreadable")
)

// Codec identifies the container of an input stream.
type Codec int

const (
	Plain Codec = iota
	Zstd
	Gzip
	Snappy
)

func (c Codec) String() string {
	switch c {
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	}
	return "plain"
}

var (
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic   = []byte{0x1f, 0x8b}
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
)

// sniffLen is the longest magic checked.
const sniffLen = 10

// Sniff classifies a stream from its first bytes.
func Sniff(head []byte) Codec {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return Zstd
	case bytes.HasPrefix(head, gzipMagic):
		return Gzip
	case bytes.HasPrefix(head, snappyMagic):
		return Snappy
	}
	return Plain
}

// File is an opened, possibly decompressed input.
type File struct {
	Path  string
	Codec Codec

	r       io.Reader
	closers []io.Closer
}

// Open opens path and wraps it in the decompressor its magic calls for.
// Missing files report ErrNotFound, other open and header failures report
// ErrUnreadable; both also wrap the underlying error.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	br := bufio.NewReaderSize(f, 256*1024)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}

	tf := &File{Path: path, Codec: Sniff(head), closers: []io.Closer{f}}
	switch tf.Codec {
	case Zstd:
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %s: zstd: %w", ErrUnreadable, path, err)
		}
		rc := dec.IOReadCloser()
		tf.r = rc
		tf.closers = append(tf.closers, rc)
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %s: gzip: %w", ErrUnreadable, path, err)
		}
		tf.r = zr
		tf.closers = append(tf.closers, zr)
	case Snappy:
		tf.r = snappy.NewReader(br)
	default:
		tf.r = br
	}
	return tf, nil
}

// Read reads decompressed bytes.
func (f *File) Read(p []byte) (int, error) { return f.r.Read(p) }

// Close closes the decompressor and the file.
func (f *File) Close() error {
	var first error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ReadTrace parses a whole trace file.
func ReadTrace(path string, diags *diag.Diags) (*tracefmt.Trace, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := tracefmt.Read(f, diags)
	if err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadSymbols builds a symbol table from an nm listing file.
func ReadSymbols(path string, diags *diag.Diags) (*symtab.Table, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := symtab.Read(f, diags)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	return t, nil
}

// ReadFrameIndex indexes a disassembly listing file.
func ReadFrameIndex(path string) (*disasm.FrameIndex, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := disasm.NewFrameIndex(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	return x, nil
}
