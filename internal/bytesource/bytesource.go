// Package bytesource provides a random-access reader over a VMA archive
// file, tracking a monotonic read cursor for the Extractor's streaming
// pass and feeding a shared byte counter for progress reporting.
package bytesource

import (
	"errors"
	"io"
	"os"
	"sync/atomic"
)

// ErrUnexpectedEof is returned when a read crosses the end of the archive
// file before the requested number of bytes was available.
var ErrUnexpectedEof = errors.New("vma: unexpected end of archive")

// ByteSource is a positioned reader over the archive file. It is not
// thread-safe; the Extractor is its sole reader.
type ByteSource struct {
	file      *os.File
	cursor    int64
	bytesRead *int64
}

// Open opens path for reading. bytesRead, if non-nil, is incremented
// atomically by every successful Read/ReadAt so a ProgressReporter can
// observe it from another goroutine without locking.
func Open(path string, bytesRead *int64) (*ByteSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if bytesRead == nil {
		bytesRead = new(int64)
	}
	return &ByteSource{file: f, bytesRead: bytesRead}, nil
}

// Close closes the underlying file.
func (b *ByteSource) Close() error {
	return b.file.Close()
}

// Cursor returns the current stream position.
func (b *ByteSource) Cursor() int64 {
	return b.cursor
}

// Read reads exactly n bytes from the current cursor position, advancing
// it. A short read due to EOF is reported as ErrUnexpectedEof.
func (b *ByteSource) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(b.file, buf)
	atomic.AddInt64(b.bytesRead, int64(read))
	b.cursor += int64(read)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrUnexpectedEof
		}
		return nil, err
	}
	return buf, nil
}

// ReadAt reads exactly len(buf) bytes at the given absolute offset without
// disturbing the streaming cursor. The Extractor does not call it: the
// header MD5 is verified from the bytes the streaming Read returned.
func (b *ByteSource) ReadAt(buf []byte, offset int64) error {
	read, err := b.file.ReadAt(buf, offset)
	atomic.AddInt64(b.bytesRead, int64(read))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return ErrUnexpectedEof
		}
		return err
	}
	return nil
}

// AtEOF reports whether the next single-byte read would hit end-of-file,
// used by the Extractor to detect the end of the extent stream between
// extents (as opposed to mid-extent truncation, which is always fatal).
func (b *ByteSource) AtEOF() (bool, error) {
	var probe [1]byte
	n, err := b.file.ReadAt(probe[:], b.cursor)
	if n == 1 {
		return false, nil
	}
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
