package chunk

import (
	"errors"
	"io"

	"github.com/bitrise-io/gfile/internal/errs"
)

// RangeReader yields the bytes of [offset, offset+length) of src in slices of
// at most copySize bytes. It owns a single copySize buffer which is reused by
// every call to Next, so only one slice is held in memory at a time.
//
// src is read with ReadAt, which makes one *os.File safe to share between
// RangeReaders running on different goroutines.
type RangeReader struct {
	src    io.ReaderAt
	offset int64
	end    int64
	buf    []byte
	done   bool
}

// NewRangeReader returns a reader over length bytes of src starting at offset.
func NewRangeReader(src io.ReaderAt, offset, length, copySize int64) *RangeReader {
	if copySize <= 0 || copySize > length {
		copySize = length
	}
	if copySize <= 0 {
		copySize = 1
	}
	return &RangeReader{
		src:    src,
		offset: offset,
		end:    offset + length,
		buf:    make([]byte, copySize),
	}
}

// ForChunk returns a reader over the byte range of d.
func ForChunk(src io.ReaderAt, d Descriptor, copySize int64) *RangeReader {
	return NewRangeReader(src, d.Offset, d.Length, copySize)
}

// Next returns the next slice of the range. The slice is only valid until the
// following call. io.EOF is returned once the range, or the file, is exhausted;
// hitting the end of the file early is not an error.
func (r *RangeReader) Next() ([]byte, error) {
	if r.done || r.offset >= r.end {
		return nil, io.EOF
	}

	want := int64(len(r.buf))
	if remaining := r.end - r.offset; remaining < want {
		want = remaining
	}

	start := r.offset
	n, err := r.src.ReadAt(r.buf[:want], start)
	r.offset += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errs.IO("read at offset %d: %w", start, err)
	}
	if err != nil {
		r.done = true
	}
	if n == 0 {
		return nil, io.EOF
	}
	return r.buf[:n], nil
}

// WriteTo drains the remaining range into w.
func (r *RangeReader) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for {
		b, err := r.Next()
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(b)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}
