// Package chunk splits a file into upload chunks and reads their byte ranges
// in bounded increments.
package chunk

import (
	"github.com/bitrise-io/gfile/internal/errs"
)

// Descriptor identifies one contiguous byte range of the source file.
type Descriptor struct {
	Index       int
	TotalChunks int
	Offset      int64
	Length      int64
}

// IsLast reports whether d is the final chunk of its file.
func (d Descriptor) IsLast() bool {
	return d.Index == d.TotalChunks-1
}

// Count returns ceil(fileSize / chunkSize).
func Count(fileSize, chunkSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// Plan returns the descriptors covering a file of fileSize bytes. Every chunk
// but the last is chunkSize long; the last one holds the remainder.
// An empty file has no chunks.
func Plan(fileSize, chunkSize int64) ([]Descriptor, error) {
	if chunkSize <= 0 {
		return nil, errs.InvalidArgument("chunk size must be positive, got %d", chunkSize)
	}
	if fileSize < 0 {
		return nil, errs.InvalidArgument("file size must not be negative, got %d", fileSize)
	}

	n := Count(fileSize, chunkSize)
	chunks := make([]Descriptor, n)
	for i := range chunks {
		offset := int64(i) * chunkSize
		length := chunkSize
		if remaining := fileSize - offset; remaining < length {
			length = remaining
		}
		chunks[i] = Descriptor{
			Index:       i,
			TotalChunks: n,
			Offset:      offset,
			Length:      length,
		}
	}
	return chunks, nil
}
