package chunk

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name      string
		fileSize  int64
		chunkSize int64
		wantCount int
		wantLast  int64
	}{
		{name: "empty file", fileSize: 0, chunkSize: 10, wantCount: 0},
		{name: "smaller than chunk", fileSize: 7, chunkSize: 10, wantCount: 1, wantLast: 7},
		{name: "exactly one chunk", fileSize: 10, chunkSize: 10, wantCount: 1, wantLast: 10},
		{name: "exact multiple", fileSize: 30, chunkSize: 10, wantCount: 3, wantLast: 10},
		{name: "remainder", fileSize: 100, chunkSize: 30, wantCount: 4, wantLast: 10},
		{name: "one byte chunks", fileSize: 5, chunkSize: 1, wantCount: 5, wantLast: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Plan(tt.fileSize, tt.chunkSize)
			require.NoError(t, err)
			require.Len(t, chunks, tt.wantCount)
			assert.Equal(t, tt.wantCount, Count(tt.fileSize, tt.chunkSize))
			if tt.wantCount == 0 {
				return
			}
			last := chunks[len(chunks)-1]
			assert.Equal(t, tt.wantLast, last.Length)
			assert.True(t, last.IsLast())
		})
	}
}

func TestPlan_Properties(t *testing.T) {
	for fileSize := int64(0); fileSize <= 64; fileSize++ {
		for chunkSize := int64(1); chunkSize <= 20; chunkSize++ {
			chunks, err := Plan(fileSize, chunkSize)
			require.NoError(t, err)

			wantCount := int((fileSize + chunkSize - 1) / chunkSize)
			require.Len(t, chunks, wantCount, "size=%d chunk=%d", fileSize, chunkSize)

			var sum int64
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, wantCount, c.TotalChunks)
				assert.Equal(t, sum, c.Offset)
				assert.Greater(t, c.Length, int64(0))
				if !c.IsLast() {
					assert.Equal(t, chunkSize, c.Length)
				}
				sum += c.Length
			}
			assert.Equal(t, fileSize, sum, "size=%d chunk=%d", fileSize, chunkSize)
		}
	}
}

func TestPlan_InvalidArguments(t *testing.T) {
	_, err := Plan(10, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = Plan(-1, 10)
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func writeTestFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func TestRangeReader_RoundTrip(t *testing.T) {
	const chunkSize = 64
	tests := []struct {
		name     string
		fileSize int
		copySize int64
	}{
		{name: "smaller than chunk size", fileSize: 40, copySize: 16},
		{name: "equal to chunk size", fileSize: 64, copySize: 16},
		{name: "not a multiple of chunk size", fileSize: 1000, copySize: 7},
		{name: "copy size larger than chunk", fileSize: 300, copySize: 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, data := writeTestFile(t, tt.fileSize)
			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close() //nolint:errcheck

			chunks, err := Plan(int64(tt.fileSize), chunkSize)
			require.NoError(t, err)

			var joined bytes.Buffer
			for _, c := range chunks {
				r := ForChunk(f, c, tt.copySize)
				for {
					b, err := r.Next()
					if err == io.EOF {
						break
					}
					require.NoError(t, err)
					assert.LessOrEqual(t, int64(len(b)), tt.copySize)
					joined.Write(b)
				}
			}
			assert.Equal(t, data, joined.Bytes())
		})
	}
}

func TestRangeReader_ShortFinalRead(t *testing.T) {
	path, data := writeTestFile(t, 50)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	// Asks for more than the file holds.
	r := NewRangeReader(f, 40, 100, 4)
	var got bytes.Buffer
	n, err := r.WriteTo(&got)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, data[40:], got.Bytes())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRangeReader_ReusesBuffer(t *testing.T) {
	r := NewRangeReader(bytes.NewReader(make([]byte, 100)), 0, 100, 10)
	first, err := r.Next()
	require.NoError(t, err)
	second, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, &first[0], &second[0])
}

type failingReaderAt struct {
	failAt int64
}

func (f failingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.failAt {
		return 0, errors.New("disk on fire")
	}
	return len(p), nil
}

func TestRangeReader_IOError(t *testing.T) {
	r := NewRangeReader(failingReaderAt{failAt: 20}, 0, 100, 10)

	_, err := r.WriteTo(io.Discard)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrIO)
}
