package upload

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/bitrise-io/gfile/chunk"
	"github.com/bitrise-io/gfile/internal/errs"
)

const multipartOverhead = 1024

// Body is a fully encoded multipart/form-data chunk request body.
type Body struct {
	Data        []byte
	ContentType string

	// PayloadOffset is where the file bytes start within Data.
	PayloadOffset int64

	// Payload is the number of file bytes in the body. It is shorter than the
	// chunk length only when the file shrank underneath the upload.
	Payload int64
}

// Size returns the encoded length in bytes.
func (b Body) Size() int64 {
	return int64(len(b.Data))
}

// BodyBuilder encodes chunks of one file for one session.
type BodyBuilder struct {
	Token    string
	Name     string
	Lifetime int
	CopySize int64
}

// Build reads the byte range of d from src and encodes it together with the
// session fields the server expects.
func (b BodyBuilder) Build(src io.ReaderAt, d chunk.Descriptor) (Body, error) {
	var buf bytes.Buffer
	buf.Grow(int(d.Length) + multipartOverhead)

	w := multipart.NewWriter(&buf)
	fields := []struct{ name, value string }{
		{"id", b.Token},
		{"name", b.Name},
		{"chunk", strconv.Itoa(d.Index)},
		{"chunks", strconv.Itoa(d.TotalChunks)},
		{"lifetime", strconv.Itoa(b.Lifetime)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return Body{}, fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	part, err := w.CreateFormFile("file", b.Name)
	if err != nil {
		return Body{}, fmt.Errorf("create file part: %w", err)
	}
	offset := int64(buf.Len())
	n, err := chunk.ForChunk(src, d, b.CopySize).WriteTo(part)
	if err != nil {
		return Body{}, fmt.Errorf("chunk %d: %w", d.Index, err)
	}
	if n == 0 {
		return Body{}, errs.IO("chunk %d: no data at offset %d", d.Index, d.Offset)
	}

	if err := w.Close(); err != nil {
		return Body{}, fmt.Errorf("close multipart writer: %w", err)
	}

	return Body{
		Data:          buf.Bytes(),
		ContentType:   w.FormDataContentType(),
		PayloadOffset: offset,
		Payload:       n,
	}, nil
}
