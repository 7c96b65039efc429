package upload

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"mime"
	"mime/multipart"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/gfile/network"
)

type postedChunk struct {
	fields  map[string]string
	payload []byte
	// seqs holds the global sequence number of every body read.
	seqs []int64
}

// fakeTransport reads every chunk body in small pieces and keeps track of the
// order pieces were read in across all concurrent requests.
type fakeTransport struct {
	server     string
	resolveErr error
	pieceSize  int
	jitter     bool

	// before may answer a request before its body is read.
	before func(ctx context.Context, req network.ChunkRequest) (network.Ack, bool, error)
	// ack builds the answer for a fully read chunk.
	ack func(index, total int) network.Ack

	seq       atomic.Int64
	calls     atomic.Int64
	closeIdle atomic.Int64

	mu     sync.Mutex
	posted map[int]*postedChunk
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		server:    "46.gigafile.test",
		pieceSize: 64,
		posted:    map[int]*postedChunk{},
		ack: func(index, total int) network.Ack {
			if index == total-1 {
				return okAck("https://46.gigafile.test/1017-abc123", "1017-abc123")
			}
			return okAck("", "")
		},
	}
}

func okAck(url, filename string) network.Ack {
	status := 0
	return network.Ack{Status: &status, URL: url, Filename: filename}
}

func statusAck(status int) network.Ack {
	return network.Ack{Status: &status}
}

func (f *fakeTransport) ResolveServer(context.Context) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return f.server, nil
}

func (f *fakeTransport) CloseIdleConnections() {
	f.closeIdle.Add(1)
}

func (f *fakeTransport) PostChunk(ctx context.Context, req network.ChunkRequest) (network.Ack, error) {
	f.calls.Add(1)
	if f.before != nil {
		if ack, handled, err := f.before(ctx, req); handled {
			return ack, err
		}
	}

	body, err := req.Body()
	if err != nil {
		return network.Ack{}, err
	}
	defer body.Close() //nolint:errcheck

	var data bytes.Buffer
	var seqs []int64
	piece := make([]byte, f.pieceSize)
	for {
		n, err := body.Read(piece)
		if n > 0 {
			seqs = append(seqs, f.seq.Add(1))
			data.Write(piece[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return network.Ack{}, err
		}
		if f.jitter {
			time.Sleep(time.Duration(rand.Intn(50)) * time.Microsecond)
		}
	}

	fields, payload, err := parseBody(req.ContentType, data.Bytes())
	if err != nil {
		return network.Ack{}, err
	}
	index, _ := strconv.Atoi(fields["chunk"])
	total, _ := strconv.Atoi(fields["chunks"])

	f.mu.Lock()
	f.posted[index] = &postedChunk{fields: fields, payload: payload, seqs: seqs}
	f.mu.Unlock()

	return f.ack(index, total), nil
}

func (f *fakeTransport) chunk(index int) *postedChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posted[index]
}

func (f *fakeTransport) postedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

func parseBody(contentType string, data []byte) (map[string]string, []byte, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, nil, err
	}

	fields := map[string]string{}
	var payload []byte
	r := multipart.NewReader(bytes.NewReader(data), params["boundary"])
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			return fields, payload, nil
		}
		if err != nil {
			return nil, nil, err
		}
		value, err := io.ReadAll(part)
		if err != nil {
			return nil, nil, err
		}
		if part.FormName() == "file" {
			fields["filename"] = part.FileName()
			payload = value
			continue
		}
		fields[part.FormName()] = string(value)
	}
}
