package upload

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bitrise-io/gfile/progress"
)

// transmission streams one encoded chunk body in increments, holding the
// first increment back until the gate lets the chunk through and advancing
// the gate once the body has been handed over completely.
type transmission struct {
	ctx       context.Context
	index     int
	data      []byte
	increment int
	gate      *Gate
	progress  progress.Sink

	// [payloadStart, payloadEnd) holds the file bytes within data.
	payloadStart int64
	payloadEnd   int64

	cleared  atomic.Bool
	reported atomic.Int64
	finished sync.Once
}

func newTransmission(ctx context.Context, index int, body Body, increment int64, gate *Gate, sink progress.Sink) *transmission {
	if increment <= 0 {
		increment = int64(len(body.Data))
	}
	return &transmission{
		ctx:          ctx,
		index:        index,
		data:         body.Data,
		increment:    int(increment),
		gate:         gate,
		progress:     sink,
		payloadStart: body.PayloadOffset,
		payloadEnd:   body.PayloadOffset + body.Payload,
	}
}

// open returns a new reader over the whole body. Used as the request body
// factory, so a transport level retry starts over from the first byte.
func (t *transmission) open() (io.ReadCloser, error) {
	return &gatedReader{t: t, r: bytes.NewReader(t.data)}, nil
}

func (t *transmission) awaitTurn() error {
	if t.cleared.Load() {
		return nil
	}
	if err := t.gate.Await(t.ctx, t.index); err != nil {
		return err
	}
	t.cleared.Store(true)
	return nil
}

// report forwards the file bytes up to body position pos, counting only what
// lies beyond the furthest position any attempt reached.
func (t *transmission) report(pos int64) {
	if pos > t.payloadEnd {
		pos = t.payloadEnd
	}
	pos -= t.payloadStart
	for {
		prev := t.reported.Load()
		if pos <= prev {
			return
		}
		if t.reported.CompareAndSwap(prev, pos) {
			t.progress.Add(pos - prev)
			return
		}
	}
}

func (t *transmission) finish() {
	t.finished.Do(func() {
		t.gate.Advance(t.index)
	})
}

type gatedReader struct {
	t *transmission
	r *bytes.Reader
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if g.r.Len() == 0 {
		g.t.finish()
		return 0, io.EOF
	}
	if err := g.t.awaitTurn(); err != nil {
		return 0, err
	}

	if len(p) > g.t.increment {
		p = p[:g.t.increment]
	}
	n, _ := g.r.Read(p)
	g.t.report(g.r.Size() - int64(g.r.Len()))
	return n, nil
}

// Len lets the HTTP client learn the content length without reading.
func (g *gatedReader) Len() int {
	return g.r.Len()
}

func (g *gatedReader) Close() error {
	if g.r.Len() == 0 {
		g.t.finish()
	}
	return nil
}
