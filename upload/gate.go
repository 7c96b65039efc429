package upload

import (
	"context"
	"sync"

	"github.com/bitrise-io/gfile/internal/errs"
)

// Gate orders the transmission of chunk bodies. Its cursor names the lowest
// chunk index whose body has not fully drained yet; chunk k may only put bytes
// on the wire while the cursor is at least k.
type Gate struct {
	mu     sync.Mutex
	cond   *sync.Cond
	cursor int
	failed bool
}

// NewGate returns a gate whose cursor is at chunk 0.
func NewGate() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Await blocks until chunk index may transmit. It returns errs.ErrAborted when
// the gate fails first and ctx's error when ctx ends first.
func (g *Gate) Await(ctx context.Context, index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failed {
		return errs.ErrAborted
	}
	if g.cursor >= index {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.cond.Broadcast()
	})
	defer stop()

	for {
		if g.failed {
			return errs.ErrAborted
		}
		if g.cursor >= index {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		g.cond.Wait()
	}
}

// Advance records that chunk index fully drained. The cursor never moves back.
func (g *Gate) Advance(index int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if index+1 > g.cursor {
		g.cursor = index + 1
		g.cond.Broadcast()
	}
}

// Fail releases every waiter with errs.ErrAborted.
func (g *Gate) Fail() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed = true
	g.cond.Broadcast()
}

// Cursor returns the current cursor.
func (g *Gate) Cursor() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cursor
}
