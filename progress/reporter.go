// Package progress receives byte-count deltas from the transfer engines and
// optionally renders them to a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
)

// Sink receives the number of bytes transferred since the previous call.
// Implementations must be safe for concurrent use.
type Sink interface {
	Add(n int64)
}

// Func adapts a function to a Sink.
type Func func(n int64)

// Add calls f(n).
func (f Func) Add(n int64) { f(n) }

type discard struct{}

func (discard) Add(int64) {}

// Discard is a Sink that ignores every update.
var Discard Sink = discard{}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// Factory returns the Sink for a transfer once its label and expected size
// are known. total is 0 or negative when the size is unknown.
type Factory func(label string, total int64) Sink

// Counter is a Sink that only sums the deltas.
type Counter struct {
	n atomic.Int64
}

// Add implements Sink.
func (c *Counter) Add(n int64) { c.n.Add(n) }

// Total returns the sum of all deltas.
func (c *Counter) Total() int64 { return c.n.Load() }

// Options configures the terminal reporter.
type Options struct {
	// Label is printed in front of every status line, usually the file name.
	Label string

	// Total is the expected number of bytes; 0 when unknown.
	Total int64

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to redraw the status line.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter renders transferred bytes, percentage and speed on one line.
type Reporter struct {
	opts Options

	done      atomic.Int64
	startTime time.Time
	lastTime  time.Time
	lastBytes int64

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped chan struct{}
	started bool
	running bool
}

// NewReporter creates a reporter; call Start to begin drawing.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	return &Reporter{
		opts:    opts,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Add implements Sink.
func (r *Reporter) Add(n int64) {
	r.done.Add(n)
}

// Transferred returns the number of bytes reported so far.
func (r *Reporter) Transferred() int64 {
	return r.done.Load()
}

// Start begins redrawing the status line in the background. A reporter can
// only be started once.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.running = true
	r.startTime = time.Now()
	r.lastTime = r.startTime

	go r.updateLoop()
}

// Stop prints the final line and waits for the background loop to exit.
// It is safe to call Stop more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	<-r.stopped
}

func (r *Reporter) updateLoop() {
	defer close(r.stopped)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinal()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	now := time.Now()
	done := r.done.Load()

	elapsed := now.Sub(r.lastTime).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(done-r.lastBytes) / elapsed
	r.lastTime = now
	r.lastBytes = done

	fmt.Fprintf(r.opts.Output, "\r%s  %s  %s/s    ", r.opts.Label, r.status(done), units.BytesSize(speed))
}

func (r *Reporter) printFinal() {
	done := r.done.Load()
	duration := time.Since(r.startTime)
	avg := float64(done) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r%s  %s  avg %s/s in %s    \n",
		r.opts.Label, r.status(done), units.BytesSize(avg), duration.Round(time.Second))
}

func (r *Reporter) status(done int64) string {
	if r.opts.Total <= 0 {
		return units.BytesSize(float64(done))
	}
	percent := float64(done) / float64(r.opts.Total) * 100
	return fmt.Sprintf("%s / %s (%.1f%%)",
		units.BytesSize(float64(done)), units.BytesSize(float64(r.opts.Total)), percent)
}
