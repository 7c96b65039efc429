package upload

import (
	"github.com/bitrise-io/gfile/progress"
)

// Options holds configuration for the Uploader.
type Options struct {
	// ChunkSize is the number of file bytes sent in one chunk request.
	// Default: 100MiB
	ChunkSize int64

	// CopySize is the granularity of file reads and of gated body writes.
	// Default: 1MiB
	CopySize int64

	// Workers is the maximum number of chunks prepared and in flight at once.
	// Default: 4
	Workers int

	// SerializeLastChunk holds the final chunk back until every other chunk has
	// been acknowledged.
	SerializeLastChunk bool

	// Lifetime is the retention in days requested from the server.
	// Default: 7
	Lifetime int

	// Progress receives the number of file bytes handed to the transport.
	// If nil, updates are discarded.
	Progress progress.Sink
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		ChunkSize: 100 * 1024 * 1024,
		CopySize:  1024 * 1024,
		Workers:   4,
		Lifetime:  7,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = def.ChunkSize
	}
	if o.CopySize <= 0 {
		o.CopySize = def.CopySize
	}
	if o.Workers <= 0 {
		o.Workers = def.Workers
	}
	if o.Lifetime <= 0 {
		o.Lifetime = def.Lifetime
	}
	o.Progress = progress.OrDiscard(o.Progress)
	return o
}
