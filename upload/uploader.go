// Package upload sends a local file to the sharing service as a sequence of
// chunks. Chunk bodies are prepared by a pool of workers, while the bytes of
// consecutive chunks reach the wire strictly in index order.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/bitrise-io/gfile/chunk"
	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/bitrise-io/gfile/network"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Transport is the remote end of an upload.
type Transport interface {
	ResolveServer(ctx context.Context) (string, error)
	PostChunk(ctx context.Context, req network.ChunkRequest) (network.Ack, error)
	CloseIdleConnections()
}

// Uploader uploads files through a Transport. It is safe to run several
// uploads at once; each gets its own Stats.
type Uploader struct {
	transport Transport
	opts      Options
	logger    log.Logger
	newToken  func() (string, error)

	mu    sync.Mutex
	stats *Stats
}

// New creates an Uploader.
func New(transport Transport, opts Options, logger log.Logger) *Uploader {
	return &Uploader{
		transport: transport,
		opts:      opts.withDefaults(),
		logger:    logger,
		stats:     NewStats(),
		newToken:  NewToken,
	}
}

// Stats returns the timings of the most recently started upload.
func (u *Uploader) Stats() *Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}

// Upload sends the file at filePath and returns where it can be downloaded.
func (u *Uploader) Upload(ctx context.Context, filePath string) (Result, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, errs.NotFound("%s", filePath)
		}
		return Result{}, errs.IO("stat %s: %w", filePath, err)
	}
	if info.IsDir() {
		return Result{}, errs.InvalidArgument("%s is a directory", filePath)
	}

	chunks, err := chunk.Plan(info.Size(), u.opts.ChunkSize)
	if err != nil {
		return Result{}, err
	}
	if len(chunks) == 0 {
		return Result{}, errs.InvalidArgument("%s is empty", filePath)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return Result{}, errs.IO("open %s: %w", filePath, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			u.logger.Warnf("Failed to close %s: %s", filePath, err)
		}
	}()

	server, err := u.transport.ResolveServer(ctx)
	if err != nil {
		return Result{}, err
	}
	token, err := u.newToken()
	if err != nil {
		return Result{}, err
	}

	session := NewSession(token, server)
	u.mu.Lock()
	u.stats = session.stats
	u.mu.Unlock()
	builder := BodyBuilder{
		Token:    token,
		Name:     filepath.Base(filePath),
		Lifetime: u.opts.Lifetime,
		CopySize: u.opts.CopySize,
	}

	u.logger.Infof("Uploading %s (%s) in %d chunk(s) to %s", builder.Name, units.BytesSize(float64(info.Size())), len(chunks), server)
	u.logger.Debugf("Session token: %s", token)

	stopWatch := context.AfterFunc(ctx, func() {
		session.Fail(fmt.Errorf("%w: %w", errs.ErrAborted, context.Cause(ctx)))
	})
	defer stopWatch()

	start := time.Now()
	u.run(ctx, session, builder, f, chunks)
	if ctx.Err() != nil {
		u.transport.CloseIdleConnections()
	}

	if err := session.Err(); err != nil {
		return Result{}, err
	}

	result, ok := session.Result()
	if !ok {
		return Result{}, errs.Protocol("all %d chunks acknowledged without a share URL", len(chunks))
	}

	u.logger.Debugf("Upload finished in %s, %d chunk(s), average chunk %s, slowest %s",
		time.Since(start).Round(time.Millisecond), session.stats.FinishedCount(), session.stats.Average().Round(time.Millisecond), session.stats.Slowest().Round(time.Millisecond))
	return result, nil
}

// run sends chunk 0 on its own, so the server creates the session before any
// concurrent request arrives, then hands the rest to the worker pool.
func (u *Uploader) run(ctx context.Context, s *Session, b BodyBuilder, src io.ReaderAt, chunks []chunk.Descriptor) {
	u.sendChunk(ctx, s, b, src, chunks[0])
	if s.Failed() {
		return
	}

	rest := chunks[1:]
	var last *chunk.Descriptor
	if u.opts.SerializeLastChunk && len(rest) > 0 {
		last = &rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}

	u.runPool(ctx, s, b, src, rest)

	if last != nil && !s.Failed() {
		u.sendChunk(ctx, s, b, src, *last)
	}
}

func (u *Uploader) runPool(ctx context.Context, s *Session, b BodyBuilder, src io.ReaderAt, chunks []chunk.Descriptor) {
	if len(chunks) == 0 {
		return
	}

	workers := u.opts.Workers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	jobs := make(chan chunk.Descriptor)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range jobs {
				if s.Failed() {
					continue
				}
				u.sendChunk(ctx, s, b, src, d)
			}
		}()
	}

dispatch:
	for _, d := range chunks {
		select {
		case jobs <- d:
		case <-s.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
}

// sendChunk uploads one chunk. Any failure is recorded on the session.
func (u *Uploader) sendChunk(ctx context.Context, s *Session, b BodyBuilder, src io.ReaderAt, d chunk.Descriptor) {
	start := time.Now()

	body, err := b.Build(src, d)
	if err != nil {
		s.Fail(err)
		return
	}
	if body.Payload != d.Length {
		u.logger.Warnf("Chunk %d: read %d bytes, expected %d", d.Index, body.Payload, d.Length)
	}

	tx := newTransmission(ctx, d.Index, body, u.opts.CopySize, s.gate, u.opts.Progress)
	ack, err := u.transport.PostChunk(ctx, network.ChunkRequest{
		Index:       d.Index,
		Server:      s.Server,
		ContentType: body.ContentType,
		Size:        body.Size(),
		Body:        tx.open,
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, errs.ErrAborted) {
			s.Fail(fmt.Errorf("%w: chunk %d/%d", errs.ErrAborted, d.Index+1, d.TotalChunks))
			return
		}
		s.Fail(fmt.Errorf("upload chunk %d/%d: %w", d.Index+1, d.TotalChunks, err))
		return
	}
	if err := checkAck(d, ack); err != nil {
		s.Fail(err)
		return
	}

	s.gate.Advance(d.Index)
	s.stats.Update(time.Since(start), body.Payload)
	u.logger.Debugf("Chunk %d/%d acknowledged in %s", d.Index+1, d.TotalChunks, time.Since(start).Round(time.Millisecond))

	if ack.URL != "" {
		if s.SetResult(Result{ShareURL: ack.URL, RemoteFileID: remoteFileID(ack)}) {
			u.logger.Debugf("Share URL received with chunk %d", d.Index+1)
		}
	}
}

func checkAck(d chunk.Descriptor, ack network.Ack) error {
	if ack.Status == nil {
		return errs.Protocol("chunk %d/%d: acknowledgment without status", d.Index+1, d.TotalChunks)
	}
	if *ack.Status != 0 {
		return errs.Protocol("chunk %d/%d: server returned status %d", d.Index+1, d.TotalChunks, *ack.Status)
	}
	return nil
}

func remoteFileID(ack network.Ack) string {
	if ack.Filename != "" {
		return ack.Filename
	}
	u, err := url.Parse(ack.URL)
	if err != nil {
		return path.Base(ack.URL)
	}
	return path.Base(u.Path)
}
