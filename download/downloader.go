// Package download fetches files from share URLs.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/bitrise-io/gfile/network"
	"github.com/bitrise-io/gfile/progress"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/melbahja/got"
)

// Client is the HTTP side of a download.
type Client interface {
	Handshake(ctx context.Context, shareURL string) error
	Probe(ctx context.Context, contentURL string) (network.FileInfo, error)
	Open(ctx context.Context, contentURL string) (io.ReadCloser, network.FileInfo, error)
	StandardClient() *http.Client
}

// Options holds configuration for the Downloader.
type Options struct {
	// OutputDir is where downloaded files are written.
	// Default: the working directory
	OutputDir string

	// CopySize is the size of the buffer the response is streamed through.
	// Default: 1MiB
	CopySize int64

	// Parallel fetches the file with concurrent range requests when the
	// server supports them.
	Parallel bool

	// SharePattern overrides DefaultSharePattern.
	SharePattern *regexp.Regexp

	// Progress is asked for a sink once the file name and size are known.
	// If nil, updates are discarded.
	Progress progress.Factory
}

// Result describes a finished download.
type Result struct {
	Path string

	// Expected is the size the server declared, -1 when it declared none.
	Expected int64
	Written  int64
}

// Complete reports whether the written size matches the declared one.
func (r Result) Complete() bool {
	return r.Expected < 0 || r.Expected == r.Written
}

// Err returns an integrity error for an incomplete download, nil otherwise.
func (r Result) Err() error {
	if r.Complete() {
		return nil
	}
	return fmt.Errorf("%w: %s: expected %d bytes, wrote %d", errs.ErrIntegrityMismatch, r.Path, r.Expected, r.Written)
}

// Downloader downloads shared files.
type Downloader struct {
	client      Client
	opts        Options
	logger      log.Logger
	pathChecker pathutil.PathChecker
}

// New creates a Downloader.
func New(client Client, opts Options, logger log.Logger) *Downloader {
	if opts.CopySize <= 0 {
		opts.CopySize = 1024 * 1024
	}
	return &Downloader{
		client:      client,
		opts:        opts,
		logger:      logger,
		pathChecker: pathutil.NewPathChecker(),
	}
}

// Download fetches the file behind shareURL. If filename is empty the name
// announced by the server is used. A size mismatch is not returned as an
// error; check Result.Complete.
func (d *Downloader) Download(ctx context.Context, shareURL, filename string) (Result, error) {
	target, err := ParseShareURL(shareURL, d.opts.SharePattern)
	if err != nil {
		return Result{}, err
	}

	if err := d.client.Handshake(ctx, target.ShareURL); err != nil {
		return Result{}, remoteError(ctx, target, err)
	}

	expected := int64(-1)
	if filename == "" {
		info, err := d.client.Probe(ctx, target.DirectURL)
		if err != nil {
			return Result{}, remoteError(ctx, target, err)
		}
		expected = info.Size

		name, ok := FilenameFromDisposition(info.ContentDisposition)
		if !ok {
			d.logger.Warnf("Server did not name the file, using its id")
			name = target.FileID
		}
		filename = name
	}

	dest := filepath.Join(d.opts.OutputDir, Sanitize(filename))
	exists, err := d.pathChecker.IsPathExists(dest)
	if err != nil {
		return Result{}, errs.IO("check %s: %w", dest, err)
	}
	if exists {
		return Result{}, errs.InvalidArgument("%s already exists", dest)
	}

	d.logger.Infof("Downloading %s to %s", target.ShareURL, dest)
	start := time.Now()

	if d.opts.Parallel && expected < 0 {
		info, err := d.client.Probe(ctx, target.DirectURL)
		if err != nil {
			return Result{}, remoteError(ctx, target, err)
		}
		expected = info.Size
	}

	var result Result
	if d.opts.Parallel {
		result, err = d.fetchParallel(ctx, target, dest, expected)
	} else {
		result, err = d.fetch(ctx, target, dest, expected)
	}
	if err != nil {
		return result, err
	}

	d.logger.Debugf("Wrote %s in %s", units.BytesSize(float64(result.Written)), time.Since(start).Round(time.Millisecond))
	if !result.Complete() {
		d.logger.Warnf("Size mismatch: server declared %d bytes, %d written", result.Expected, result.Written)
	}
	return result, nil
}

func (d *Downloader) fetch(ctx context.Context, target Target, dest string, expected int64) (Result, error) {
	body, info, err := d.client.Open(ctx, target.DirectURL)
	if err != nil {
		return Result{}, remoteError(ctx, target, err)
	}
	defer func() {
		if err := body.Close(); err != nil {
			d.logger.Printf(err.Error())
		}
	}()
	if expected < 0 {
		expected = info.Size
	}
	sink := d.sink(dest, expected)

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return Result{}, errs.InvalidArgument("%s already exists", dest)
		}
		return Result{}, errs.IO("create %s: %w", dest, err)
	}

	written, copyErr := d.copy(ctx, f, body, sink)
	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = errs.IO("close %s: %w", dest, err)
	}
	if copyErr != nil {
		d.removePartial(dest)
		return Result{}, copyErr
	}

	return Result{Path: dest, Expected: expected, Written: written}, nil
}

func (d *Downloader) removePartial(dest string) {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warnf("Failed to remove incomplete download %s: %s", dest, err)
	}
}

// copy streams src into dst through one CopySize buffer. A body that ends
// before its declared length is treated as a short download, not a failure.
func (d *Downloader) copy(ctx context.Context, dst io.Writer, src io.Reader, sink progress.Sink) (int64, error) {
	buf := make([]byte, d.opts.CopySize)
	var written int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			written += int64(m)
			sink.Add(int64(m))
			if werr != nil {
				return written, errs.IO("write: %w", werr)
			}
		}
		if err != nil && ctx.Err() != nil {
			return written, aborted(ctx)
		}
		if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
			return written, nil
		}
		if err != nil {
			return written, errs.IO("read response: %w", err)
		}
	}
}

func (d *Downloader) fetchParallel(ctx context.Context, target Target, dest string, expected int64) (Result, error) {
	sink := d.sink(dest, expected)
	downloader := got.New()
	downloader.Client = d.client.StandardClient()

	if err := downloader.Do(got.NewDownload(ctx, target.DirectURL, dest)); err != nil {
		d.removePartial(dest)
		if ctx.Err() != nil {
			return Result{}, aborted(ctx)
		}
		return Result{}, errs.IO("parallel download: %w", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return Result{}, errs.IO("stat %s: %w", dest, err)
	}
	sink.Add(info.Size())
	return Result{Path: dest, Expected: expected, Written: info.Size()}, nil
}

func (d *Downloader) sink(dest string, total int64) progress.Sink {
	if d.opts.Progress == nil {
		return progress.Discard
	}
	return progress.OrDiscard(d.opts.Progress(filepath.Base(dest), total))
}

func remoteError(ctx context.Context, target Target, err error) error {
	if ctx.Err() != nil {
		return aborted(ctx)
	}
	if network.IsNotFound(err) {
		return errs.NotFound("%s: %w", target.ShareURL, err)
	}
	return fmt.Errorf("%s: %w", target.ShareURL, err)
}

func aborted(ctx context.Context) error {
	return fmt.Errorf("%w: %w", errs.ErrAborted, context.Cause(ctx))
}
