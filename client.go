// Package gfile uploads files to and downloads files from a gigafile.nu style
// file sharing service.
package gfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bitrise-io/gfile/archive"
	"github.com/bitrise-io/gfile/config"
	"github.com/bitrise-io/gfile/download"
	"github.com/bitrise-io/gfile/internal/errs"
	"github.com/bitrise-io/gfile/network"
	"github.com/bitrise-io/gfile/progress"
	"github.com/bitrise-io/gfile/upload"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
)

// UploadOptions ...
type UploadOptions struct {
	// Excludes are doublestar patterns, relative to the directory, of paths
	// left out when a directory is uploaded.
	Excludes []string

	Progress progress.Factory
}

// UploadResult ...
type UploadResult struct {
	upload.Result

	// Source is the file that was sent; a temporary archive for directories.
	Source string
	Size   int64
}

// DownloadOptions ...
type DownloadOptions struct {
	// Filename overrides the name announced by the server.
	Filename string

	// OutputDir is where the file is written. Default: working directory
	OutputDir string

	// Parallel fetches the file with concurrent range requests.
	Parallel bool

	// Extract unpacks downloaded directory archives into OutputDir.
	Extract bool

	Progress progress.Factory
}

// DownloadResult ...
type DownloadResult struct {
	download.Result

	// Extracted is set to OutputDir when the archive was unpacked.
	Extracted string
}

// Client is the entry point for uploads and downloads.
type Client struct {
	cfg          config.Config
	logger       log.Logger
	network      *network.Client
	archiver     *archive.Archiver
	pathChecker  pathutil.PathChecker
	pathProvider pathutil.PathProvider
	sharePattern *regexp.Regexp
}

// NewClient validates cfg and creates a Client.
func NewClient(cfg config.Config, logger log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	networkClient, err := network.NewClient(network.Options{
		LandingURL:   cfg.LandingURL,
		RetryMax:     cfg.Retry.Attempts,
		RetryWaitMin: cfg.Retry.WaitMin,
		RetryWaitMax: cfg.Retry.WaitMax,
	}, logger)
	if err != nil {
		return nil, err
	}

	var sharePattern *regexp.Regexp
	if cfg.ShareURLPattern != "" {
		sharePattern = regexp.MustCompile(cfg.ShareURLPattern)
	}

	envRepo := env.NewRepository()
	return &Client{
		cfg:          cfg,
		logger:       logger,
		network:      networkClient,
		archiver:     archive.NewArchiver(logger, envRepo, archive.NewDependencyChecker(logger, envRepo)),
		pathChecker:  pathutil.NewPathChecker(),
		pathProvider: pathutil.NewPathProvider(),
		sharePattern: sharePattern,
	}, nil
}

// Upload sends the file or directory at path. Directories are packed into a
// temporary archive first.
func (c *Client) Upload(ctx context.Context, path string, opts UploadOptions) (UploadResult, error) {
	exists, err := c.pathChecker.IsPathExists(path)
	if err != nil {
		return UploadResult{}, errs.IO("check %s: %w", path, err)
	}
	if !exists {
		return UploadResult{}, errs.NotFound("%s", path)
	}

	source := path
	isDir, err := c.pathChecker.IsDirExists(path)
	if err != nil {
		return UploadResult{}, errs.IO("check %s: %w", path, err)
	}
	if isDir {
		packed, cleanup, err := c.pack(path, opts.Excludes)
		if err != nil {
			return UploadResult{}, err
		}
		defer cleanup()
		source = packed
	}

	info, err := os.Stat(source)
	if err != nil {
		return UploadResult{}, errs.IO("stat %s: %w", source, err)
	}

	var sink progress.Sink
	if opts.Progress != nil {
		sink = opts.Progress(filepath.Base(source), info.Size())
	}

	uploader := upload.New(c.network, upload.Options{
		ChunkSize:          c.cfg.ChunkSize,
		CopySize:           c.cfg.CopySize,
		Workers:            c.cfg.Workers,
		SerializeLastChunk: c.cfg.SerializeLastChunk,
		Lifetime:           c.cfg.Lifetime,
		Progress:           sink,
	}, c.logger)

	result, err := uploader.Upload(ctx, source)
	if err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Result: result, Source: source, Size: info.Size()}, nil
}

func (c *Client) pack(dir string, excludes []string) (string, func(), error) {
	empty, err := archive.IsEmptyDir(dir)
	if err != nil {
		return "", nil, errs.IO("read %s: %w", dir, err)
	}
	if empty {
		return "", nil, errs.InvalidArgument("%s is an empty directory", dir)
	}

	tmpDir, err := c.pathProvider.CreateTempDir("gfile")
	if err != nil {
		return "", nil, errs.IO("create temp dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			c.logger.Warnf("Failed to remove %s: %s", tmpDir, err)
		}
	}

	archivePath := filepath.Join(tmpDir, archive.ArchiveName(dir))
	c.logger.Infof("Packing %s", dir)
	if err := c.archiver.Pack(dir, archivePath, excludes); err != nil {
		cleanup()
		return "", nil, err
	}
	return archivePath, cleanup, nil
}

// Download fetches the file behind the share URL source. The returned error
// is nil for a size mismatch; check DownloadResult.Err.
func (c *Client) Download(ctx context.Context, source string, opts DownloadOptions) (DownloadResult, error) {
	exists, err := c.pathChecker.IsPathExists(source)
	if err == nil && exists {
		return DownloadResult{}, errs.InvalidArgument("%s is a local path, not a share URL", source)
	}

	downloader := download.New(c.network, download.Options{
		OutputDir:    opts.OutputDir,
		CopySize:     c.cfg.CopySize,
		Parallel:     opts.Parallel,
		SharePattern: c.sharePattern,
		Progress:     opts.Progress,
	}, c.logger)

	result, err := downloader.Download(ctx, source, opts.Filename)
	if err != nil {
		return DownloadResult{Result: result}, err
	}

	out := DownloadResult{Result: result}
	if opts.Extract && result.Complete() && archive.IsArchive(result.Path) {
		dest := opts.OutputDir
		if dest == "" {
			dest = "."
		}
		if err := c.archiver.Unpack(result.Path, dest); err != nil {
			return out, fmt.Errorf("extract: %w", err)
		}
		out.Extracted = dest
	}
	return out, nil
}
