package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/gfile"
	"github.com/bitrise-io/gfile/config"
	"github.com/bitrise-io/gfile/progress"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/jessevdk/go-flags"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitNotFound          = 3
	ExitProtocolError     = 4
	ExitIOError           = 5
	ExitIntegrityMismatch = 6
)

// GlobalOptions are accepted by every command.
type GlobalOptions struct {
	ConfigFile string `short:"c" long:"config" description:"Path to a YAML configuration file"`
	CopySize   string `short:"m" long:"copy-size" description:"Read and write granularity, e.g. 1MiB"`
	NoProgress bool   `long:"no-progress" description:"Do not print progress"`
	Verbose    bool   `short:"v" long:"verbose" description:"Print debug logs"`
}

type app struct {
	opts   GlobalOptions
	logger log.Logger
	ctx    context.Context
	stdout *os.File
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nReceived interrupt, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	a := &app{
		logger: log.NewLogger(),
		ctx:    ctx,
		stdout: os.Stdout,
	}

	parser := flags.NewParser(&a.opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "gfile"
	if _, err := parser.AddCommand("upload", "Upload a file or directory",
		"Upload a file, or a directory packed as tar.zst, and print its share URL.", &uploadCommand{app: a}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("download", "Download a shared file",
		"Download the file behind a share URL.", &downloadCommand{app: a}); err != nil {
		panic(err)
	}

	_, err := parser.ParseArgs(args)
	if err == nil {
		return ExitSuccess
	}

	var flagsErr *flags.Error
	if errors.As(err, &flagsErr) {
		if flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, flagsErr.Message)
			return ExitSuccess
		}
		fmt.Fprintln(os.Stderr, flagsErr.Message)
		parser.WriteHelp(os.Stderr)
		return ExitInvalidArgs
	}

	a.logger.Errorf("%s", err)
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, gfile.ErrInvalidArgument):
		return ExitInvalidArgs
	case errors.Is(err, gfile.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, gfile.ErrProtocol):
		return ExitProtocolError
	case errors.Is(err, gfile.ErrIntegrityMismatch):
		return ExitIntegrityMismatch
	case errors.Is(err, gfile.ErrIO):
		return ExitIOError
	default:
		return ExitGeneralError
	}
}

// loadConfig layers defaults, the config file, GFILE_* variables and flags.
func (a *app) loadConfig(override config.Config) (config.Config, error) {
	cfg := config.Default()
	if a.opts.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(a.opts.ConfigFile); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(env.NewRepository()); err != nil {
		return config.Config{}, err
	}

	if a.opts.CopySize != "" {
		copySize, err := config.ParseSize(a.opts.CopySize)
		if err != nil {
			return config.Config{}, fmt.Errorf("--copy-size: %w", err)
		}
		override.CopySize = copySize
	}
	override.Verbose = a.opts.Verbose
	cfg = cfg.Merge(override)
	if a.opts.NoProgress {
		cfg.Progress = false
	}

	a.logger.EnableDebugLog(cfg.Verbose)
	a.logger.Debugf("Configuration: chunk size %s, copy size %s, %d worker(s)",
		config.HumanSize(cfg.ChunkSize), config.HumanSize(cfg.CopySize), cfg.Workers)
	return cfg, nil
}

// terminal hands out progress reporters and stops them when the command ends.
type terminal struct {
	enabled   bool
	reporters []*progress.Reporter
}

func (t *terminal) factory() progress.Factory {
	if !t.enabled {
		return nil
	}
	return func(label string, total int64) progress.Sink {
		r := progress.NewReporter(progress.Options{Label: label, Total: total})
		r.Start()
		t.reporters = append(t.reporters, r)
		return r
	}
}

func (t *terminal) stop() {
	for _, r := range t.reporters {
		r.Stop()
	}
}
