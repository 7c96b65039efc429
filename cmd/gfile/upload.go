package main

import (
	"fmt"

	"github.com/bitrise-io/gfile"
	"github.com/bitrise-io/gfile/config"
)

type uploadCommand struct {
	app *app

	Workers        int      `short:"n" long:"workers" description:"Number of chunks prepared and sent concurrently"`
	ChunkSize      string   `short:"s" long:"chunk-size" description:"Chunk size, e.g. 100MB"`
	SerializeLast  bool     `long:"serialize-last" description:"Send the last chunk after all others were acknowledged"`
	Lifetime       int      `short:"l" long:"lifetime" description:"Days the server keeps the file"`
	Excludes       []string `short:"x" long:"exclude" description:"Glob of paths to leave out of directory uploads (repeatable)"`
	PositionalArgs struct {
		Path string `positional-arg-name:"path" description:"File or directory to upload"`
	} `positional-args:"yes" required:"yes"`
}

func (c *uploadCommand) Execute(args []string) error {
	override := config.Config{
		Workers:            c.Workers,
		SerializeLastChunk: c.SerializeLast,
		Lifetime:           c.Lifetime,
	}
	if c.ChunkSize != "" {
		chunkSize, err := config.ParseSize(c.ChunkSize)
		if err != nil {
			return fmt.Errorf("--chunk-size: %w", err)
		}
		override.ChunkSize = chunkSize
	}

	cfg, err := c.app.loadConfig(override)
	if err != nil {
		return err
	}
	client, err := gfile.NewClient(cfg, c.app.logger)
	if err != nil {
		return err
	}

	term := &terminal{enabled: cfg.Progress}
	result, err := client.Upload(c.app.ctx, c.PositionalArgs.Path, gfile.UploadOptions{
		Excludes: c.Excludes,
		Progress: term.factory(),
	})
	term.stop()
	if err != nil {
		return err
	}

	c.app.logger.Donef("Uploaded %s (%s)", c.PositionalArgs.Path, config.HumanSize(result.Size))
	fmt.Fprintln(c.app.stdout, result.ShareURL)
	return nil
}
