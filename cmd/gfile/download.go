package main

import (
	"fmt"

	"github.com/bitrise-io/gfile"
	"github.com/bitrise-io/gfile/config"
)

type downloadCommand struct {
	app *app

	Output         string `short:"o" long:"output" description:"File name to save as instead of the server provided one"`
	Dir            string `short:"d" long:"dir" description:"Directory to save into"`
	Parallel       bool   `long:"parallel" description:"Fetch with concurrent range requests"`
	Extract        bool   `long:"extract" description:"Unpack downloaded directory archives"`
	PositionalArgs struct {
		URL string `positional-arg-name:"url" description:"Share URL"`
	} `positional-args:"yes" required:"yes"`
}

func (c *downloadCommand) Execute(args []string) error {
	cfg, err := c.app.loadConfig(config.Config{})
	if err != nil {
		return err
	}
	client, err := gfile.NewClient(cfg, c.app.logger)
	if err != nil {
		return err
	}

	term := &terminal{enabled: cfg.Progress}
	result, err := client.Download(c.app.ctx, c.PositionalArgs.URL, gfile.DownloadOptions{
		Filename:  c.Output,
		OutputDir: c.Dir,
		Parallel:  c.Parallel,
		Extract:   c.Extract,
		Progress:  term.factory(),
	})
	term.stop()
	if err != nil {
		return err
	}

	if err := result.Err(); err != nil {
		c.app.logger.Errorf("Integrity check failed: %d of %d bytes written", result.Written, result.Expected)
		return err
	}

	c.app.logger.Donef("Downloaded %s (%s)", result.Path, config.HumanSize(result.Written))
	if result.Extracted != "" {
		c.app.logger.Donef("Extracted into %s", result.Extracted)
	}
	fmt.Fprintln(c.app.stdout, result.Path)
	return nil
}
