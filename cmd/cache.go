package main

import (
	"context"

	"github.com/desertthunder/spx/internal/webcache"
	"github.com/urfave/cli/v3"
)

// cacheCommand manages the GET response cache.
func cacheCommand(r *Runner) *cli.Command {
	flags := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		}
	}
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the response cache",
		Commands: []*cli.Command{
			{
				Name:   "clear",
				Usage:  "Drop every cached response",
				Flags:  flags(),
				Action: r.CacheClear,
			},
			{
				Name:   "stats",
				Usage:  "Show how many responses are cached",
				Flags:  flags(),
				Action: r.CacheStats,
			},
		},
	}
}

// CacheClear empties the response cache.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	cache, err := webcache.Open(config.ResponseCachePath(), config.Sync.CacheTTL.Duration, r.logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.Clear(); err != nil {
		return err
	}
	return r.writePlain("response cache cleared\n")
}

// CacheStats prints the cached response count.
func (r *Runner) CacheStats(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	cache, err := webcache.Open(config.ResponseCachePath(), config.Sync.CacheTTL.Duration, r.logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	count, err := cache.Len()
	if err != nil {
		return err
	}
	return r.writePlain("%d cached response(s)\n", count)
}
