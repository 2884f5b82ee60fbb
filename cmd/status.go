package main

import (
	"context"

	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// statusCommand reports the local library state.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show table sizes, lock state, and any interrupted run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output status as JSON",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Action: r.Status,
	}
}

// Status gathers and prints the catalog, checkpoint, and lock state.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	cat, err := r.openCatalog(config)
	if err != nil {
		return err
	}

	status, err := tasks.GatherStatus(cat, catalog.NewCheckpointStore(config.CheckpointPath()), config)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}
	return r.writePlain("%s", formatter.Status(status))
}
