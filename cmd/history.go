package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/history"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/urfave/cli/v3"
)

// historyCommand imports Spotify streaming-history exports.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Listening-history operations",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Parse streaming-history JSON exports into the catalog",
				ArgsUsage: "<file>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
					&cli.StringFlag{
						Name:  "min-play",
						Usage: "Drop plays shorter than this duration (default 30s)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the import report as JSON",
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Enable debug logging",
					},
				},
				Action: r.HistoryImport,
			},
		},
	}
}

// HistoryImport merges streaming-history files into the events table.
func (r *Runner) HistoryImport(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	cat, err := r.openCatalog(config)
	if err != nil {
		return err
	}

	importer := history.NewImporter(cat, config, r.logger)
	if value := cmd.String("min-play"); value != "" {
		minPlay, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: --min-play: %v", shared.ErrInvalidInput, err)
		}
		importer.SetMinPlay(minPlay)
	}

	report, err := importer.Import(ctx, cmd.Args().Slice())
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, true)
	}
	return r.writePlain("%s", formatter.ImportReport(report))
}
