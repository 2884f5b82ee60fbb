package main

import (
	"context"

	"github.com/desertthunder/spx/internal/exporter"
	"github.com/desertthunder/spx/internal/formatter"
	"github.com/urfave/cli/v3"
)

// exportCommand publishes the catalog as a SQLite snapshot.
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the catalog into a SQLite snapshot for analysis tooling",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Snapshot path (default: <data_dir>/library.db)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the export report as JSON",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Action: r.Export,
	}
}

// Export rebuilds the SQLite snapshot from the catalog tables.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	cat, err := r.openCatalog(config)
	if err != nil {
		return err
	}

	path := cmd.String("output")
	if path == "" {
		path = config.ExportPath()
	}

	report, err := exporter.NewExporter(cat, r.logger).Export(path)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, true)
	}
	return r.writePlain("%s", formatter.ExportReport(report))
}
