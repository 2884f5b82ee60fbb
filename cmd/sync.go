package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/tasks"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

// syncCommand runs the incremental sync pipeline.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Fetch the library and reconcile the archive playlists",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:  "steps",
				Usage: "Comma-separated subset of steps to run (fetch_library,rename,cleanup,consolidate_yearly,update_current_year,descriptions)",
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Resume an interrupted run from its checkpoint",
			},
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Re-fetch every playlist's membership regardless of snapshot versions",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report every remote mutation without applying it",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Break a leftover run lock before starting",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the run report as JSON",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Action: r.Sync,
	}
}

// Sync runs the pipeline and prints the per-step report.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("force") {
		r.logger.Warn("breaking run lock", "path", config.LockPath())
		if err := catalog.BreakLock(config.LockPath()); err != nil {
			return err
		}
	}

	cat, err := r.openCatalog(config)
	if err != nil {
		return err
	}
	service, closeService, err := r.openService(config)
	if err != nil {
		return err
	}
	defer closeService()

	pipeline := tasks.NewPipeline(
		service, cat,
		catalog.NewCheckpointStore(config.CheckpointPath()),
		catalog.NewBackupStore(config.BackupsDir()),
		config, r.logger,
	)

	opts := tasks.Options{
		Steps:  splitSteps(cmd.String("steps")),
		Resume: cmd.Bool("resume"),
		Full:   cmd.Bool("full"),
		DryRun: cmd.Bool("dry-run"),
	}

	var bar *progressbar.ProgressBar
	if !cmd.Bool("json") {
		total := len(tasks.Steps())
		if len(opts.Steps) > 0 {
			total = len(opts.Steps)
		}
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("sync"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetWriter(os.Stderr),
		)
		opts.Progress = func(step string) {
			bar.Describe(step)
			bar.Add(1)
		}
	}

	report, runErr := pipeline.Run(ctx, opts)
	if bar != nil {
		bar.Finish()
	}
	if report != nil {
		if cmd.Bool("json") {
			if err := r.writeJSON(report, true); err != nil {
				return err
			}
		} else if err := r.writePlain("%s", formatter.RunReport(report)); err != nil {
			return err
		}
	}
	return runErr
}

// splitSteps turns "a,b,c" into a slice, dropping empty entries.
func splitSteps(value string) []string {
	if value == "" {
		return nil
	}
	var steps []string
	for _, step := range strings.Split(value, ",") {
		if step = strings.TrimSpace(step); step != "" {
			steps = append(steps, step)
		}
	}
	return steps
}
