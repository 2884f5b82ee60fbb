package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/models"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/desertthunder/spx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// reconcileCommand reconciles one archive playlist against its desired set.
func reconcileCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Bring one archive playlist in line with the cached library",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.StringFlag{
				Name:     "kind",
				Usage:    "Archive kind (finds, top, discovery)",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "year",
				Usage: "Archive year (default: current year)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Compute the diff without applying it",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output the diff as JSON",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Action: r.Reconcile,
	}
}

// Reconcile diffs and converges a single kind/year archive playlist.
func (r *Runner) Reconcile(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	kind, ok := tasks.ParseArchiveKind(cmd.String("kind"))
	if !ok {
		return fmt.Errorf("%w: unknown archive kind %q", shared.ErrInvalidInput, cmd.String("kind"))
	}
	year := cmd.Int("year")
	if year == 0 {
		year = r.now().UTC().Year()
	}

	cat, err := r.openCatalog(config)
	if err != nil {
		return err
	}

	playlistID, err := findArchivePlaylist(cat, tasks.NewNamer(config.Archive), kind, year)
	if err != nil {
		return err
	}

	service, closeService, err := r.openService(config)
	if err != nil {
		return err
	}
	defer closeService()

	reconciler := tasks.NewReconciler(service, cat, catalog.NewBackupStore(config.BackupsDir()), config, r.logger)
	result, runErr := reconciler.Reconcile(ctx, kind, year, playlistID, cmd.Bool("dry-run"))
	if result != nil {
		if cmd.Bool("json") {
			if err := r.writeJSON(result, true); err != nil {
				return err
			}
		} else if err := r.writePlain("%s", formatter.Diffs([]*tasks.DiffResult{result})); err != nil {
			return err
		}
	}
	return runErr
}

// findArchivePlaylist resolves the cached playlist carrying the kind/year
// archive name. The sync pipeline creates missing archives; this command
// only converges ones that already exist.
func findArchivePlaylist(cat *catalog.Catalog, namer *tasks.Namer, kind tasks.ArchiveKind, year int) (string, error) {
	table, err := cat.Read(models.KindPlaylist)
	if err != nil {
		return "", err
	}

	for _, row := range table.Rows {
		playlist, ok := row.(models.Playlist)
		if !ok || playlist.Stale {
			continue
		}
		parsed, ok := namer.Parse(playlist.Name)
		if ok && parsed.Yearly() && parsed.Kind == kind && parsed.Year == year {
			return playlist.ID, nil
		}
	}
	return "", fmt.Errorf("%w: no %s archive for %d in the catalog, run `spx sync` first", shared.ErrPlaylistNotFound, kind, year)
}
