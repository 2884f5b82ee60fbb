package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/urfave/cli/v3"
)

// backupCommand manages the pre-mutation membership backups.
func backupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "List and restore playlist membership backups",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List backups, oldest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output backup paths as JSON",
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Enable debug logging",
					},
				},
				Action: r.BackupList,
			},
			{
				Name:      "restore",
				Usage:     "Re-add a backup's tracks to its playlist (add-only)",
				ArgsUsage: "<file>",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "file"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
					&cli.BoolFlag{
						Name:    "yes",
						Aliases: []string{"y"},
						Usage:   "Skip the confirmation prompt",
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Enable debug logging",
					},
				},
				Action: r.BackupRestore,
			},
		},
	}
}

// BackupList prints every stored backup.
func (r *Runner) BackupList(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	paths, err := catalog.NewBackupStore(config.BackupsDir()).List()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(paths, true)
	}
	return r.writePlain("%s", formatter.Backups(paths))
}

// BackupRestore re-applies a backup to the playlist it was taken from.
// Restore only adds tracks; whatever the playlist gained since the backup
// stays in place.
func (r *Runner) BackupRestore(ctx context.Context, cmd *cli.Command) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	path := cmd.StringArg("file")
	if path == "" {
		return fmt.Errorf("%w: backup file path is required", shared.ErrMissingArgument)
	}

	rows, err := catalog.NewBackupStore(config.BackupsDir()).Read(path)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: backup %s holds no tracks", shared.ErrInvalidInput, path)
	}
	playlistID := rows[0].PlaylistID

	if !cmd.Bool("yes") {
		r.writePlain("restore %d track(s) to playlist %s? [y/N] ", len(rows), playlistID)
		answer, _ := bufio.NewReader(r.input).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			return r.writePlain("aborted\n")
		}
	}

	service, closeService, err := r.openService(config)
	if err != nil {
		return err
	}
	defer closeService()

	current, err := service.Membership(ctx, playlistID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(current))
	for _, row := range current {
		have[row.TrackID] = true
	}

	var missing []string
	for _, row := range rows {
		if !have[row.TrackID] {
			have[row.TrackID] = true
			missing = append(missing, row.TrackID)
		}
	}
	if len(missing) == 0 {
		return r.writePlain("playlist %s already holds every backed-up track\n", playlistID)
	}

	for _, chunk := range shared.Chunk(missing, config.Sync.BatchSize) {
		if err := service.AddTracks(ctx, playlistID, chunk); err != nil {
			return fmt.Errorf("failed to restore backup %s: %w", path, err)
		}
	}

	r.logger.Info("restored backup", "path", path, "playlist", playlistID, "added", len(missing))
	return r.writePlain("restored %d track(s) to playlist %s\n", len(missing), playlistID)
}
