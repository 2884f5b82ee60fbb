package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/spx/internal/shared"
	"github.com/urfave/cli/v3"
)

// setupCommand scaffolds the config file and data directory.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create a starter config file and the data directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}

// Setup writes the embedded example config when none exists and creates the
// directories a run expects.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")

	if _, err := os.Stat(path); err == nil {
		r.logger.Info("config file already exists", "path", path)
	} else {
		if err := shared.CreateConfigFile(path); err != nil {
			return err
		}
		r.logger.Info("config file created", "path", path)
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}

	for _, dir := range []string{config.General.DataDir, config.CatalogDir(), config.BackupsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	r.writePlain("config: %s\n", path)
	r.writePlain("data directory: %s\n", config.General.DataDir)
	r.writePlain("fill in [credentials.spotify] before running `spx sync`\n")
	return nil
}
