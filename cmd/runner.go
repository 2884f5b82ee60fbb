package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spx/internal/catalog"
	"github.com/desertthunder/spx/internal/formatter"
	"github.com/desertthunder/spx/internal/services"
	"github.com/desertthunder/spx/internal/shared"
	"github.com/desertthunder/spx/internal/webcache"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	logger  *log.Logger
	output  io.Writer
	input   io.Reader
	service services.Service // overrides the real client when set
	now     func() time.Time
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Logger  *log.Logger
	Output  io.Writer
	Input   io.Reader
	Service services.Service
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}

	return &Runner{
		logger:  opts.Logger,
		output:  opts.Output,
		input:   opts.Input,
		service: opts.Service,
		now:     time.Now,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, syncCommand, reconcileCommand, statusCommand, exportCommand, historyCommand, backupCommand, cacheCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig reads the config named by --config, falling back to defaults
// when no file exists. It also raises the log level when --verbose is set.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	path := cmd.String("config")
	config := shared.DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		loaded, err := shared.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	} else if errors.Is(err, fs.ErrNotExist) {
		r.logger.Debug("config file not found, using defaults", "path", path)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// openCatalog opens the entity tables under the configured data directory.
func (r *Runner) openCatalog(config *shared.Config) (*catalog.Catalog, error) {
	return catalog.Open(config.CatalogDir(), r.logger)
}

// openService builds the remote client: response cache, rate limiter, and
// token-refreshing transport. The returned closer releases the cache; it is
// a no-op when the runner carries an injected service.
func (r *Runner) openService(config *shared.Config) (services.Service, func(), error) {
	if r.service != nil {
		return r.service, func() {}, nil
	}

	var cache *webcache.Cache
	closer := func() {}
	if ttl := config.Sync.CacheTTL.Duration; ttl > 0 {
		opened, err := webcache.Open(config.ResponseCachePath(), ttl, r.logger)
		if err != nil {
			return nil, nil, err
		}
		cache = opened
		closer = func() { cache.Close() }
	}

	client, err := services.NewHTTPClient(config, cache, r.logger)
	if err != nil {
		closer()
		return nil, nil, err
	}

	service := services.NewSpotifyService(services.SpotifyOpts{
		Client:   client,
		PageSize: config.Sync.PageSize,
		Logger:   r.logger,
	})
	return service, closer, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := formatter.MarshalJSON(data, pretty)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
