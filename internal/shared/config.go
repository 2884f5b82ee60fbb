package shared

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Duration wraps [time.Duration] so config values can be written as "30s" or "1h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler] for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	d.Duration = parsed
	return nil
}

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	General     GeneralConfig     `toml:"general"`
	Credentials CredentialsConfig `toml:"credentials"`
	Sync        SyncConfig        `toml:"sync"`
	Archive     ArchiveConfig     `toml:"archive"`
}

// GeneralConfig contains application-wide settings.
type GeneralConfig struct {
	DataDir string `toml:"data_dir"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials and stored tokens.
// Tokens are obtained out of band; the client refreshes them through the
// token endpoint without any interactive flow.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	AccessToken  string `toml:"access_token"`
}

// SyncConfig contains rate-limit, retry, and pagination settings.
type SyncConfig struct {
	RateLimit      float64  `toml:"rate_limit"` // requests per second
	Burst          int      `toml:"burst"`
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff Duration `toml:"initial_backoff"`
	BackoffFactor  float64  `toml:"backoff_factor"`
	PageSize       int      `toml:"page_size"`
	BatchSize      int      `toml:"batch_size"` // tracks per mutation request
	CacheTTL       Duration `toml:"cache_ttl"`  // GET response cache lifetime, 0 disables
	KeepMonths     int      `toml:"keep_months"`
}

// ArchiveConfig controls archive playlist naming and reconciliation scope.
type ArchiveConfig struct {
	Owner                 string   `toml:"owner"`
	PrefixFinds           string   `toml:"prefix_finds"`
	PrefixTop             string   `toml:"prefix_top"`
	PrefixDiscovery       string   `toml:"prefix_discovery"`
	DateFormat            string   `toml:"date_format"`      // short, medium, long, numeric
	SeparatorPrefix       string   `toml:"separator_prefix"` // none, space, dash, underscore
	SeparatorMonth        string   `toml:"separator_month"`
	Capitalization        string   `toml:"capitalization"` // preserve, title, upper, lower
	TopLimit              int      `toml:"top_limit"`
	DiscoveryLimit        int      `toml:"discovery_limit"`
	DiscoveryHorizonYears int      `toml:"discovery_horizon_years"` // 0 consults all cached years
	DescriptionTemplate   string   `toml:"description_template"`
	LegacyPrefixes        []string `toml:"legacy_prefixes"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	// Write the embedded example config to the file
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks enum-valued fields and required settings.
func (c *Config) Validate() error {
	if c.General.DataDir == "" {
		return fmt.Errorf("%w: general.data_dir is required", ErrInvalidConfig)
	}

	oneOf := func(field, value string, allowed ...string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return fmt.Errorf("%w: %s must be one of %v, got %q", ErrInvalidConfig, field, allowed, value)
	}

	if err := oneOf("archive.date_format", c.Archive.DateFormat, "short", "medium", "long", "numeric"); err != nil {
		return err
	}
	if err := oneOf("archive.separator_prefix", c.Archive.SeparatorPrefix, "none", "space", "dash", "underscore"); err != nil {
		return err
	}
	if err := oneOf("archive.separator_month", c.Archive.SeparatorMonth, "none", "space", "dash", "underscore"); err != nil {
		return err
	}
	if err := oneOf("archive.capitalization", c.Archive.Capitalization, "preserve", "title", "upper", "lower"); err != nil {
		return err
	}
	return nil
}

// CatalogDir returns the directory holding the published entity tables.
func (c *Config) CatalogDir() string { return filepath.Join(c.General.DataDir, "catalog") }

// CheckpointPath returns the location of the persisted sync checkpoint.
func (c *Config) CheckpointPath() string { return filepath.Join(c.General.DataDir, "checkpoint.toml") }

// BackupsDir returns the directory holding pre-mutation membership backups.
func (c *Config) BackupsDir() string { return filepath.Join(c.General.DataDir, "backups") }

// LockPath returns the location of the run lock file.
func (c *Config) LockPath() string { return filepath.Join(c.General.DataDir, "sync.lock") }

// ResponseCachePath returns the location of the GET response cache database.
func (c *Config) ResponseCachePath() string { return filepath.Join(c.General.DataDir, "response_cache.db") }

// DescriptionCachePath returns the location of the description snapshot cache.
func (c *Config) DescriptionCachePath() string {
	return filepath.Join(c.General.DataDir, "description_cache.toml")
}

// ExportPath returns the default location of the SQLite export snapshot.
func (c *Config) ExportPath() string { return filepath.Join(c.General.DataDir, "library.db") }
