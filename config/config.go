// Package config loads runtime configuration from an optional TOML file,
// an optional .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Defaults.
const (
	DefaultCatalogURL   = "https://drive.google.com/uc?export=download&id=1C-yV7YbYY3KUJ-x6XD5oENL8qrw6thAE"
	DefaultReleasesURL  = "https://comick.io/home2"
	DefaultStateFile    = "subscriptions.json"
	DefaultStateObject  = "subscriptions.json"
	DefaultConfigFile   = "chaptersniffer.toml"
	DefaultPort         = "8080"
	DefaultPollInterval = time.Minute
	DefaultCooldown     = 10 * time.Minute
)

// Duration is a time.Duration written in Go syntax ("90s", "10m") in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Discord holds chat platform credentials.
type Discord struct {
	Token string `toml:"token"`
}

// Sources holds the fetched URLs.
type Sources struct {
	CatalogURL  string `toml:"catalog_url"`
	ReleasesURL string `toml:"releases_url"`
}

// State selects where subscriptions are persisted. A non-empty Bucket
// selects Cloud Storage, otherwise File is used.
type State struct {
	File            string `toml:"file"`
	Bucket          string `toml:"bucket"`
	Object          string `toml:"object"`
	CredentialsJSON string `toml:"-"` // Environment only
	Snapshots       int    `toml:"snapshots"`
}

// Poll holds check cycle timing.
type Poll struct {
	Interval Duration `toml:"interval"`
	Cooldown Duration `toml:"cooldown"`
}

// HTTP holds the status server settings. Port "off" disables it.
type HTTP struct {
	Port string `toml:"port"`
}

// Logging holds log output settings.
type Logging struct {
	Level string `toml:"level"`
}

// Config encapsulates all configuration values.
type Config struct {
	Discord Discord `toml:"discord"`
	Sources Sources `toml:"sources"`
	State   State   `toml:"state"`
	Poll    Poll    `toml:"poll"`
	HTTP    HTTP    `toml:"http"`
	Logging Logging `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Sources: Sources{
			CatalogURL:  DefaultCatalogURL,
			ReleasesURL: DefaultReleasesURL,
		},
		State: State{
			File:   DefaultStateFile,
			Object: DefaultStateObject,
		},
		Poll: Poll{
			Interval: Duration(DefaultPollInterval),
			Cooldown: Duration(DefaultCooldown),
		},
		HTTP:    HTTP{Port: DefaultPort},
		Logging: Logging{Level: "info"},
	}
}

// Load builds the configuration. path names a TOML file; when empty,
// DefaultConfigFile is used if present. A .env file in the working directory
// is loaded into the environment without overriding variables already set.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigFile
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DISCORD_TOKEN":           &c.Discord.Token,
		"CATALOG_URL":             &c.Sources.CatalogURL,
		"RELEASES_URL":            &c.Sources.ReleasesURL,
		"STATE_FILE":              &c.State.File,
		"STORAGE_BUCKET":          &c.State.Bucket,
		"STATE_OBJECT":            &c.State.Object,
		"GOOGLE_CREDENTIALS_JSON": &c.State.CredentialsJSON,
		"PORT":                    &c.HTTP.Port,
		"LOG_LEVEL":               &c.Logging.Level,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*Duration{
		"POLL_INTERVAL": &c.Poll.Interval,
		"COOLDOWN":      &c.Poll.Cooldown,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := dst.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}

	if v, ok := lookup("STATE_SNAPSHOTS"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse STATE_SNAPSHOTS: %w", err)
		}
		c.State.Snapshots = n
	}
	return nil
}

// Validate ensures the configuration is usable. The Discord token is
// checked separately by commands that connect.
func (c *Config) Validate() error {
	if c.Sources.CatalogURL == "" || c.Sources.ReleasesURL == "" {
		return errors.New("sources.catalog_url and sources.releases_url must be set")
	}
	if c.Poll.Interval.Std() <= 0 {
		return errors.New("poll.interval must be positive")
	}
	if c.Poll.Cooldown.Std() <= 0 {
		return errors.New("poll.cooldown must be positive")
	}
	if c.State.Snapshots < 0 {
		return errors.New("state.snapshots must not be negative")
	}
	if c.State.Bucket == "" && c.State.File == "" {
		return errors.New("state.file must be set when no bucket is configured")
	}
	if c.State.Bucket != "" && c.State.Object == "" {
		return errors.New("state.object must be set when a bucket is configured")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// HTTPEnabled reports whether the status server should run.
func (c *Config) HTTPEnabled() bool {
	return c.HTTP.Port != "" && !strings.EqualFold(c.HTTP.Port, "off")
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("invalid logging.level %q: %w", c.Logging.Level, err)
	}
	return level, nil
}
