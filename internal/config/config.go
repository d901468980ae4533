// Package config loads the collabsync server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvRoot overrides the configured server root when set.
const EnvRoot = "COLLABSYNC_ROOT"

// Config holds all collabsync configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures session roots and lifecycle policy.
type ServerConfig struct {
	// Root is the server working directory; live sessions live under
	// Root/Live, archived sessions under Root/Archive.
	Root string `yaml:"root"`

	// AutoArchiveOnReboot archives improperly-shutdown live sessions during
	// startup recovery instead of restoring them in place.
	AutoArchiveOnReboot bool `yaml:"auto_archive_on_reboot"`

	// NumSessionsToKeep bounds the archive pool at startup: <0 keeps all,
	// 0 wipes the archive directory tree, otherwise the N most recently
	// modified archives survive.
	NumSessionsToKeep int `yaml:"num_sessions_to_keep"`

	// IgnoreVersionRestrictions allows creating sessions without a version
	// history and skips restore compatibility checks.
	IgnoreVersionRestrictions bool `yaml:"ignore_version_restrictions"`
}

// StorageConfig configures the per-session blob caches.
type StorageConfig struct {
	TransactionCacheMinFiles int    `yaml:"transaction_cache_min_files"`
	TransactionCacheMaxBytes uint64 `yaml:"transaction_cache_max_bytes"`
	PackageCacheMinFiles     int    `yaml:"package_cache_min_files"`
	PackageCacheMaxBytes     uint64 `yaml:"package_cache_max_bytes"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns a configuration with production defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Root:              "collabsync-data",
			NumSessionsToKeep: -1,
		},
		Storage: StorageConfig{
			TransactionCacheMinFiles: 10,
			TransactionCacheMaxBytes: 50 * 1024 * 1024,
			PackageCacheMinFiles:     10,
			PackageCacheMaxBytes:     200 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a yaml config file, applying defaults for missing fields and
// the COLLABSYNC_ROOT env override. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if root := os.Getenv(EnvRoot); root != "" {
		cfg.Server.Root = root
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Storage.TransactionCacheMinFiles <= 0 {
		c.Storage.TransactionCacheMinFiles = d.Storage.TransactionCacheMinFiles
	}
	if c.Storage.TransactionCacheMaxBytes == 0 {
		c.Storage.TransactionCacheMaxBytes = d.Storage.TransactionCacheMaxBytes
	}
	if c.Storage.PackageCacheMinFiles <= 0 {
		c.Storage.PackageCacheMinFiles = d.Storage.PackageCacheMinFiles
	}
	if c.Storage.PackageCacheMaxBytes == 0 {
		c.Storage.PackageCacheMaxBytes = d.Storage.PackageCacheMaxBytes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Server.Root == "" {
		return fmt.Errorf("server.root must be set")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	return nil
}

// LiveDir returns the directory holding live session folders.
func (c *Config) LiveDir() string { return filepath.Join(c.Server.Root, "Live") }

// ArchiveDir returns the directory holding archived session folders.
func (c *Config) ArchiveDir() string { return filepath.Join(c.Server.Root, "Archive") }
