// Package main implements collabd, the administrative CLI for a collabsync
// data root: startup recovery, session listing, and lifecycle operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"collabsync/internal/admin"
	"collabsync/internal/config"
	"collabsync/internal/eventlog"
	"collabsync/internal/logging"
	"collabsync/internal/registry"
	"collabsync/internal/retention"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "collabd",
	Short: "collabd - collabsync session administration",
	Long: `collabd administers a collabsync data root: it recovers sessions left
by a previous run, lists live and archived sessions, and performs
archive/restore/rename/delete operations against the on-disk state.

The data root comes from the config file, or the COLLABSYNC_ROOT
environment variable.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// environment bundles the recovered state every subcommand works against.
type environment struct {
	cfg        *config.Config
	reg        *registry.Registry
	dispatcher *admin.Dispatcher
}

// openEnvironment loads config, configures category logging, and runs the
// startup recovery pass so the registry reflects the on-disk sessions.
func openEnvironment() (*environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.Server.Root, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	caches := cacheOptions(cfg)
	reg := registry.New(registry.Options{
		LiveDir:                   cfg.LiveDir(),
		ArchiveDir:                cfg.ArchiveDir(),
		Caches:                    caches,
		IgnoreVersionRestrictions: cfg.Server.IgnoreVersionRestrictions,
	})
	if err := retention.Recover(cfg, reg, caches); err != nil {
		return nil, fmt.Errorf("recovery failed: %w", err)
	}

	return &environment{cfg: cfg, reg: reg, dispatcher: admin.NewDispatcher(reg)}, nil
}

func (e *environment) close() {
	if err := e.reg.Close(); err != nil {
		logger.Warn("failed to close registry", zap.Error(err))
	}
}

func cacheOptions(cfg *config.Config) eventlog.CacheOptions {
	return eventlog.CacheOptions{
		TransactionMinFiles: cfg.Storage.TransactionCacheMinFiles,
		TransactionMaxBytes: cfg.Storage.TransactionCacheMaxBytes,
		PackageMinFiles:     cfg.Storage.PackageCacheMinFiles,
		PackageMaxBytes:     cfg.Storage.PackageCacheMaxBytes,
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "collabsync.yaml", "path to the yaml config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(activitiesCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
