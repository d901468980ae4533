// Package main: data root watching. Reports session folders appearing in
// or vanishing from the live and archive directories while other tools or
// operators manipulate them directly.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"collabsync/internal/retention"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the data root for session folder changes",
	Long: `Watches the live and archive directories and reports session folders
that appear or vanish outside collabd's control, such as an archive being
copied in by hand. Runs until interrupted.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.close()

	w, err := retention.NewWatcher(env.cfg, func(c retention.DirChange) {
		pool := "live"
		if c.Archived {
			pool = "archived"
		}
		switch {
		case c.Removed:
			logger.Info("session folder vanished",
				zap.String("id", c.SessionID.String()), zap.String("pool", pool))
			fmt.Printf("- %s session %s vanished\n", pool, c.SessionID)
		default:
			logger.Info("session folder appeared",
				zap.String("id", c.SessionID.String()),
				zap.String("name", c.Info.SessionName),
				zap.String("pool", pool))
			fmt.Printf("+ %s session %q (%s) appeared\n", pool, c.Info.SessionName, c.SessionID)
		}
	})
	if err != nil {
		return err
	}
	if err := w.Start(cmd.Context()); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Printf("Watching %s and %s, press Ctrl-C to stop\n", env.cfg.LiveDir(), env.cfg.ArchiveDir())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-cmd.Context().Done():
	}
	return nil
}
