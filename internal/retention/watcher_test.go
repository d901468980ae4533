package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"collabsync/internal/config"
)

func startTestWatcher(t *testing.T, cfg *config.Config) (*Watcher, chan DirChange) {
	t.Helper()
	changes := make(chan DirChange, 8)
	w, err := NewWatcher(cfg, func(c DirChange) { changes <- c })
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, changes
}

func awaitChange(t *testing.T, changes chan DirChange) DirChange {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for a directory change")
		return DirChange{}
	}
}

func TestWatcherReportsAppearedSession(t *testing.T) {
	cfg := testConfig(t)
	_, changes := startTestWatcher(t, cfg)

	// Stage a complete session elsewhere, then move it in whole, the way
	// an operator restoring an archive by hand would.
	staging := t.TempDir()
	info := writeSessionDir(t, staging, "HandRestored", time.Time{})
	dest := filepath.Join(cfg.ArchiveDir(), info.SessionID.String())
	if err := os.Rename(filepath.Join(staging, info.SessionID.String()), dest); err != nil {
		t.Fatalf("Failed to move session in: %v", err)
	}

	c := awaitChange(t, changes)
	if c.SessionID != info.SessionID || !c.Archived || c.Removed {
		t.Errorf("Unexpected change: %+v", c)
	}
	if c.Info == nil || c.Info.SessionName != "HandRestored" {
		t.Errorf("Expected sidecar info for %q, got %+v", "HandRestored", c.Info)
	}
}

func TestWatcherReportsRemovedSession(t *testing.T) {
	cfg := testConfig(t)
	info := writeSessionDir(t, cfg.LiveDir(), "Doomed", time.Time{})
	_, changes := startTestWatcher(t, cfg)

	dir := filepath.Join(cfg.LiveDir(), info.SessionID.String())
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("Failed to remove session dir: %v", err)
	}

	c := awaitChange(t, changes)
	if c.SessionID != info.SessionID || !c.Removed || c.Archived {
		t.Errorf("Unexpected change: %+v", c)
	}
}

func TestWatcherIgnoresForeignDirs(t *testing.T) {
	cfg := testConfig(t)
	_, changes := startTestWatcher(t, cfg)

	if err := os.MkdirAll(filepath.Join(cfg.LiveDir(), "not-a-session"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	select {
	case c := <-changes:
		t.Errorf("Unexpected change for foreign dir: %+v", c)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	w, _ := startTestWatcher(t, cfg)
	w.Stop()
	w.Stop()
}
