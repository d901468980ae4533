package retention

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"collabsync/internal/config"
	"collabsync/internal/logging"
	"collabsync/internal/session"
)

// DirChange describes a session folder appearing in or vanishing from a
// watched root. Info is set for appearances once the sidecar is readable;
// removals carry only the id parsed from the folder name.
type DirChange struct {
	SessionID uuid.UUID
	Path      string
	Archived  bool
	Removed   bool
	Info      *session.Info
}

// Watcher reports session folders that appear under or vanish from the
// live and archive roots without going through the registry, such as an
// operator copying an archived session in by hand or deleting one.
type Watcher struct {
	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	liveDir    string
	archiveDir string
	report     func(DirChange)
	stopCh     chan struct{}
	doneCh     chan struct{}
	running    bool
}

// NewWatcher creates a watcher over cfg's live and archive roots. Every
// observed change is delivered to report from the watcher goroutine.
func NewWatcher(cfg *config.Config, report func(DirChange)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, session.WrapStorage(session.CodeStorageIO, "failed to create directory watcher", err)
	}
	return &Watcher{
		watcher:    fsw,
		liveDir:    cfg.LiveDir(),
		archiveDir: cfg.ArchiveDir(),
		report:     report,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins watching both roots. Non-blocking; events are handled on a
// goroutine until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, root := range []string{w.liveDir, w.archiveDir} {
		if err := os.MkdirAll(root, 0755); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to create watched root", err)
		}
		if err := w.watcher.Add(root); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to watch session root", err)
		}
	}
	logging.Retention("Watching session roots: %s, %s", w.liveDir, w.archiveDir)

	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryRetention).Error("Failed to close directory watcher: %v", err)
	}
	logging.Retention("Session root watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryRetention).Error("Directory watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Session folders are named by their id; anything else under the
	// roots is not ours to track.
	dirID, err := uuid.Parse(filepath.Base(event.Name))
	if err != nil {
		return
	}
	archived := filepath.Dir(event.Name) == w.archiveDir

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Rename) != 0 && dirExists(event.Name):
		info, ok := w.waitForSidecar(event.Name, dirID)
		if !ok {
			return
		}
		logging.Retention("Session folder appeared outside registry control: %q (%s)", info.SessionName, dirID)
		w.report(DirChange{SessionID: dirID, Path: event.Name, Archived: archived, Info: info})

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		logging.Retention("Session folder vanished outside registry control: %s", dirID)
		w.report(DirChange{SessionID: dirID, Path: event.Name, Archived: archived, Removed: true})
	}
}

// waitForSidecar polls briefly for a readable sidecar whose id matches the
// folder name. A folder being copied in has its sidecar arrive last, so a
// few retries cover the common case; anything still unreadable after that
// is treated like the scan pass treats it and skipped.
func (w *Watcher) waitForSidecar(path string, dirID uuid.UUID) (*session.Info, bool) {
	for attempt := 0; attempt < 10; attempt++ {
		info, err := session.LoadSidecar(path)
		if err == nil {
			if info.SessionID != dirID {
				return nil, false
			}
			return info, true
		}
		select {
		case <-w.stopCh:
			return nil, false
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil, false
}

func dirExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.IsDir()
}
