// Package retention runs the startup recovery pass: it scans the working
// directories for session folders left by the previous run, optionally
// archives improperly shut down live sessions, trims the archive pool to
// the configured size, and attaches the survivors to the registry. It runs
// once, before the registry is offered to any caller.
package retention

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"collabsync/internal/config"
	"collabsync/internal/eventlog"
	"collabsync/internal/logging"
	"collabsync/internal/migrate"
	"collabsync/internal/registry"
	"collabsync/internal/session"
)

type sessionDir struct {
	info    session.Info
	path    string
	modTime time.Time
}

// Recover scans the live and archive directories, applies the auto-archive
// and trimming policies, and adopts what remains into reg.
func Recover(cfg *config.Config, reg *registry.Registry, caches eventlog.CacheOptions) error {
	timer := logging.StartTimer(logging.CategoryRetention, "Recover")
	defer timer.Stop()

	archives := scanSessionDirs(cfg.ArchiveDir())
	liveDirs := scanSessionDirs(cfg.LiveDir())

	// Archival-on-reboot runs before normal recovery: live sessions found
	// at startup were not shut down cleanly.
	if cfg.Server.AutoArchiveOnReboot {
		for _, live := range liveDirs {
			archived, err := archiveRecoveredSession(cfg, live, archives, caches)
			if err != nil {
				logging.Retention("Failed to auto-archive session %q (%s): %v",
					live.info.SessionName, live.info.SessionID, err)
				continue
			}
			archives = replaceByName(archives, archived)
			if err := os.RemoveAll(live.path); err != nil {
				return session.WrapStorage(session.CodeStorageIO, "failed to remove auto-archived live session", err)
			}
		}
		liveDirs = nil
	}

	archives, err := trimArchives(cfg, archives)
	if err != nil {
		return err
	}

	for _, entry := range archives {
		if err := reg.AdoptArchived(entry.info); err != nil {
			logging.Retention("Skipping archived session %q (%s): %v", entry.info.SessionName, entry.info.SessionID, err)
		}
	}
	for _, entry := range liveDirs {
		if err := reg.AdoptLive(entry.info); err != nil {
			logging.Retention("Skipping live session %q (%s): %v", entry.info.SessionName, entry.info.SessionID, err)
		}
	}

	logging.Retention("Recovery complete: %d live, %d archived", len(liveDirs), len(archives))
	return nil
}

// scanSessionDirs returns the valid session folders under root: those with
// a readable sidecar whose folder name parses as the sidecar's own session
// id. Everything else is skipped silently; stale or corrupt directories
// are ignored, not repaired.
func scanSessionDirs(root string) []sessionDir {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}

	var dirs []sessionDir
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirID, err := uuid.Parse(entry.Name())
		if err != nil {
			continue
		}
		path := filepath.Join(root, entry.Name())
		info, err := session.LoadSidecar(path)
		if err != nil || info.SessionID != dirID {
			continue
		}
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		dirs = append(dirs, sessionDir{info: *info, path: path, modTime: stat.ModTime()})
	}
	return dirs
}

// archiveRecoveredSession migrates one recovered live session into archive
// form, replacing any existing archive with the resulting name.
func archiveRecoveredSession(cfg *config.Config, live sessionDir, archives []sessionDir, caches eventlog.CacheOptions) (sessionDir, error) {
	archivedInfo := live.info
	archivedInfo.SessionID = uuid.New()
	if name := live.info.Settings.ArchiveNameOverride; name != "" {
		archivedInfo.SessionName = name
	}

	for _, existing := range archives {
		if strings.EqualFold(existing.info.SessionName, archivedInfo.SessionName) {
			if err := os.RemoveAll(existing.path); err != nil {
				return sessionDir{}, session.WrapStorage(session.CodeStorageIO, "failed to replace archived session", err)
			}
		}
	}

	log, err := eventlog.Open(live.path, caches)
	if err != nil {
		return sessionDir{}, err
	}
	dest := filepath.Join(cfg.ArchiveDir(), archivedInfo.SessionID.String())
	migrateErr := migrate.MigrateToPath(log, dest, session.Filter{IncludeIgnoredActivities: true}, caches)
	if closeErr := log.Close(false); migrateErr == nil {
		migrateErr = closeErr
	}
	if migrateErr != nil {
		os.RemoveAll(dest)
		return sessionDir{}, migrateErr
	}
	if err := session.SaveSidecar(dest, &archivedInfo); err != nil {
		os.RemoveAll(dest)
		return sessionDir{}, err
	}

	logging.Retention("Auto-archived session %q (%s) as %q (%s)",
		live.info.SessionName, live.info.SessionID, archivedInfo.SessionName, archivedInfo.SessionID)
	return sessionDir{info: archivedInfo, path: dest, modTime: time.Now()}, nil
}

// replaceByName drops any entry sharing the new archive's name, then
// appends it.
func replaceByName(archives []sessionDir, archived sessionDir) []sessionDir {
	kept := archives[:0]
	for _, entry := range archives {
		if !strings.EqualFold(entry.info.SessionName, archived.info.SessionName) {
			kept = append(kept, entry)
		}
	}
	return append(kept, archived)
}

// trimArchives applies num_sessions_to_keep: negative keeps everything,
// zero wipes the archive tree outright, otherwise the newest N by
// directory modification time survive.
func trimArchives(cfg *config.Config, archives []sessionDir) ([]sessionDir, error) {
	keep := cfg.Server.NumSessionsToKeep
	if keep < 0 {
		return archives, nil
	}
	if keep == 0 {
		if err := os.RemoveAll(cfg.ArchiveDir()); err != nil {
			return nil, session.WrapStorage(session.CodeStorageIO, "failed to wipe archive directory", err)
		}
		logging.Retention("Wiped archive directory %s", cfg.ArchiveDir())
		return nil, nil
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].modTime.After(archives[j].modTime) })
	if len(archives) <= keep {
		return archives, nil
	}
	for _, entry := range archives[keep:] {
		if err := os.RemoveAll(entry.path); err != nil {
			return nil, session.WrapStorage(session.CodeStorageIO, "failed to trim archived session", err)
		}
		logging.Retention("Trimmed archived session %q (%s)", entry.info.SessionName, entry.info.SessionID)
	}
	return archives[:keep], nil
}
