// Package registry owns session identity, naming, and the lifecycle state
// machine. Live sessions hold an open event log; archived sessions are
// metadata only, their logs opened on demand. The registry exclusively owns
// both pools; callers look sessions up by id and never hold a handle across
// a mutation without revalidating.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabsync/internal/eventlog"
	"collabsync/internal/logging"
	"collabsync/internal/migrate"
	"collabsync/internal/session"
)

// EventSink receives lifecycle notifications. Callbacks are injected at
// construction; nil callbacks are skipped. They run synchronously under the
// registry lock and must not call back into the registry.
type EventSink struct {
	OnLiveSessionCreated       func(session.Info)
	OnLiveSessionDestroyed     func(session.Info)
	OnLiveSessionRenamed       func(info session.Info, oldName string)
	OnArchivedSessionCreated   func(session.Info)
	OnArchivedSessionDestroyed func(session.Info)
	OnArchivedSessionRenamed   func(info session.Info, oldName string)
}

// Options configures a Registry.
type Options struct {
	LiveDir                   string
	ArchiveDir                string
	Caches                    eventlog.CacheOptions
	IgnoreVersionRestrictions bool
	Sink                      EventSink
}

type liveSession struct {
	info session.Info
	log  *eventlog.EventLog
}

// Registry is the in-memory directory of live and archived sessions.
type Registry struct {
	mu       sync.RWMutex
	opts     Options
	live     map[uuid.UUID]*liveSession
	archived map[uuid.UUID]session.Info
}

// New builds an empty registry. Sessions on disk are attached afterwards by
// the startup recovery pass.
func New(opts Options) *Registry {
	return &Registry{
		opts:     opts,
		live:     make(map[uuid.UUID]*liveSession),
		archived: make(map[uuid.UUID]session.Info),
	}
}

// LiveSessionPath returns the working directory for a live session id.
func (r *Registry) LiveSessionPath(sessionID uuid.UUID) string {
	return filepath.Join(r.opts.LiveDir, sessionID.String())
}

// ArchivedSessionPath returns the directory for an archived session id.
func (r *Registry) ArchivedSessionPath(sessionID uuid.UUID) string {
	return filepath.Join(r.opts.ArchiveDir, sessionID.String())
}

func (r *Registry) validateNewInfo(info *session.Info) error {
	if info.SessionID == uuid.Nil {
		return session.Errorf(session.CodeInvalidArgument, "session id must be set")
	}
	if info.SessionName == "" {
		return session.Errorf(session.CodeInvalidArgument, "session name must not be empty")
	}
	if len(info.VersionHistory) == 0 && !r.opts.IgnoreVersionRestrictions {
		return session.Errorf(session.CodeVersionRequired, "session %q carries no version information", info.SessionName)
	}
	return nil
}

// Name conflicts are checked case-insensitively; stored names keep their
// case.
func (r *Registry) liveNameConflict(name string, exclude uuid.UUID) bool {
	for id, s := range r.live {
		if id != exclude && strings.EqualFold(s.info.SessionName, name) {
			return true
		}
	}
	return false
}

func (r *Registry) archivedNameConflict(name string, exclude uuid.UUID) (uuid.UUID, bool) {
	for id, info := range r.archived {
		if id != exclude && strings.EqualFold(info.SessionName, name) {
			return id, true
		}
	}
	return uuid.Nil, false
}

// CreateLive creates a new live session with a fresh event log.
func (r *Registry) CreateLive(info session.Info) (session.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validateNewInfo(&info); err != nil {
		return session.Info{}, err
	}
	if _, ok := r.live[info.SessionID]; ok {
		return session.Info{}, session.Errorf(session.CodeNameConflict, "live session id %s already exists", info.SessionID)
	}
	if r.liveNameConflict(info.SessionName, info.SessionID) {
		return session.Info{}, session.Errorf(session.CodeNameConflict, "live session named %q already exists", info.SessionName)
	}

	root := r.LiveSessionPath(info.SessionID)
	log, err := eventlog.Open(root, r.opts.Caches)
	if err != nil {
		return session.Info{}, err
	}
	if err := session.SaveSidecar(root, &info); err != nil {
		log.Close(true)
		return session.Info{}, err
	}

	r.live[info.SessionID] = &liveSession{info: info, log: log}
	logging.Registry("Created live session %q (%s)", info.SessionName, info.SessionID)
	if r.opts.Sink.OnLiveSessionCreated != nil {
		r.opts.Sink.OnLiveSessionCreated(info)
	}
	return info, nil
}

// RestoreFromArchive creates a new live session from an archived one. The
// archive keeps its own id; the live session always gets a new one. The
// archive's version history carries over, with the restoring version
// appended when it differs from the archive's latest.
func (r *Registry) RestoreFromArchive(archivedID uuid.UUID, newInfo session.Info, filter session.Filter) (session.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	archivedInfo, ok := r.archived[archivedID]
	if !ok {
		return session.Info{}, session.Errorf(session.CodeNotFound, "archived session %s does not exist", archivedID)
	}
	if newInfo.SessionID == uuid.Nil {
		newInfo.SessionID = uuid.New()
	}
	if err := r.validateNewInfo(&newInfo); err != nil {
		return session.Info{}, err
	}
	if _, ok := r.live[newInfo.SessionID]; ok {
		return session.Info{}, session.Errorf(session.CodeNameConflict, "live session id %s already exists", newInfo.SessionID)
	}
	if r.liveNameConflict(newInfo.SessionName, newInfo.SessionID) {
		return session.Info{}, session.Errorf(session.CodeNameConflict, "live session named %q already exists", newInfo.SessionName)
	}

	archiveVersion, archiveHasVersion := archivedInfo.LatestVersion()
	restoreVersion, restoreHasVersion := newInfo.LatestVersion()
	if archiveHasVersion && restoreHasVersion {
		switch archiveVersion.CompareCompatibility(restoreVersion) {
		case session.VersionIncompatible:
			return session.Info{}, session.Errorf(session.CodeVersionIncompatible,
				"session %q was recorded with data version %d, restore requested with %d",
				archivedInfo.SessionName, archiveVersion.DataVersion, restoreVersion.DataVersion)
		case session.VersionCompatible:
			newInfo.VersionHistory = append(append([]session.VersionInfo(nil), archivedInfo.VersionHistory...), restoreVersion)
		case session.VersionIdentical:
			newInfo.VersionHistory = append([]session.VersionInfo(nil), archivedInfo.VersionHistory...)
		}
	}

	archiveLog, err := eventlog.Open(r.ArchivedSessionPath(archivedID), r.opts.Caches)
	if err != nil {
		return session.Info{}, err
	}
	root := r.LiveSessionPath(newInfo.SessionID)
	migrateErr := migrate.MigrateToPath(archiveLog, root, filter, r.opts.Caches)
	if closeErr := archiveLog.Close(false); migrateErr == nil {
		migrateErr = closeErr
	}
	if migrateErr != nil {
		os.RemoveAll(root)
		return session.Info{}, migrateErr
	}

	log, err := eventlog.Open(root, r.opts.Caches)
	if err != nil {
		os.RemoveAll(root)
		return session.Info{}, err
	}
	if err := session.SaveSidecar(root, &newInfo); err != nil {
		log.Close(true)
		return session.Info{}, err
	}

	r.live[newInfo.SessionID] = &liveSession{info: newInfo, log: log}
	logging.Registry("Restored archive %q (%s) as live session %q (%s)",
		archivedInfo.SessionName, archivedID, newInfo.SessionName, newInfo.SessionID)
	if r.opts.Sink.OnLiveSessionCreated != nil {
		r.opts.Sink.OnLiveSessionCreated(newInfo)
	}
	return newInfo, nil
}

// ArchiveLive snapshots a live session into the archive pool under a new
// archived id. An existing archive with the resulting name is destroyed
// first: archiving is last-writer-wins per name. The live session stays
// live.
func (r *Registry) ArchiveLive(sessionID uuid.UUID, nameOverride string, filter session.Filter) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.live[sessionID]
	if !ok {
		return uuid.Nil, session.Errorf(session.CodeNotFound, "live session %s does not exist", sessionID)
	}

	archiveName := nameOverride
	if archiveName == "" {
		archiveName = s.info.Settings.ArchiveNameOverride
	}
	if archiveName == "" {
		archiveName = s.info.SessionName
	}

	if oldID, conflict := r.archivedNameConflict(archiveName, uuid.Nil); conflict {
		if err := r.destroyArchivedLocked(oldID); err != nil {
			return uuid.Nil, err
		}
	}

	archivedInfo := s.info
	archivedInfo.SessionID = uuid.New()
	archivedInfo.SessionName = archiveName

	root := r.ArchivedSessionPath(archivedInfo.SessionID)
	if err := migrate.MigrateToPath(s.log, root, filter, r.opts.Caches); err != nil {
		os.RemoveAll(root)
		return uuid.Nil, err
	}
	if err := session.SaveSidecar(root, &archivedInfo); err != nil {
		os.RemoveAll(root)
		return uuid.Nil, err
	}

	r.archived[archivedInfo.SessionID] = archivedInfo
	logging.Registry("Archived live session %q (%s) as %q (%s)",
		s.info.SessionName, sessionID, archiveName, archivedInfo.SessionID)
	if r.opts.Sink.OnArchivedSessionCreated != nil {
		r.opts.Sink.OnArchivedSessionCreated(archivedInfo)
	}
	return archivedInfo.SessionID, nil
}

// Rename changes a session's name within its pool. Only the owning
// user/device pair (or the internal admin path) may rename.
func (r *Registry) Rename(sessionID uuid.UUID, newName string, requester session.Requester) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if newName == "" {
		return session.Errorf(session.CodeInvalidArgument, "session name must not be empty")
	}

	if s, ok := r.live[sessionID]; ok {
		if !requester.CanMutate(&s.info) {
			return session.Errorf(session.CodePermissionDenied, "%s@%s does not own session %q",
				requester.UserName, requester.DeviceName, s.info.SessionName)
		}
		if r.liveNameConflict(newName, sessionID) {
			return session.Errorf(session.CodeNameConflict, "live session named %q already exists", newName)
		}
		oldName := s.info.SessionName
		s.info.SessionName = newName
		if err := session.SaveSidecar(r.LiveSessionPath(sessionID), &s.info); err != nil {
			s.info.SessionName = oldName
			return err
		}
		logging.Registry("Renamed live session %s: %q -> %q", sessionID, oldName, newName)
		if r.opts.Sink.OnLiveSessionRenamed != nil {
			r.opts.Sink.OnLiveSessionRenamed(s.info, oldName)
		}
		return nil
	}

	if info, ok := r.archived[sessionID]; ok {
		if !requester.CanMutate(&info) {
			return session.Errorf(session.CodePermissionDenied, "%s@%s does not own session %q",
				requester.UserName, requester.DeviceName, info.SessionName)
		}
		if _, conflict := r.archivedNameConflict(newName, sessionID); conflict {
			return session.Errorf(session.CodeNameConflict, "archived session named %q already exists", newName)
		}
		oldName := info.SessionName
		info.SessionName = newName
		if err := session.SaveSidecar(r.ArchivedSessionPath(sessionID), &info); err != nil {
			return err
		}
		r.archived[sessionID] = info
		logging.Registry("Renamed archived session %s: %q -> %q", sessionID, oldName, newName)
		if r.opts.Sink.OnArchivedSessionRenamed != nil {
			r.opts.Sink.OnArchivedSessionRenamed(info, oldName)
		}
		return nil
	}

	return session.Errorf(session.CodeNotFound, "session %s does not exist", sessionID)
}

// Destroy removes a session from its pool. deleteData additionally removes
// the on-disk directory; a live directory is moved aside first so readers
// of the old path never observe a half-deleted tree.
func (r *Registry) Destroy(sessionID uuid.UUID, requester session.Requester, deleteData bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.live[sessionID]; ok {
		if !requester.CanMutate(&s.info) {
			return session.Errorf(session.CodePermissionDenied, "%s@%s does not own session %q",
				requester.UserName, requester.DeviceName, s.info.SessionName)
		}
		if err := s.log.Close(false); err != nil {
			return err
		}
		delete(r.live, sessionID)
		if deleteData {
			if err := removeDirAside(r.LiveSessionPath(sessionID)); err != nil {
				return err
			}
		}
		logging.Registry("Destroyed live session %q (%s)", s.info.SessionName, sessionID)
		if r.opts.Sink.OnLiveSessionDestroyed != nil {
			r.opts.Sink.OnLiveSessionDestroyed(s.info)
		}
		return nil
	}

	if info, ok := r.archived[sessionID]; ok {
		if !requester.CanMutate(&info) {
			return session.Errorf(session.CodePermissionDenied, "%s@%s does not own session %q",
				requester.UserName, requester.DeviceName, info.SessionName)
		}
		if !deleteData {
			delete(r.archived, sessionID)
			if r.opts.Sink.OnArchivedSessionDestroyed != nil {
				r.opts.Sink.OnArchivedSessionDestroyed(info)
			}
			return nil
		}
		return r.destroyArchivedLocked(sessionID)
	}

	return session.Errorf(session.CodeNotFound, "session %s does not exist", sessionID)
}

func (r *Registry) destroyArchivedLocked(sessionID uuid.UUID) error {
	info := r.archived[sessionID]
	if err := os.RemoveAll(r.ArchivedSessionPath(sessionID)); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to delete archived session", err)
	}
	delete(r.archived, sessionID)
	logging.Registry("Destroyed archived session %q (%s)", info.SessionName, sessionID)
	if r.opts.Sink.OnArchivedSessionDestroyed != nil {
		r.opts.Sink.OnArchivedSessionDestroyed(info)
	}
	return nil
}

// removeDirAside renames a directory to a temp name before deleting it.
func removeDirAside(dir string) error {
	tmp := fmt.Sprintf("%s.trash-%d", dir, time.Now().UnixNano())
	if err := os.Rename(dir, tmp); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return session.WrapStorage(session.CodeStorageIO, "failed to move session directory aside", err)
	}
	if err := os.RemoveAll(tmp); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to delete session directory", err)
	}
	return nil
}

// AdoptLive attaches an already on-disk live session during startup
// recovery, opening its event log in place.
func (r *Registry) AdoptLive(info session.Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[info.SessionID]; ok {
		return session.Errorf(session.CodeNameConflict, "live session id %s already exists", info.SessionID)
	}
	if r.liveNameConflict(info.SessionName, info.SessionID) {
		return session.Errorf(session.CodeNameConflict, "live session named %q already exists", info.SessionName)
	}
	log, err := eventlog.Open(r.LiveSessionPath(info.SessionID), r.opts.Caches)
	if err != nil {
		return err
	}
	r.live[info.SessionID] = &liveSession{info: info, log: log}
	logging.Registry("Recovered live session %q (%s)", info.SessionName, info.SessionID)
	if r.opts.Sink.OnLiveSessionCreated != nil {
		r.opts.Sink.OnLiveSessionCreated(info)
	}
	return nil
}

// AdoptArchived attaches an already on-disk archived session during
// startup recovery. Archived logs stay closed until needed.
func (r *Registry) AdoptArchived(info session.Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.archived[info.SessionID]; ok {
		return session.Errorf(session.CodeNameConflict, "archived session id %s already exists", info.SessionID)
	}
	if _, conflict := r.archivedNameConflict(info.SessionName, info.SessionID); conflict {
		return session.Errorf(session.CodeNameConflict, "archived session named %q already exists", info.SessionName)
	}
	r.archived[info.SessionID] = info
	logging.RegistryDebug("Recovered archived session %q (%s)", info.SessionName, info.SessionID)
	return nil
}

// Close shuts down every live session's event log without deleting data.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, s := range r.live {
		if err := s.log.Close(false); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.live, id)
	}
	return firstErr
}
