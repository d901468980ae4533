package registry

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"collabsync/internal/eventlog"
	"collabsync/internal/session"
)

// GetLiveSession returns the info for a live session id.
func (r *Registry) GetLiveSession(sessionID uuid.UUID) (session.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.live[sessionID]; ok {
		return s.info, nil
	}
	return session.Info{}, session.Errorf(session.CodeNotFound, "live session %s does not exist", sessionID)
}

// GetArchivedSession returns the info for an archived session id.
func (r *Registry) GetArchivedSession(sessionID uuid.UUID) (session.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.archived[sessionID]; ok {
		return info, nil
	}
	return session.Info{}, session.Errorf(session.CodeNotFound, "archived session %s does not exist", sessionID)
}

// GetSession returns the info for a session id in either pool.
func (r *Registry) GetSession(sessionID uuid.UUID) (session.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.live[sessionID]; ok {
		return s.info, nil
	}
	if info, ok := r.archived[sessionID]; ok {
		return info, nil
	}
	return session.Info{}, session.Errorf(session.CodeNotFound, "session %s does not exist", sessionID)
}

// GetLiveSessionByName returns the live session with the given name,
// compared case-insensitively.
func (r *Registry) GetLiveSessionByName(name string) (session.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.live {
		if strings.EqualFold(s.info.SessionName, name) {
			return s.info, nil
		}
	}
	return session.Info{}, session.Errorf(session.CodeNotFound, "live session named %q does not exist", name)
}

// GetArchivedSessionByName returns the archived session with the given
// name, compared case-insensitively.
func (r *Registry) GetArchivedSessionByName(name string) (session.Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, info := range r.archived {
		if strings.EqualFold(info.SessionName, name) {
			return info, nil
		}
	}
	return session.Info{}, session.Errorf(session.CodeNotFound, "archived session named %q does not exist", name)
}

// GetLiveSessions returns every live session, sorted by name.
func (r *Registry) GetLiveSessions() []session.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]session.Info, 0, len(r.live))
	for _, s := range r.live {
		infos = append(infos, s.info)
	}
	sortByName(infos)
	return infos
}

// GetArchivedSessions returns every archived session, sorted by name.
func (r *Registry) GetArchivedSessions() []session.Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]session.Info, 0, len(r.archived))
	for _, info := range r.archived {
		infos = append(infos, info)
	}
	sortByName(infos)
	return infos
}

// GetAllSessions returns both pools, live first, each sorted by name.
func (r *Registry) GetAllSessions() []session.Info {
	return append(r.GetLiveSessions(), r.GetArchivedSessions()...)
}

func sortByName(infos []session.Info) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].SessionName != infos[j].SessionName {
			return infos[i].SessionName < infos[j].SessionName
		}
		return infos[i].SessionID.String() < infos[j].SessionID.String()
	})
}

// LiveSessionLog returns the open event log backing a live session. The
// returned log is owned by the registry and may be closed by a concurrent
// destroy; callers must not retain it across registry mutations.
func (r *Registry) LiveSessionLog(sessionID uuid.UUID) (*eventlog.EventLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.live[sessionID]; ok {
		return s.log, nil
	}
	return nil, session.Errorf(session.CodeNotFound, "live session %s does not exist", sessionID)
}

// GetSessionClients returns the client info of every endpoint recorded in
// a session, live or archived.
func (r *Registry) GetSessionClients(sessionID uuid.UUID) ([]session.ClientInfo, error) {
	var clients []session.ClientInfo
	err := r.withSessionLog(sessionID, func(log *eventlog.EventLog) error {
		return log.EnumerateEndpoints(func(ep eventlog.Endpoint) bool {
			clients = append(clients, ep.Client)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return clients, nil
}

// GetSessionActivities returns up to maxNum activities starting at
// firstActivityID, for a live or archived session.
func (r *Registry) GetSessionActivities(sessionID uuid.UUID, firstActivityID, maxNum int64) ([]eventlog.Activity, error) {
	var activities []eventlog.Activity
	err := r.withSessionLog(sessionID, func(log *eventlog.EventLog) error {
		return log.EnumerateActivitiesInRange(firstActivityID, maxNum, func(a eventlog.Activity) bool {
			activities = append(activities, a)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return activities, nil
}

// GetSessionActivityMaxID returns the highest activity id of a session,
// live or archived.
func (r *Registry) GetSessionActivityMaxID(sessionID uuid.UUID) (int64, error) {
	var maxID int64
	err := r.withSessionLog(sessionID, func(log *eventlog.EventLog) error {
		var err error
		maxID, err = log.GetActivityMaxID()
		return err
	})
	return maxID, err
}

// withSessionLog runs fn against a session's event log: the open log for a
// live session, or a temporarily opened one for an archived session.
func (r *Registry) withSessionLog(sessionID uuid.UUID, fn func(*eventlog.EventLog) error) error {
	r.mu.RLock()
	if s, ok := r.live[sessionID]; ok {
		defer r.mu.RUnlock()
		return fn(s.log)
	}
	_, isArchived := r.archived[sessionID]
	r.mu.RUnlock()

	if !isArchived {
		return session.Errorf(session.CodeNotFound, "session %s does not exist", sessionID)
	}
	log, err := eventlog.Open(r.ArchivedSessionPath(sessionID), r.opts.Caches)
	if err != nil {
		return err
	}
	fnErr := fn(log)
	if closeErr := log.Close(false); fnErr == nil {
		fnErr = closeErr
	}
	return fnErr
}
