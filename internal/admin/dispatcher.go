package admin

import (
	"github.com/google/uuid"

	"collabsync/internal/logging"
	"collabsync/internal/registry"
	"collabsync/internal/session"
)

// Dispatcher executes admin requests against one registry. Requests run to
// completion synchronously; the registry serializes them internally.
type Dispatcher struct {
	reg *registry.Registry
}

// NewDispatcher binds a dispatcher to a registry.
func NewDispatcher(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

func success() ResponseBase { return ResponseBase{Code: ResponseSuccess} }

func failure(err error) ResponseBase {
	logging.Admin("Request failed: %v", err)
	return ResponseBase{Code: ResponseFailed, Reason: err.Error()}
}

// CreateSession creates a new live session.
func (d *Dispatcher) CreateSession(req CreateSessionRequest) CreateSessionResponse {
	info := session.Info{
		SessionID:   req.SessionID,
		SessionName: req.SessionName,
		OwnerUser:   req.OwnerUser,
		OwnerDevice: req.OwnerDevice,
		Settings:    req.Settings,
	}
	if info.SessionID == uuid.Nil {
		info.SessionID = uuid.New()
	}
	if req.Version != nil {
		info.VersionHistory = []session.VersionInfo{*req.Version}
	}

	created, err := d.reg.CreateLive(info)
	if err != nil {
		return CreateSessionResponse{ResponseBase: failure(err)}
	}
	return CreateSessionResponse{ResponseBase: success(), SessionInfo: created}
}

// FindSession resolves a live session by id or name and checks the
// caller's version is compatible with the session's latest.
func (d *Dispatcher) FindSession(req FindSessionRequest) FindSessionResponse {
	var (
		info session.Info
		err  error
	)
	if req.SessionID != uuid.Nil {
		info, err = d.reg.GetLiveSession(req.SessionID)
	} else {
		info, err = d.reg.GetLiveSessionByName(req.SessionName)
	}
	if err != nil {
		return FindSessionResponse{ResponseBase: failure(err)}
	}

	if req.Version != nil {
		if latest, ok := info.LatestVersion(); ok {
			if latest.CompareCompatibility(*req.Version) == session.VersionIncompatible {
				return FindSessionResponse{ResponseBase: failure(session.Errorf(session.CodeVersionIncompatible,
					"session %q runs data version %d, client has %d",
					info.SessionName, latest.DataVersion, req.Version.DataVersion))}
			}
		}
	}
	return FindSessionResponse{ResponseBase: success(), SessionInfo: info}
}

// RestoreSession restores an archived session as a new live session.
func (d *Dispatcher) RestoreSession(req RestoreSessionRequest) RestoreSessionResponse {
	newInfo := session.Info{
		SessionID:   uuid.New(),
		SessionName: req.SessionName,
		OwnerUser:   req.OwnerUser,
		OwnerDevice: req.OwnerDevice,
		Settings:    req.Settings,
	}
	if req.Version != nil {
		newInfo.VersionHistory = []session.VersionInfo{*req.Version}
	}

	restored, err := d.reg.RestoreFromArchive(req.ArchivedID, newInfo, req.Filter)
	if err != nil {
		return RestoreSessionResponse{ResponseBase: failure(err)}
	}
	return RestoreSessionResponse{ResponseBase: success(), SessionInfo: restored}
}

// ArchiveSession snapshots a live session into the archive pool.
func (d *Dispatcher) ArchiveSession(req ArchiveSessionRequest) ArchiveSessionResponse {
	archivedID, err := d.reg.ArchiveLive(req.SessionID, req.NameOverride, req.Filter)
	if err != nil {
		return ArchiveSessionResponse{ResponseBase: failure(err)}
	}
	return ArchiveSessionResponse{ResponseBase: success(), ArchivedID: archivedID}
}

// RenameSession renames a session on behalf of the requesting user/device.
func (d *Dispatcher) RenameSession(req RenameSessionRequest) RenameSessionResponse {
	requester := session.Requester{UserName: req.UserName, DeviceName: req.DeviceName}
	if err := d.reg.Rename(req.SessionID, req.NewName, requester); err != nil {
		return RenameSessionResponse{ResponseBase: failure(err)}
	}
	return RenameSessionResponse{ResponseBase: success()}
}

// DeleteSession destroys a session on behalf of the requesting
// user/device.
func (d *Dispatcher) DeleteSession(req DeleteSessionRequest) DeleteSessionResponse {
	requester := session.Requester{UserName: req.UserName, DeviceName: req.DeviceName}
	if err := d.reg.Destroy(req.SessionID, requester, req.DeleteData); err != nil {
		return DeleteSessionResponse{ResponseBase: failure(err)}
	}
	return DeleteSessionResponse{ResponseBase: success()}
}

// GetAllSessions lists both pools.
func (d *Dispatcher) GetAllSessions(GetAllSessionsRequest) GetAllSessionsResponse {
	return GetAllSessionsResponse{ResponseBase: success(), Sessions: d.reg.GetAllSessions()}
}

// GetLiveSessions lists the live pool.
func (d *Dispatcher) GetLiveSessions(GetLiveSessionsRequest) GetLiveSessionsResponse {
	return GetLiveSessionsResponse{ResponseBase: success(), Sessions: d.reg.GetLiveSessions()}
}

// GetArchivedSessions lists the archive pool.
func (d *Dispatcher) GetArchivedSessions(GetArchivedSessionsRequest) GetArchivedSessionsResponse {
	return GetArchivedSessionsResponse{ResponseBase: success(), Sessions: d.reg.GetArchivedSessions()}
}

// GetSessionClients lists the clients recorded in a session's log.
func (d *Dispatcher) GetSessionClients(req GetSessionClientsRequest) GetSessionClientsResponse {
	clients, err := d.reg.GetSessionClients(req.SessionID)
	if err != nil {
		return GetSessionClientsResponse{ResponseBase: failure(err)}
	}
	return GetSessionClientsResponse{ResponseBase: success(), Clients: clients}
}

// GetSessionActivities returns a window of a session's activity index.
// Count < 0 selects the last |Count| activities regardless of
// FromActivityID.
func (d *Dispatcher) GetSessionActivities(req GetSessionActivitiesRequest) GetSessionActivitiesResponse {
	first, count := req.FromActivityID, req.Count
	if count < 0 {
		maxID, err := d.reg.GetSessionActivityMaxID(req.SessionID)
		if err != nil {
			return GetSessionActivitiesResponse{ResponseBase: failure(err)}
		}
		count = -count
		first = maxID - count + 1
	}
	if first < 1 {
		first = 1
	}

	activities, err := d.reg.GetSessionActivities(req.SessionID, first, count)
	if err != nil {
		return GetSessionActivitiesResponse{ResponseBase: failure(err)}
	}
	return GetSessionActivitiesResponse{ResponseBase: success(), Activities: activities}
}
