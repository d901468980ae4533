// Package admin implements the administrative request/response surface
// over a session registry. Transport is out of scope: an RPC layer decodes
// wire requests into these structs and hands them to the Dispatcher. A
// failed request reports a code and reason; it never takes the server
// down.
package admin

import (
	"github.com/google/uuid"

	"collabsync/internal/eventlog"
	"collabsync/internal/session"
)

// ResponseCode is the coarse outcome of an admin request.
type ResponseCode int

const (
	ResponseSuccess ResponseCode = iota
	ResponseFailed
)

// ResponseBase carries the outcome shared by every response. Reason is a
// human-readable explanation, set on failure.
type ResponseBase struct {
	Code   ResponseCode
	Reason string
}

// Ok reports whether the request succeeded.
func (r ResponseBase) Ok() bool { return r.Code == ResponseSuccess }

// CreateSessionRequest creates a new live session. A nil SessionID asks
// the server to allocate one.
type CreateSessionRequest struct {
	SessionID   uuid.UUID
	SessionName string
	OwnerUser   string
	OwnerDevice string
	Settings    session.Settings
	Version     *session.VersionInfo
}

type CreateSessionResponse struct {
	ResponseBase
	SessionInfo session.Info
}

// FindSessionRequest looks up a live session by id or name and checks the
// caller's version can join it.
type FindSessionRequest struct {
	SessionID   uuid.UUID
	SessionName string
	Version     *session.VersionInfo
}

type FindSessionResponse struct {
	ResponseBase
	SessionInfo session.Info
}

// RestoreSessionRequest restores an archived session (by id or name) as a
// new live session.
type RestoreSessionRequest struct {
	ArchivedID  uuid.UUID
	SessionName string
	OwnerUser   string
	OwnerDevice string
	Settings    session.Settings
	Version     *session.VersionInfo
	Filter      session.Filter
}

type RestoreSessionResponse struct {
	ResponseBase
	SessionInfo session.Info
}

// ArchiveSessionRequest snapshots a live session into the archive pool.
type ArchiveSessionRequest struct {
	SessionID    uuid.UUID
	NameOverride string
	Filter       session.Filter
}

type ArchiveSessionResponse struct {
	ResponseBase
	ArchivedID uuid.UUID
}

// RenameSessionRequest renames a live or archived session on behalf of a
// user/device pair.
type RenameSessionRequest struct {
	SessionID  uuid.UUID
	NewName    string
	UserName   string
	DeviceName string
}

type RenameSessionResponse struct {
	ResponseBase
}

// DeleteSessionRequest destroys a live or archived session on behalf of a
// user/device pair.
type DeleteSessionRequest struct {
	SessionID  uuid.UUID
	UserName   string
	DeviceName string
	DeleteData bool
}

type DeleteSessionResponse struct {
	ResponseBase
}

type GetAllSessionsRequest struct{}

type GetAllSessionsResponse struct {
	ResponseBase
	Sessions []session.Info
}

type GetLiveSessionsRequest struct{}

type GetLiveSessionsResponse struct {
	ResponseBase
	Sessions []session.Info
}

type GetArchivedSessionsRequest struct{}

type GetArchivedSessionsResponse struct {
	ResponseBase
	Sessions []session.Info
}

type GetSessionClientsRequest struct {
	SessionID uuid.UUID
}

type GetSessionClientsResponse struct {
	ResponseBase
	Clients []session.ClientInfo
}

// GetSessionActivitiesRequest fetches a window of a session's activity
// index. A negative Count selects the last |Count| activities.
type GetSessionActivitiesRequest struct {
	SessionID      uuid.UUID
	FromActivityID int64
	Count          int64
}

type GetSessionActivitiesResponse struct {
	ResponseBase
	Activities []eventlog.Activity
}
