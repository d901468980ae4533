// Package session defines the shared session model: identity, ownership,
// version history, the on-disk SessionInfo.json sidecar, and the error
// taxonomy used by every lifecycle operation.
package session

import (
	"time"

	"github.com/google/uuid"
)

// VersionCompatibility is the result of comparing two version descriptors.
type VersionCompatibility int

const (
	VersionIdentical VersionCompatibility = iota
	VersionCompatible
	VersionIncompatible
)

// VersionInfo describes one entry in a session's version history.
// Sessions with differing engine versions cannot exchange event data.
type VersionInfo struct {
	EngineVersion  string `json:"engine_version"`
	DataVersion    int    `json:"data_version"`
	RecordedAtUnix int64  `json:"recorded_at_unix"`
}

// CompareCompatibility classifies how v relates to other. Versions are
// compatible when their data versions match; the engine version string is
// informational and only distinguishes identical from merely compatible.
func (v VersionInfo) CompareCompatibility(other VersionInfo) VersionCompatibility {
	if v.DataVersion != other.DataVersion {
		return VersionIncompatible
	}
	if v.EngineVersion == other.EngineVersion {
		return VersionIdentical
	}
	return VersionCompatible
}

// Settings carries the per-session options chosen at creation time.
type Settings struct {
	ProjectName         string `json:"project_name"`
	BaseRevision        int64  `json:"base_revision"`
	ArchiveNameOverride string `json:"archive_name_override,omitempty"`
}

// Info is the canonical descriptor for a session, live or archived.
// SessionID and SessionName are each unique within their pool.
type Info struct {
	SessionID        uuid.UUID     `json:"session_id"`
	SessionName      string        `json:"session_name"`
	OwnerUser        string        `json:"owner_user"`
	OwnerDevice      string        `json:"owner_device"`
	OwnerInstanceID  uuid.UUID     `json:"owner_instance_id"`
	ServerInstanceID uuid.UUID     `json:"server_instance_id"`
	Settings         Settings      `json:"settings"`
	VersionHistory   []VersionInfo `json:"version_history"`
}

// LatestVersion returns the newest entry of the version history.
func (i *Info) LatestVersion() (VersionInfo, bool) {
	if len(i.VersionHistory) == 0 {
		return VersionInfo{}, false
	}
	return i.VersionHistory[len(i.VersionHistory)-1], true
}

// ClientInfo identifies the user and device behind an endpoint.
type ClientInfo struct {
	UserName    string `json:"user_name"`
	DeviceName  string `json:"device_name"`
	DisplayName string `json:"display_name,omitempty"`
	Tags        string `json:"tags,omitempty"`
}

// Requester identifies the caller of a privileged lifecycle operation.
type Requester struct {
	UserName   string
	DeviceName string
	Admin      bool // internal recovery path, bypasses ownership checks
}

// CanMutate reports whether the requester may rename or destroy a session
// owned by the given user/device pair.
func (r Requester) CanMutate(info *Info) bool {
	if r.Admin {
		return true
	}
	return r.UserName == info.OwnerUser && r.DeviceName == info.OwnerDevice
}

// Filter selects which activities survive a migration or export.
type Filter struct {
	// IncludeIgnoredActivities copies activity rows marked ignored.
	IncludeIgnoredActivities bool
	// OnlyLiveData drops transaction events already superseded by a package
	// save and package events below the head revision.
	OnlyLiveData bool
	// MetadataOnly copies event rows and the activity index but substitutes
	// placeholder payloads; no blob files are written.
	MetadataOnly bool
	// Anonymize rewrites endpoint client info to stable pseudonyms.
	Anonymize bool
}

// EventTime is stored as unix nanoseconds in the activity index. Wall-clock
// times are informational only; activity ids define replay order.
func EventTime(t time.Time) int64 { return t.UnixNano() }
