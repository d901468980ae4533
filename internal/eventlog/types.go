package eventlog

import (
	"encoding/json"

	"github.com/google/uuid"

	"collabsync/internal/session"
)

// EventType discriminates the typed event a row in the activity index
// points at.
type EventType int

const (
	EventTypeNone EventType = iota
	EventTypeConnection
	EventTypeLock
	EventTypeTransaction
	EventTypePackage
)

// String returns the event type name used in summaries and logs.
func (t EventType) String() string {
	switch t {
	case EventTypeConnection:
		return "Connection"
	case EventTypeLock:
		return "Lock"
	case EventTypeTransaction:
		return "Transaction"
	case EventTypePackage:
		return "Package"
	default:
		return "None"
	}
}

// ConnectionEventType classifies a connection event.
type ConnectionEventType int

const (
	ConnectionConnected ConnectionEventType = iota
	ConnectionDisconnected
)

// LockEventType classifies a lock event.
type LockEventType int

const (
	LockLocked LockEventType = iota
	LockUnlocked
)

// PackageUpdateType classifies what a package event recorded.
type PackageUpdateType int

const (
	// PackageUpdateDummy is a placeholder event carrying no real save; head
	// dummy events without an activity row may be rewritten in place.
	PackageUpdateDummy PackageUpdateType = iota
	PackageUpdateAdded
	PackageUpdateSaved
	PackageUpdateRenamed
	PackageUpdateDeleted
)

// Endpoint pairs an endpoint id with the client behind it.
type Endpoint struct {
	EndpointID uuid.UUID
	Client     session.ClientInfo
}

// Activity is one row of the event-agnostic index. ActivityID is strictly
// increasing and 1-based; it is the canonical replay order for the whole
// log. EventTime is informational only.
type Activity struct {
	ActivityID  int64
	EndpointID  uuid.UUID
	EventTime   int64
	EventType   EventType
	EventID     int64
	SummaryType string
	Summary     json.RawMessage
	Ignored     bool
}

// ConnectionEvent records a client joining or leaving the session.
type ConnectionEvent struct {
	ConnectionType ConnectionEventType
}

// LockEvent records resources being locked or unlocked. Resource names are
// interned and mapped through the resource_locks join table.
type LockEvent struct {
	LockType      LockEventType
	ResourceNames []string
}

// TransactionEvent records one data transaction. The payload lives in a
// framed blob file; the modified names also feed the transaction join
// tables so "what changed this resource" queries avoid scanning the log.
type TransactionEvent struct {
	Payload          []byte   `json:"payload,omitempty"`
	ModifiedPackages []string `json:"modified_packages,omitempty"`
	ModifiedObjects  []string `json:"modified_objects,omitempty"`
}

// PackageInfo is the header stored ahead of package blob bodies and in the
// package_events row.
type PackageInfo struct {
	PackageName              string            `json:"package_name"`
	UpdateType               PackageUpdateType `json:"update_type"`
	TransactionEventIDAtSave int64             `json:"transaction_event_id_at_save"`
}

// PackageEvent records a package save. PackageRevision is monotonic per
// package name, starting at 1.
type PackageEvent struct {
	PackageRevision int64
	Info            PackageInfo
	Data            []byte
}

// ConnectionActivity bundles an activity row with its connection event.
type ConnectionActivity struct {
	Activity
	EventData ConnectionEvent
}

// LockActivity bundles an activity row with its lock event.
type LockActivity struct {
	Activity
	EventData LockEvent
}

// TransactionActivity bundles an activity row with its transaction event.
type TransactionActivity struct {
	Activity
	EventData TransactionEvent
}

// PackageActivity bundles an activity row with its package event.
type PackageActivity struct {
	Activity
	EventData PackageEvent
}
