package eventlog

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"collabsync/internal/logging"
	"collabsync/internal/session"
)

// SetEndpoint inserts or replaces the client record for an endpoint.
// Endpoint ids are stable for the lifetime of a client connection, so
// reconnects update in place.
func (l *EventLog) SetEndpoint(endpointID uuid.UUID, client session.ClientInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireOpen(); err != nil {
		return err
	}
	return l.setEndpoint(nil, endpointID, client)
}

func (l *EventLog) setEndpoint(tx *sql.Tx, endpointID uuid.UUID, client session.ClientInfo) error {
	blob, err := json.Marshal(client)
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to encode client info", err)
	}
	if _, err := l.use(tx, l.stmts.setEndpoint).Exec(endpointID.String(), client.UserName, string(blob)); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to store endpoint", err)
	}
	logging.EventLogDebug("Stored endpoint %s (%s)", endpointID, client.UserName)
	return nil
}

// GetEndpoint returns the client record for an endpoint id.
func (l *EventLog) GetEndpoint(endpointID uuid.UUID) (session.ClientInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return session.ClientInfo{}, err
	}
	return l.getEndpoint(nil, endpointID)
}

func (l *EventLog) getEndpoint(tx *sql.Tx, endpointID uuid.UUID) (session.ClientInfo, error) {
	var userID, blob string
	err := l.use(tx, l.stmts.getEndpointForID).QueryRow(endpointID.String()).Scan(&userID, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return session.ClientInfo{}, session.Errorf(session.CodeNotFound, "endpoint %s is not recorded", endpointID)
	}
	if err != nil {
		return session.ClientInfo{}, session.WrapStorage(session.CodeStorageIO, "failed to read endpoint", err)
	}
	var client session.ClientInfo
	if err := json.Unmarshal([]byte(blob), &client); err != nil {
		return session.ClientInfo{}, session.WrapStorage(session.CodeStorageCorrupt, "malformed client info record", err)
	}
	return client, nil
}

// EnumerateEndpoints calls fn for every recorded endpoint in endpoint id
// order. Enumeration stops early when fn returns false.
func (l *EventLog) EnumerateEndpoints(fn func(Endpoint) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	rows, err := l.stmts.getAllEndpoints.Query()
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate endpoints", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idStr, userID, blob string
		if err := rows.Scan(&idStr, &userID, &blob); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to scan endpoint row", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return session.WrapStorage(session.CodeStorageCorrupt, "malformed endpoint id", err)
		}
		var client session.ClientInfo
		if err := json.Unmarshal([]byte(blob), &client); err != nil {
			return session.WrapStorage(session.CodeStorageCorrupt, "malformed client info record", err)
		}
		if !fn(Endpoint{EndpointID: id, Client: client}) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate endpoints", err)
	}
	return nil
}

// EnumerateEndpointIDs calls fn for every recorded endpoint id.
func (l *EventLog) EnumerateEndpointIDs(fn func(uuid.UUID) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	rows, err := l.stmts.getAllEndpointIDs.Query()
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate endpoint ids", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to scan endpoint id", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return session.WrapStorage(session.CodeStorageCorrupt, "malformed endpoint id", err)
		}
		if !fn(id) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate endpoint ids", err)
	}
	return nil
}
