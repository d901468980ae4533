package eventlog

import (
	"database/sql"
	"errors"

	"collabsync/internal/session"
)

// Interned name pools. Names are created lazily on first use and never
// deleted while referenced.

func (l *EventLog) getObjectNameID(tx *sql.Tx, objectPathName string) (int64, bool, error) {
	var id int64
	err := l.use(tx, l.stmts.getObjectNameID).QueryRow(objectPathName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, session.WrapStorage(session.CodeStorageIO, "failed to look up object name", err)
	}
	return id, true, nil
}

func (l *EventLog) ensureObjectNameID(tx *sql.Tx, objectPathName string) (int64, error) {
	if id, ok, err := l.getObjectNameID(tx, objectPathName); err != nil || ok {
		return id, err
	}
	res, err := l.use(tx, l.stmts.addObjectName).Exec(objectPathName)
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to intern object name", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read object name id", err)
	}
	return id, nil
}

func (l *EventLog) getPackageNameID(tx *sql.Tx, packageName string) (int64, bool, error) {
	var id int64
	err := l.use(tx, l.stmts.getPackageNameID).QueryRow(packageName).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, session.WrapStorage(session.CodeStorageIO, "failed to look up package name", err)
	}
	return id, true, nil
}

func (l *EventLog) ensurePackageNameID(tx *sql.Tx, packageName string) (int64, error) {
	if id, ok, err := l.getPackageNameID(tx, packageName); err != nil || ok {
		return id, err
	}
	res, err := l.use(tx, l.stmts.addPackageName).Exec(packageName)
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to intern package name", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read package name id", err)
	}
	return id, nil
}

func (l *EventLog) packageNameForID(tx *sql.Tx, packageNameID int64) (string, error) {
	var name string
	err := l.use(tx, l.stmts.getPackageName).QueryRow(packageNameID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.Errorf(session.CodeNotFound, "package name id %d is not interned", packageNameID)
	}
	if err != nil {
		return "", session.WrapStorage(session.CodeStorageIO, "failed to read package name", err)
	}
	return name, nil
}

func (l *EventLog) objectNameForID(tx *sql.Tx, objectNameID int64) (string, error) {
	var name string
	err := l.use(tx, l.stmts.getObjectName).QueryRow(objectNameID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", session.Errorf(session.CodeNotFound, "object name id %d is not interned", objectNameID)
	}
	if err != nil {
		return "", session.WrapStorage(session.CodeStorageIO, "failed to read object name", err)
	}
	return name, nil
}

// GetObjectNameID resolves an interned object path name, if present.
func (l *EventLog) GetObjectNameID(objectPathName string) (int64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return 0, false, err
	}
	return l.getObjectNameID(nil, objectPathName)
}

// GetPackageNameID resolves an interned package name, if present.
func (l *EventLog) GetPackageNameID(packageName string) (int64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return 0, false, err
	}
	return l.getPackageNameID(nil, packageName)
}
