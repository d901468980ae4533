package eventlog

import (
	"database/sql"

	"collabsync/internal/session"
)

// Resource history queries. These answer "what changed this resource"
// over the full recorded history, fenced or not, in ascending event order.

func (l *EventLog) enumerateEventIDs(stmt *sql.Stmt, what string, fn func(int64) bool, args ...any) error {
	rows, err := stmt.Query(args...)
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate "+what, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to scan event id", err)
		}
		if !fn(id) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate "+what, err)
	}
	return nil
}

// EnumerateTransactionEventIDsForPackage calls fn with every transaction
// event id that touched the named package, oldest first.
func (l *EventLog) EnumerateTransactionEventIDsForPackage(packageName string, fn func(int64) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	nameID, ok, err := l.getPackageNameID(nil, packageName)
	if err != nil || !ok {
		return err
	}
	return l.enumerateEventIDs(l.stmts.getTxIDsForPackageNameID, "package transactions", fn, nameID)
}

// EnumerateTransactionEventIDsForObject calls fn with every transaction
// event id that modified the named object, oldest first.
func (l *EventLog) EnumerateTransactionEventIDsForObject(objectPathName string, fn func(int64) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	nameID, ok, err := l.getObjectNameID(nil, objectPathName)
	if err != nil || !ok {
		return err
	}
	return l.enumerateEventIDs(l.stmts.getTxIDsForObjectNameID, "object transactions", fn, nameID)
}

// EnumerateLockEventIDsForResource calls fn with every lock event id
// recorded against the named resource, oldest first.
func (l *EventLog) EnumerateLockEventIDsForResource(resourceName string, fn func(int64) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	nameID, ok, err := l.getObjectNameID(nil, resourceName)
	if err != nil || !ok {
		return err
	}
	return l.enumerateEventIDs(l.stmts.getLockIDsForObject, "resource locks", fn, nameID)
}

// EnumeratePackageNamesWithTransactions calls fn with each package name
// that any recorded transaction ever touched.
func (l *EventLog) EnumeratePackageNamesWithTransactions(fn func(string) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	rows, err := l.stmts.getPackageNameIDsWithTxs.Query()
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate packages with transactions", err)
	}
	var nameIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return session.WrapStorage(session.CodeStorageIO, "failed to scan package name id", err)
		}
		nameIDs = append(nameIDs, id)
	}
	if err := rows.Close(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate packages with transactions", err)
	}

	for _, nameID := range nameIDs {
		name, err := l.packageNameForID(nil, nameID)
		if err != nil {
			return err
		}
		if !fn(name) {
			break
		}
	}
	return nil
}
