package eventlog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"

	"collabsync/internal/logging"
	"collabsync/internal/session"
)

// Typed event storage. Connection and lock events are row-only; transaction
// and package events pair a row with a framed blob file written through the
// in-memory caches. All writers run inside the caller's transaction scope.

// DataPolicy controls what happens to the blob data when a transaction or
// package event is stored.
type DataPolicy int

const (
	// DataPolicyWrite frames the event data and writes the blob file.
	DataPolicyWrite DataPolicy = iota
	// DataPolicyStrip records no data file; the event keeps metadata only.
	DataPolicyStrip
	// DataPolicyExternal records the data filename but writes no file; the
	// caller delivers the blob out of band (bulk session copies).
	DataPolicyExternal
)

func (l *EventLog) addConnectionEvent(tx *sql.Tx, ev ConnectionEvent) (int64, error) {
	res, err := l.use(tx, l.stmts.addConnectionEvent).Exec(int(ev.ConnectionType))
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to store connection event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read connection event id", err)
	}
	return id, nil
}

func (l *EventLog) setConnectionEvent(tx *sql.Tx, eventID int64, ev ConnectionEvent) error {
	if _, err := l.use(tx, l.stmts.setConnectionEvent).Exec(eventID, int(ev.ConnectionType)); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to store connection event", err)
	}
	return nil
}

func (l *EventLog) getConnectionEvent(tx *sql.Tx, eventID int64) (ConnectionEvent, error) {
	var connType int
	err := l.use(tx, l.stmts.getConnectionEventForID).QueryRow(eventID).Scan(&connType)
	if errors.Is(err, sql.ErrNoRows) {
		return ConnectionEvent{}, session.Errorf(session.CodeNotFound, "connection event %d is not recorded", eventID)
	}
	if err != nil {
		return ConnectionEvent{}, session.WrapStorage(session.CodeStorageIO, "failed to read connection event", err)
	}
	return ConnectionEvent{ConnectionType: ConnectionEventType(connType)}, nil
}

func (l *EventLog) addLockEvent(tx *sql.Tx, ev LockEvent) (int64, error) {
	res, err := l.use(tx, l.stmts.addLockEvent).Exec(int(ev.LockType))
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to store lock event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read lock event id", err)
	}
	if err := l.mapLockResources(tx, id, ev.ResourceNames); err != nil {
		return 0, err
	}
	return id, nil
}

func (l *EventLog) setLockEvent(tx *sql.Tx, eventID int64, ev LockEvent) error {
	if _, err := l.use(tx, l.stmts.setLockEvent).Exec(eventID, int(ev.LockType)); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to store lock event", err)
	}
	if _, err := l.use(tx, l.stmts.unmapObjectsForLock).Exec(eventID); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to clear lock resources", err)
	}
	return l.mapLockResources(tx, eventID, ev.ResourceNames)
}

func (l *EventLog) mapLockResources(tx *sql.Tx, eventID int64, resourceNames []string) error {
	for _, name := range resourceNames {
		objectID, err := l.ensureObjectNameID(tx, name)
		if err != nil {
			return err
		}
		if _, err := l.use(tx, l.stmts.mapObjectToLock).Exec(objectID, eventID); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to map lock resource", err)
		}
	}
	return nil
}

func (l *EventLog) getLockEvent(tx *sql.Tx, eventID int64) (LockEvent, error) {
	var lockType int
	err := l.use(tx, l.stmts.getLockEventForID).QueryRow(eventID).Scan(&lockType)
	if errors.Is(err, sql.ErrNoRows) {
		return LockEvent{}, session.Errorf(session.CodeNotFound, "lock event %d is not recorded", eventID)
	}
	if err != nil {
		return LockEvent{}, session.WrapStorage(session.CodeStorageIO, "failed to read lock event", err)
	}

	// Collect the ids first; the single connection cannot serve a nested
	// query while the row cursor is open.
	rows, err := l.use(tx, l.stmts.getObjectIDsForLock).Query(eventID)
	if err != nil {
		return LockEvent{}, session.WrapStorage(session.CodeStorageIO, "failed to read lock resources", err)
	}
	var objectIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return LockEvent{}, session.WrapStorage(session.CodeStorageIO, "failed to scan lock resource", err)
		}
		objectIDs = append(objectIDs, id)
	}
	if err := rows.Close(); err != nil {
		return LockEvent{}, session.WrapStorage(session.CodeStorageIO, "failed to read lock resources", err)
	}

	ev := LockEvent{LockType: LockEventType(lockType)}
	for _, id := range objectIDs {
		name, err := l.objectNameForID(tx, id)
		if err != nil {
			return LockEvent{}, err
		}
		ev.ResourceNames = append(ev.ResourceNames, name)
	}
	return ev, nil
}

func (l *EventLog) nextTransactionEventID(tx *sql.Tx) (int64, error) {
	var maxID int64
	if err := l.use(tx, l.stmts.getTransactionMaxEventID).QueryRow().Scan(&maxID); err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read max transaction event id", err)
	}
	return maxID + 1, nil
}

// setTransactionEvent stores one transaction event. The join tables are
// remapped from the event's modified name lists on every write so edits
// never leave stale mappings behind.
func (l *EventLog) setTransactionEvent(tx *sql.Tx, eventID int64, ev *TransactionEvent, policy DataPolicy) error {
	filename := ""
	if policy != DataPolicyStrip {
		filename = transactionFilename(eventID)
	}
	if policy == DataPolicyWrite {
		payload, err := json.Marshal(ev)
		if err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to encode transaction event", err)
		}
		blob, err := encodeTransactionBlob(payload)
		if err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to frame transaction event", err)
		}
		if err := l.txCache.SaveAndCache(filepath.Join(transactionDataPath(l.sessionPath), filename), blob); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to write transaction data", err)
		}
	}
	if _, err := l.use(tx, l.stmts.setTransactionEvent).Exec(eventID, filename); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to store transaction event", err)
	}

	if _, err := l.use(tx, l.stmts.unmapPackagesForTx).Exec(eventID); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to clear package mappings", err)
	}
	for _, name := range ev.ModifiedPackages {
		nameID, err := l.ensurePackageNameID(tx, name)
		if err != nil {
			return err
		}
		if _, err := l.use(tx, l.stmts.mapPackageToTx).Exec(nameID, eventID); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to map modified package", err)
		}
	}

	if _, err := l.use(tx, l.stmts.unmapObjectsForTx).Exec(eventID); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to clear object mappings", err)
	}
	for _, name := range ev.ModifiedObjects {
		nameID, err := l.ensureObjectNameID(tx, name)
		if err != nil {
			return err
		}
		if _, err := l.use(tx, l.stmts.mapObjectToTx).Exec(nameID, eventID); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to map modified object", err)
		}
	}
	return nil
}

// getTransactionEvent reads one transaction event. An event stored metadata
// only (or requested metadata only) comes back with empty payload and name
// lists; only the row's existence is asserted.
func (l *EventLog) getTransactionEvent(tx *sql.Tx, eventID int64, metadataOnly bool) (TransactionEvent, error) {
	var filename string
	err := l.use(tx, l.stmts.getTransactionEventForID).QueryRow(eventID).Scan(&filename)
	if errors.Is(err, sql.ErrNoRows) {
		return TransactionEvent{}, session.Errorf(session.CodeNotFound, "transaction event %d is not recorded", eventID)
	}
	if err != nil {
		return TransactionEvent{}, session.WrapStorage(session.CodeStorageIO, "failed to read transaction event", err)
	}
	if metadataOnly || filename == "" {
		return TransactionEvent{}, nil
	}

	blob, err := l.txCache.FindOrCache(filepath.Join(transactionDataPath(l.sessionPath), filename))
	if err != nil {
		return TransactionEvent{}, session.WrapStorage(session.CodeStorageIO, "failed to read transaction data", err)
	}
	payload, err := decodeTransactionBlob(blob)
	if err != nil {
		return TransactionEvent{}, err
	}
	var ev TransactionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return TransactionEvent{}, session.WrapStorage(session.CodeStorageCorrupt, "malformed transaction event payload", err)
	}
	return ev, nil
}

func (l *EventLog) nextPackageEventID(tx *sql.Tx) (int64, error) {
	var maxID int64
	if err := l.use(tx, l.stmts.getPackageMaxEventID).QueryRow().Scan(&maxID); err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read max package event id", err)
	}
	return maxID + 1, nil
}

func (l *EventLog) packageHeadRevision(tx *sql.Tx, packageNameID int64) (int64, error) {
	var rev int64
	if err := l.use(tx, l.stmts.getPackageHeadRevision).QueryRow(packageNameID).Scan(&rev); err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read package head revision", err)
	}
	return rev, nil
}

func (l *EventLog) setPackageEvent(tx *sql.Tx, eventID, revision int64, info *PackageInfo, data []byte, policy DataPolicy) error {
	nameID, err := l.ensurePackageNameID(tx, info.PackageName)
	if err != nil {
		return err
	}
	filename := ""
	if policy != DataPolicyStrip {
		filename = packageFilename(info.PackageName, revision)
	}
	if policy == DataPolicyWrite {
		blob, err := encodePackageBlob(info, data)
		if err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to frame package event", err)
		}
		if err := l.pkgCache.SaveAndCache(filepath.Join(packageDataPath(l.sessionPath), filename), blob); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to write package data", err)
		}
	}
	if _, err := l.use(tx, l.stmts.setPackageEvent).Exec(eventID, nameID, revision,
		int(info.UpdateType), info.TransactionEventIDAtSave, filename); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to store package event", err)
	}
	return nil
}

func (l *EventLog) getPackageEvent(tx *sql.Tx, eventID int64, metadataOnly bool) (PackageEvent, error) {
	var (
		nameID, revision, txAtSave int64
		updateType                 int
		filename                   string
	)
	err := l.use(tx, l.stmts.getPackageEventForID).QueryRow(eventID).
		Scan(&nameID, &revision, &updateType, &txAtSave, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		return PackageEvent{}, session.Errorf(session.CodeNotFound, "package event %d is not recorded", eventID)
	}
	if err != nil {
		return PackageEvent{}, session.WrapStorage(session.CodeStorageIO, "failed to read package event", err)
	}
	name, err := l.packageNameForID(tx, nameID)
	if err != nil {
		return PackageEvent{}, err
	}

	ev := PackageEvent{
		PackageRevision: revision,
		Info: PackageInfo{
			PackageName:              name,
			UpdateType:               PackageUpdateType(updateType),
			TransactionEventIDAtSave: txAtSave,
		},
	}
	if metadataOnly || filename == "" {
		return ev, nil
	}
	blob, err := l.pkgCache.FindOrCache(filepath.Join(packageDataPath(l.sessionPath), filename))
	if err != nil {
		return PackageEvent{}, session.WrapStorage(session.CodeStorageIO, "failed to read package data", err)
	}
	if err := decodePackageBlob(blob, nil, &ev.Data); err != nil {
		return PackageEvent{}, err
	}
	return ev, nil
}

// transactionFence returns the fence transaction event id for a package:
// the transaction id recorded when the package was last saved. Transactions
// at or below the fence are consumed by that save.
func (l *EventLog) transactionFence(tx *sql.Tx, packageNameID int64) (int64, error) {
	var fence int64
	err := l.use(tx, l.stmts.getPackageTxEventIDAtLastSave).QueryRow(packageNameID).Scan(&fence)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read package save fence", err)
	}
	return fence, nil
}

// GetTransactionMaxEventID returns the highest transaction event id, or 0
// when no transaction events exist.
func (l *EventLog) GetTransactionMaxEventID() (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return 0, err
	}
	var maxID int64
	if err := l.stmts.getTransactionMaxEventID.QueryRow().Scan(&maxID); err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read max transaction event id", err)
	}
	return maxID, nil
}

// IsLiveTransactionEvent reports whether a transaction event still affects
// current state: for every package it touched, its id must exceed that
// package's save fence. Equality means the save consumed it.
func (l *EventLog) IsLiveTransactionEvent(transactionEventID int64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return false, err
	}
	return l.isLiveTransactionEvent(nil, transactionEventID)
}

func (l *EventLog) isLiveTransactionEvent(tx *sql.Tx, transactionEventID int64) (bool, error) {
	rows, err := l.use(tx, l.stmts.getPackageNameIDsForTx).Query(transactionEventID)
	if err != nil {
		return false, session.WrapStorage(session.CodeStorageIO, "failed to read transaction packages", err)
	}
	var nameIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return false, session.WrapStorage(session.CodeStorageIO, "failed to scan transaction package", err)
		}
		nameIDs = append(nameIDs, id)
	}
	if err := rows.Close(); err != nil {
		return false, session.WrapStorage(session.CodeStorageIO, "failed to read transaction packages", err)
	}

	// Live means no touched package has saved at or past this transaction.
	// A transaction touching no packages has nothing to consume it.
	for _, nameID := range nameIDs {
		fence, err := l.transactionFence(tx, nameID)
		if err != nil {
			return false, err
		}
		if transactionEventID <= fence {
			return false, nil
		}
	}
	return true, nil
}

// EnumerateLiveTransactionEventIDsForPackage calls fn with each live
// transaction event id touching the named package, in ascending order.
func (l *EventLog) EnumerateLiveTransactionEventIDsForPackage(packageName string, fn func(int64) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	nameID, ok, err := l.getPackageNameID(nil, packageName)
	if err != nil || !ok {
		return err
	}
	fence, err := l.transactionFence(nil, nameID)
	if err != nil {
		return err
	}

	rows, err := l.stmts.getTxIDsInRangeForPackage.Query(nameID, fence+1)
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate live transactions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to scan transaction id", err)
		}
		if !fn(id) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate live transactions", err)
	}
	return nil
}

// PackageHasLiveTransactions reports whether any live transaction still
// touches the named package.
func (l *EventLog) PackageHasLiveTransactions(packageName string) (bool, error) {
	live := false
	err := l.EnumerateLiveTransactionEventIDsForPackage(packageName, func(int64) bool {
		live = true
		return false
	})
	return live, err
}

// EnumeratePackageNamesWithLiveTransactions calls fn with each package name
// that still has live transactions.
func (l *EventLog) EnumeratePackageNamesWithLiveTransactions(fn func(string) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	rows, err := l.stmts.getPackageNameIDsMaxTxID.Query()
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate packages with transactions", err)
	}
	type nameMax struct{ nameID, maxTx int64 }
	var pkgs []nameMax
	for rows.Next() {
		var nm nameMax
		if err := rows.Scan(&nm.nameID, &nm.maxTx); err != nil {
			rows.Close()
			return session.WrapStorage(session.CodeStorageIO, "failed to scan package row", err)
		}
		pkgs = append(pkgs, nm)
	}
	if err := rows.Close(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate packages with transactions", err)
	}

	for _, nm := range pkgs {
		fence, err := l.transactionFence(nil, nm.nameID)
		if err != nil {
			return err
		}
		if nm.maxTx <= fence {
			continue
		}
		name, err := l.packageNameForID(nil, nm.nameID)
		if err != nil {
			return err
		}
		if !fn(name) {
			break
		}
	}
	return nil
}

// GetPackageHeadRevision returns the newest revision recorded for a
// package name, or 0 when the package has no events.
func (l *EventLog) GetPackageHeadRevision(packageName string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return 0, err
	}
	nameID, ok, err := l.getPackageNameID(nil, packageName)
	if err != nil || !ok {
		return 0, err
	}
	return l.packageHeadRevision(nil, nameID)
}

// GetPackageDataForRevision returns the package info and data for one
// revision. Revision 0 selects the head revision.
func (l *EventLog) GetPackageDataForRevision(packageName string, revision int64) (PackageInfo, []byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return PackageInfo{}, nil, err
	}

	nameID, ok, err := l.getPackageNameID(nil, packageName)
	if err != nil {
		return PackageInfo{}, nil, err
	}
	if !ok {
		return PackageInfo{}, nil, session.Errorf(session.CodeNotFound, "package %q has no recorded events", packageName)
	}
	if revision == 0 {
		if revision, err = l.packageHeadRevision(nil, nameID); err != nil {
			return PackageInfo{}, nil, err
		}
	}

	var (
		eventID, txAtSave int64
		updateType        int
		filename          string
	)
	err = l.stmts.getPackageDataForRevision.QueryRow(nameID, revision).
		Scan(&eventID, &updateType, &txAtSave, &filename)
	if errors.Is(err, sql.ErrNoRows) {
		return PackageInfo{}, nil, session.Errorf(session.CodeNotFound, "package %q has no revision %d", packageName, revision)
	}
	if err != nil {
		return PackageInfo{}, nil, session.WrapStorage(session.CodeStorageIO, "failed to read package revision", err)
	}

	info := PackageInfo{
		PackageName:              packageName,
		UpdateType:               PackageUpdateType(updateType),
		TransactionEventIDAtSave: txAtSave,
	}
	if filename == "" {
		return info, nil, nil
	}
	blob, err := l.pkgCache.FindOrCache(filepath.Join(packageDataPath(l.sessionPath), filename))
	if err != nil {
		return PackageInfo{}, nil, session.WrapStorage(session.CodeStorageIO, "failed to read package data", err)
	}
	var data []byte
	if err := decodePackageBlob(blob, nil, &data); err != nil {
		return PackageInfo{}, nil, err
	}
	return info, data, nil
}

// IsHeadRevisionPackageEvent reports whether a package event records the
// newest revision of its package.
func (l *EventLog) IsHeadRevisionPackageEvent(packageEventID int64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return false, err
	}

	var nameID, revision int64
	err := l.stmts.getPackageNameIDAndRevisionForID.QueryRow(packageEventID).Scan(&nameID, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return false, session.Errorf(session.CodeNotFound, "package event %d is not recorded", packageEventID)
	}
	if err != nil {
		return false, session.WrapStorage(session.CodeStorageIO, "failed to read package event", err)
	}
	head, err := l.packageHeadRevision(nil, nameID)
	if err != nil {
		return false, err
	}
	return revision == head, nil
}

// EnumeratePackageNamesWithHeadRevision calls fn with each package name and
// its head revision. When ignorePersisted is set, packages whose head state
// was already exported by a persist event covering the save fence are
// skipped.
func (l *EventLog) EnumeratePackageNamesWithHeadRevision(ignorePersisted bool, fn func(packageName string, revision int64) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	rows, err := l.stmts.getMaxPackageEventAndTxAtSavePerName.Query()
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate package heads", err)
	}
	type head struct{ nameID, eventID, txAtSave int64 }
	var heads []head
	for rows.Next() {
		var h head
		if err := rows.Scan(&h.nameID, &h.eventID, &h.txAtSave); err != nil {
			rows.Close()
			return session.WrapStorage(session.CodeStorageIO, "failed to scan package head", err)
		}
		heads = append(heads, h)
	}
	if err := rows.Close(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate package heads", err)
	}

	for _, h := range heads {
		if ignorePersisted {
			var persistID, txAtPersist int64
			err := l.stmts.getPersistEvent.QueryRow(h.eventID).Scan(&persistID, &txAtPersist)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return session.WrapStorage(session.CodeStorageIO, "failed to read persist event", err)
			}
			if err == nil && txAtPersist >= h.txAtSave {
				continue
			}
		}
		name, err := l.packageNameForID(nil, h.nameID)
		if err != nil {
			return err
		}
		revision, err := l.packageHeadRevision(nil, h.nameID)
		if err != nil {
			return err
		}
		if !fn(name, revision) {
			break
		}
	}
	return nil
}

// AddPersistEventForHeadRevision records that the head revision of a
// package was exported, as of the current max transaction event id.
func (l *EventLog) AddPersistEventForHeadRevision(packageName string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.beginTx()
	if err != nil {
		return 0, err
	}
	var persistEventID int64
	err = func() error {
		nameID, ok, err := l.getPackageNameID(tx, packageName)
		if err != nil {
			return err
		}
		if !ok {
			return session.Errorf(session.CodeNotFound, "package %q has no recorded events", packageName)
		}
		var headEventID int64
		err = l.use(tx, l.stmts.getPackageHeadEventID).QueryRow(nameID).Scan(&headEventID)
		if errors.Is(err, sql.ErrNoRows) {
			return session.Errorf(session.CodeNotFound, "package %q has no recorded events", packageName)
		}
		if err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to read package head", err)
		}
		maxTxID, err := l.nextTransactionEventID(tx)
		if err != nil {
			return err
		}
		maxTxID--
		res, err := l.use(tx, l.stmts.addPersistEvent).Exec(headEventID, maxTxID)
		if err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to store persist event", err)
		}
		if persistEventID, err = res.LastInsertId(); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to read persist event id", err)
		}
		logging.EventLogDebug("Persisted head of %q (persist event %d at transaction %d)", packageName, persistEventID, maxTxID)
		return nil
	}()
	if err := l.endTx(tx, err); err != nil {
		return 0, err
	}
	return persistEventID, nil
}

// AddDummyPackageEvent records a placeholder package event marking the
// current transaction fence for a package. A head event that is already a
// dummy with no activity referencing it is rewritten in place instead of
// growing the revision chain.
func (l *EventLog) AddDummyPackageEvent(packageName string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.beginTx()
	if err != nil {
		return 0, err
	}
	var eventID int64
	err = func() error {
		nameID, err := l.ensurePackageNameID(tx, packageName)
		if err != nil {
			return err
		}
		maxTxID, err := l.nextTransactionEventID(tx)
		if err != nil {
			return err
		}
		maxTxID--

		info := PackageInfo{
			PackageName:              packageName,
			UpdateType:               PackageUpdateDummy,
			TransactionEventIDAtSave: maxTxID,
		}

		headRev, err := l.packageHeadRevision(tx, nameID)
		if err != nil {
			return err
		}
		if headRev > 0 {
			var headEventID int64
			if err := l.use(tx, l.stmts.getPackageHeadEventID).QueryRow(nameID).Scan(&headEventID); err != nil {
				return session.WrapStorage(session.CodeStorageIO, "failed to read package head", err)
			}
			headEvent, err := l.getPackageEvent(tx, headEventID, true)
			if err != nil {
				return err
			}
			if headEvent.Info.UpdateType == PackageUpdateDummy {
				referenced, err := l.eventHasActivity(tx, EventTypePackage, headEventID)
				if err != nil {
					return err
				}
				if !referenced {
					// Squash: refresh the fence on the existing head dummy.
					eventID = headEventID
					return l.setPackageEvent(tx, headEventID, headRev, &info, nil, DataPolicyWrite)
				}
			}
		}

		if eventID, err = l.nextPackageEventID(tx); err != nil {
			return err
		}
		return l.setPackageEvent(tx, eventID, headRev+1, &info, nil, DataPolicyWrite)
	}()
	if err := l.endTx(tx, err); err != nil {
		return 0, err
	}
	logging.EventLogDebug("Dummy package event %d for %q", eventID, packageName)
	return eventID, nil
}

// EnumeratePackageNames calls fn with each package name that has at least
// one package event.
func (l *EventLog) EnumeratePackageNames(fn func(string) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}

	rows, err := l.stmts.getUniquePackageNameIDs.Query()
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate package names", err)
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
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate package names", err)
	}

	for _, id := range nameIDs {
		name, err := l.packageNameForID(nil, id)
		if err != nil {
			return err
		}
		if !fn(name) {
			break
		}
	}
	return nil
}
