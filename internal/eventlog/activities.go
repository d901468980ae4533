package eventlog

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"collabsync/internal/logging"
	"collabsync/internal/session"
)

// Activity operations. Every Add and Set runs in exactly one database
// transaction covering the typed event row, the activity row, and the
// ignored state, so a crash never leaves a half-recorded activity.

func (l *EventLog) addActivityRow(tx *sql.Tx, a *Activity) error {
	res, err := l.use(tx, l.stmts.addActivity).Exec(a.EndpointID.String(), a.EventTime,
		int(a.EventType), a.EventID, a.SummaryType, []byte(a.Summary))
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to store activity", err)
	}
	if a.ActivityID, err = res.LastInsertId(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to read activity id", err)
	}
	return l.setIgnoredState(tx, a.ActivityID, a.Ignored)
}

func (l *EventLog) setActivityRow(tx *sql.Tx, a *Activity) error {
	if a.ActivityID <= 0 {
		return session.Errorf(session.CodeInvalidArgument, "activity id must be set")
	}
	if _, err := l.use(tx, l.stmts.setActivity).Exec(a.ActivityID, a.EndpointID.String(), a.EventTime,
		int(a.EventType), a.EventID, a.SummaryType, []byte(a.Summary)); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to store activity", err)
	}
	return l.setIgnoredState(tx, a.ActivityID, a.Ignored)
}

func (l *EventLog) setIgnoredState(tx *sql.Tx, activityID int64, ignored bool) error {
	stmt := l.stmts.perceiveActivity
	if ignored {
		stmt = l.stmts.ignoreActivity
	}
	if _, err := l.use(tx, stmt).Exec(activityID); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to update ignored state", err)
	}
	return nil
}

func (l *EventLog) isIgnored(tx *sql.Tx, activityID int64) (bool, error) {
	var one int
	err := l.use(tx, l.stmts.isActivityIgnored).QueryRow(activityID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, session.WrapStorage(session.CodeStorageIO, "failed to read ignored state", err)
	}
	return true, nil
}

func (l *EventLog) eventHasActivity(tx *sql.Tx, eventType EventType, eventID int64) (bool, error) {
	var a Activity
	err := l.scanActivityForEvent(tx, eventType, eventID, &a)
	if session.IsCode(err, session.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *EventLog) scanActivityForID(tx *sql.Tx, activityID int64, a *Activity) error {
	var (
		endpointStr string
		eventType   int
		summary     []byte
	)
	err := l.use(tx, l.stmts.getActivityForID).QueryRow(activityID).
		Scan(&endpointStr, &a.EventTime, &eventType, &a.EventID, &a.SummaryType, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Errorf(session.CodeNotFound, "activity %d is not recorded", activityID)
	}
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to read activity", err)
	}
	if a.EndpointID, err = uuid.Parse(endpointStr); err != nil {
		return session.WrapStorage(session.CodeStorageCorrupt, "malformed activity endpoint id", err)
	}
	a.ActivityID = activityID
	a.EventType = EventType(eventType)
	a.Summary = summary
	if a.Ignored, err = l.isIgnored(tx, activityID); err != nil {
		return err
	}
	return nil
}

func (l *EventLog) scanActivityForEvent(tx *sql.Tx, eventType EventType, eventID int64, a *Activity) error {
	var (
		endpointStr string
		summary     []byte
	)
	err := l.use(tx, l.stmts.getActivityForEvent).QueryRow(eventID, int(eventType)).
		Scan(&a.ActivityID, &endpointStr, &a.EventTime, &a.SummaryType, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Errorf(session.CodeNotFound, "no activity records %s event %d", eventType, eventID)
	}
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to read activity", err)
	}
	if a.EndpointID, err = uuid.Parse(endpointStr); err != nil {
		return session.WrapStorage(session.CodeStorageCorrupt, "malformed activity endpoint id", err)
	}
	a.EventType = eventType
	a.EventID = eventID
	a.Summary = summary
	if a.Ignored, err = l.isIgnored(tx, a.ActivityID); err != nil {
		return err
	}
	return nil
}

// mutate wraps one activity mutation in the log's single transaction scope.
func (l *EventLog) mutate(op func(tx *sql.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, err := l.beginTx()
	if err != nil {
		return err
	}
	return l.endTx(tx, op(tx))
}

// AddConnectionActivity appends a connection activity. The allocated
// activity and event ids are written back into a.
func (l *EventLog) AddConnectionActivity(a *ConnectionActivity) error {
	return l.mutate(func(tx *sql.Tx) error {
		eventID, err := l.addConnectionEvent(tx, a.EventData)
		if err != nil {
			return err
		}
		a.EventType = EventTypeConnection
		a.EventID = eventID
		if err := l.addActivityRow(tx, &a.Activity); err != nil {
			return err
		}
		logging.EventLogDebug("Activity %d: connection event %d", a.ActivityID, a.EventID)
		return nil
	})
}

// SetConnectionActivity stores a connection activity under explicit ids.
func (l *EventLog) SetConnectionActivity(a *ConnectionActivity) error {
	return l.mutate(func(tx *sql.Tx) error {
		if err := l.setConnectionEvent(tx, a.EventID, a.EventData); err != nil {
			return err
		}
		a.EventType = EventTypeConnection
		return l.setActivityRow(tx, &a.Activity)
	})
}

// AddLockActivity appends a lock activity. The allocated activity and
// event ids are written back into a.
func (l *EventLog) AddLockActivity(a *LockActivity) error {
	return l.mutate(func(tx *sql.Tx) error {
		eventID, err := l.addLockEvent(tx, a.EventData)
		if err != nil {
			return err
		}
		a.EventType = EventTypeLock
		a.EventID = eventID
		if err := l.addActivityRow(tx, &a.Activity); err != nil {
			return err
		}
		logging.EventLogDebug("Activity %d: lock event %d (%d resources)", a.ActivityID, a.EventID, len(a.EventData.ResourceNames))
		return nil
	})
}

// SetLockActivity stores a lock activity under explicit ids.
func (l *EventLog) SetLockActivity(a *LockActivity) error {
	return l.mutate(func(tx *sql.Tx) error {
		if err := l.setLockEvent(tx, a.EventID, a.EventData); err != nil {
			return err
		}
		a.EventType = EventTypeLock
		return l.setActivityRow(tx, &a.Activity)
	})
}

// AddTransactionActivity appends a transaction activity. The transaction
// event id is allocated as max+1 and written back into a along with the
// activity id.
func (l *EventLog) AddTransactionActivity(a *TransactionActivity) error {
	return l.mutate(func(tx *sql.Tx) error {
		eventID, err := l.nextTransactionEventID(tx)
		if err != nil {
			return err
		}
		if err := l.setTransactionEvent(tx, eventID, &a.EventData, DataPolicyWrite); err != nil {
			return err
		}
		a.EventType = EventTypeTransaction
		a.EventID = eventID
		if err := l.addActivityRow(tx, &a.Activity); err != nil {
			return err
		}
		logging.EventLogDebug("Activity %d: transaction event %d (%d packages)", a.ActivityID, a.EventID, len(a.EventData.ModifiedPackages))
		return nil
	})
}

// SetTransactionActivity stores a transaction activity under explicit ids.
// policy controls whether the payload blob is written, stripped, or
// delivered out of band.
func (l *EventLog) SetTransactionActivity(a *TransactionActivity, policy DataPolicy) error {
	return l.mutate(func(tx *sql.Tx) error {
		if err := l.setTransactionEvent(tx, a.EventID, &a.EventData, policy); err != nil {
			return err
		}
		a.EventType = EventTypeTransaction
		return l.setActivityRow(tx, &a.Activity)
	})
}

// AddPackageActivity appends a package activity. The package event id is
// allocated as max+1 and the revision as head+1; both are written back
// into a along with the activity id.
func (l *EventLog) AddPackageActivity(a *PackageActivity) error {
	return l.mutate(func(tx *sql.Tx) error {
		eventID, err := l.nextPackageEventID(tx)
		if err != nil {
			return err
		}
		nameID, err := l.ensurePackageNameID(tx, a.EventData.Info.PackageName)
		if err != nil {
			return err
		}
		headRev, err := l.packageHeadRevision(tx, nameID)
		if err != nil {
			return err
		}
		a.EventData.PackageRevision = headRev + 1
		if err := l.setPackageEvent(tx, eventID, a.EventData.PackageRevision, &a.EventData.Info, a.EventData.Data, DataPolicyWrite); err != nil {
			return err
		}
		a.EventType = EventTypePackage
		a.EventID = eventID
		if err := l.addActivityRow(tx, &a.Activity); err != nil {
			return err
		}
		logging.EventLogDebug("Activity %d: package event %d (%q revision %d)",
			a.ActivityID, a.EventID, a.EventData.Info.PackageName, a.EventData.PackageRevision)
		return nil
	})
}

// SetPackageActivity stores a package activity under explicit ids and
// revision. policy controls whether the data blob is written, stripped, or
// delivered out of band.
func (l *EventLog) SetPackageActivity(a *PackageActivity, policy DataPolicy) error {
	return l.mutate(func(tx *sql.Tx) error {
		if a.EventData.PackageRevision <= 0 {
			return session.Errorf(session.CodeInvalidArgument, "package revision must be set")
		}
		if err := l.setPackageEvent(tx, a.EventID, a.EventData.PackageRevision, &a.EventData.Info, a.EventData.Data, policy); err != nil {
			return err
		}
		a.EventType = EventTypePackage
		return l.setActivityRow(tx, &a.Activity)
	})
}

// GetActivity returns one activity row without its typed event data.
func (l *EventLog) GetActivity(activityID int64) (Activity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return Activity{}, err
	}
	var a Activity
	if err := l.scanActivityForID(nil, activityID, &a); err != nil {
		return Activity{}, err
	}
	return a, nil
}

// GetActivityEventType returns the event kind an activity records, without
// loading the rest of the row's columns.
func (l *EventLog) GetActivityEventType(activityID int64) (EventType, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return 0, err
	}
	var eventType int
	err := l.stmts.getActivityEventTypeForID.QueryRow(activityID).Scan(&eventType)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, session.Errorf(session.CodeNotFound, "activity %d is not recorded", activityID)
	}
	if err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read activity event type", err)
	}
	return EventType(eventType), nil
}

// GetActivityForEvent returns the activity that records the given typed
// event, if one exists.
func (l *EventLog) GetActivityForEvent(eventType EventType, eventID int64) (Activity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return Activity{}, err
	}
	var a Activity
	if err := l.scanActivityForEvent(nil, eventType, eventID, &a); err != nil {
		return Activity{}, err
	}
	return a, nil
}

func (l *EventLog) requireEventType(a *Activity, want EventType) error {
	if a.EventType != want {
		return session.Errorf(session.CodeInvalidArgument, "activity %d records a %s event, not %s", a.ActivityID, a.EventType, want)
	}
	return nil
}

// GetConnectionActivity returns one activity with its connection event.
func (l *EventLog) GetConnectionActivity(activityID int64) (ConnectionActivity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return ConnectionActivity{}, err
	}
	var a ConnectionActivity
	if err := l.scanActivityForID(nil, activityID, &a.Activity); err != nil {
		return ConnectionActivity{}, err
	}
	if err := l.requireEventType(&a.Activity, EventTypeConnection); err != nil {
		return ConnectionActivity{}, err
	}
	ev, err := l.getConnectionEvent(nil, a.EventID)
	if err != nil {
		return ConnectionActivity{}, err
	}
	a.EventData = ev
	return a, nil
}

// GetLockActivity returns one activity with its lock event.
func (l *EventLog) GetLockActivity(activityID int64) (LockActivity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return LockActivity{}, err
	}
	var a LockActivity
	if err := l.scanActivityForID(nil, activityID, &a.Activity); err != nil {
		return LockActivity{}, err
	}
	if err := l.requireEventType(&a.Activity, EventTypeLock); err != nil {
		return LockActivity{}, err
	}
	ev, err := l.getLockEvent(nil, a.EventID)
	if err != nil {
		return LockActivity{}, err
	}
	a.EventData = ev
	return a, nil
}

// GetTransactionActivity returns one activity with its transaction event.
// metadataOnly skips the payload blob.
func (l *EventLog) GetTransactionActivity(activityID int64, metadataOnly bool) (TransactionActivity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return TransactionActivity{}, err
	}
	var a TransactionActivity
	if err := l.scanActivityForID(nil, activityID, &a.Activity); err != nil {
		return TransactionActivity{}, err
	}
	if err := l.requireEventType(&a.Activity, EventTypeTransaction); err != nil {
		return TransactionActivity{}, err
	}
	ev, err := l.getTransactionEvent(nil, a.EventID, metadataOnly)
	if err != nil {
		return TransactionActivity{}, err
	}
	a.EventData = ev
	return a, nil
}

// GetPackageActivity returns one activity with its package event.
// metadataOnly skips the data blob.
func (l *EventLog) GetPackageActivity(activityID int64, metadataOnly bool) (PackageActivity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return PackageActivity{}, err
	}
	var a PackageActivity
	if err := l.scanActivityForID(nil, activityID, &a.Activity); err != nil {
		return PackageActivity{}, err
	}
	if err := l.requireEventType(&a.Activity, EventTypePackage); err != nil {
		return PackageActivity{}, err
	}
	ev, err := l.getPackageEvent(nil, a.EventID, metadataOnly)
	if err != nil {
		return PackageActivity{}, err
	}
	a.EventData = ev
	return a, nil
}

// GetActivityMaxID returns the highest activity id, or 0 for an empty log.
func (l *EventLog) GetActivityMaxID() (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return 0, err
	}
	var maxID int64
	if err := l.stmts.getActivityMaxID.QueryRow().Scan(&maxID); err != nil {
		return 0, session.WrapStorage(session.CodeStorageIO, "failed to read max activity id", err)
	}
	return maxID, nil
}

// EnumerateActivitiesInRange calls fn for up to maxNum activities starting
// at firstActivityID, in ascending activity id order. Enumeration stops
// early when fn returns false.
func (l *EventLog) EnumerateActivitiesInRange(firstActivityID, maxNum int64, fn func(Activity) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}
	if firstActivityID < 1 || maxNum < 0 {
		return session.Errorf(session.CodeInvalidArgument, "invalid activity range [%d, +%d)", firstActivityID, maxNum)
	}

	rows, err := l.stmts.getActivitiesInRange.Query(firstActivityID, maxNum)
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate activities", err)
	}
	var activities []Activity
	for rows.Next() {
		var (
			a           Activity
			endpointStr string
			eventType   int
			summary     []byte
		)
		if err := rows.Scan(&a.ActivityID, &endpointStr, &a.EventTime, &eventType, &a.EventID, &a.SummaryType, &summary); err != nil {
			rows.Close()
			return session.WrapStorage(session.CodeStorageIO, "failed to scan activity row", err)
		}
		if a.EndpointID, err = uuid.Parse(endpointStr); err != nil {
			rows.Close()
			return session.WrapStorage(session.CodeStorageCorrupt, "malformed activity endpoint id", err)
		}
		a.EventType = EventType(eventType)
		a.Summary = summary
		activities = append(activities, a)
	}
	if err := rows.Close(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate activities", err)
	}

	for i := range activities {
		if activities[i].Ignored, err = l.isIgnored(nil, activities[i].ActivityID); err != nil {
			return err
		}
		if !fn(activities[i]) {
			break
		}
	}
	return nil
}

// EnumerateActivityIDsAndEventTypesInRange calls fn with the id and event
// type of up to maxNum activities starting at firstActivityID.
func (l *EventLog) EnumerateActivityIDsAndEventTypesInRange(firstActivityID, maxNum int64, fn func(int64, EventType) bool) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return err
	}
	if firstActivityID < 1 || maxNum < 0 {
		return session.Errorf(session.CodeInvalidArgument, "invalid activity range [%d, +%d)", firstActivityID, maxNum)
	}

	rows, err := l.stmts.getActivityIDsAndTypesInRange.Query(firstActivityID, maxNum)
	if err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate activities", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id        int64
			eventType int
		)
		if err := rows.Scan(&id, &eventType); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to scan activity row", err)
		}
		if !fn(id, EventType(eventType)) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to enumerate activities", err)
	}
	return nil
}

// SetActivityIgnoredState marks or unmarks one activity as ignored for
// replay purposes.
func (l *EventLog) SetActivityIgnoredState(activityID int64, ignored bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.requireOpen(); err != nil {
		return err
	}
	return l.setIgnoredState(nil, activityID, ignored)
}

// IsActivityIgnored reports whether an activity is marked ignored.
func (l *EventLog) IsActivityIgnored(activityID int64) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.requireOpen(); err != nil {
		return false, err
	}
	return l.isIgnored(nil, activityID)
}
