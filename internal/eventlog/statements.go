package eventlog

import (
	"database/sql"
	"fmt"
)

// statements holds the named prepared statements the log runs. They are
// prepared once at Open and finalized at Close, mirroring the public
// AddX/SetX/GetXForId/EnumerateX contract per table.
type statements struct {
	// object_names
	addObjectName   *sql.Stmt
	getObjectName   *sql.Stmt
	getObjectNameID *sql.Stmt

	// package_names
	addPackageName   *sql.Stmt
	getPackageName   *sql.Stmt
	getPackageNameID *sql.Stmt

	// endpoints
	setEndpoint       *sql.Stmt
	getEndpointForID  *sql.Stmt
	getAllEndpoints   *sql.Stmt
	getAllEndpointIDs *sql.Stmt

	// connection_events
	addConnectionEvent      *sql.Stmt
	setConnectionEvent      *sql.Stmt
	getConnectionEventForID *sql.Stmt

	// lock_events
	addLockEvent      *sql.Stmt
	setLockEvent      *sql.Stmt
	getLockEventForID *sql.Stmt

	// transaction_events
	setTransactionEvent      *sql.Stmt
	getTransactionEventForID *sql.Stmt
	getTransactionMaxEventID *sql.Stmt

	// package_events
	setPackageEvent                      *sql.Stmt
	getPackageEventForID                 *sql.Stmt
	getPackageNameIDAndRevisionForID     *sql.Stmt
	getUniquePackageNameIDs              *sql.Stmt
	getPackageMaxEventID                 *sql.Stmt
	getPackageDataForRevision            *sql.Stmt
	getPackageHeadEventID                *sql.Stmt
	getMaxPackageEventAndTxAtSavePerName *sql.Stmt
	getPackageHeadRevision               *sql.Stmt
	getPackageTxEventIDAtLastSave        *sql.Stmt

	// persist_events
	addPersistEvent *sql.Stmt
	getPersistEvent *sql.Stmt

	// activities
	addActivity                   *sql.Stmt
	setActivity                   *sql.Stmt
	getActivityForID              *sql.Stmt
	getActivityForEvent           *sql.Stmt
	getActivityEventTypeForID     *sql.Stmt
	getActivitiesInRange          *sql.Stmt
	getActivityIDsAndTypesInRange *sql.Stmt
	getActivityMaxID              *sql.Stmt

	// ignored_activities
	ignoreActivity    *sql.Stmt
	perceiveActivity  *sql.Stmt
	isActivityIgnored *sql.Stmt

	// resource_locks
	mapObjectToLock     *sql.Stmt
	unmapObjectsForLock *sql.Stmt
	getObjectIDsForLock *sql.Stmt
	getLockIDsForObject *sql.Stmt

	// package_transactions
	mapPackageToTx            *sql.Stmt
	unmapPackagesForTx        *sql.Stmt
	getTxIDsForPackageNameID  *sql.Stmt
	getTxIDsInRangeForPackage *sql.Stmt
	getPackageNameIDsMaxTxID  *sql.Stmt
	getPackageNameIDsWithTxs  *sql.Stmt
	getPackageNameIDsForTx    *sql.Stmt

	// object_transactions
	mapObjectToTx           *sql.Stmt
	unmapObjectsForTx       *sql.Stmt
	getTxIDsForObjectNameID *sql.Stmt

	all []*sql.Stmt
}

func prepareStatements(db *sql.DB) (*statements, error) {
	s := &statements{}
	specs := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.addObjectName, `INSERT INTO object_names(object_path_name) VALUES(?1)`},
		{&s.getObjectName, `SELECT object_path_name FROM object_names WHERE object_name_id = ?1`},
		{&s.getObjectNameID, `SELECT object_name_id FROM object_names WHERE object_path_name = ?1`},

		{&s.addPackageName, `INSERT INTO package_names(package_name) VALUES(?1)`},
		{&s.getPackageName, `SELECT package_name FROM package_names WHERE package_name_id = ?1`},
		{&s.getPackageNameID, `SELECT package_name_id FROM package_names WHERE package_name = ?1`},

		{&s.setEndpoint, `INSERT INTO endpoints(endpoint_id, user_id, client_info) VALUES(?1, ?2, ?3)
			ON CONFLICT(endpoint_id) DO UPDATE SET user_id = excluded.user_id, client_info = excluded.client_info`},
		{&s.getEndpointForID, `SELECT user_id, client_info FROM endpoints WHERE endpoint_id = ?1`},
		{&s.getAllEndpoints, `SELECT endpoint_id, user_id, client_info FROM endpoints ORDER BY endpoint_id`},
		{&s.getAllEndpointIDs, `SELECT endpoint_id FROM endpoints ORDER BY endpoint_id`},

		{&s.addConnectionEvent, `INSERT INTO connection_events(connection_event_type) VALUES(?1)`},
		{&s.setConnectionEvent, `INSERT OR REPLACE INTO connection_events(connection_event_id, connection_event_type) VALUES(?1, ?2)`},
		{&s.getConnectionEventForID, `SELECT connection_event_type FROM connection_events WHERE connection_event_id = ?1`},

		{&s.addLockEvent, `INSERT INTO lock_events(lock_event_type) VALUES(?1)`},
		{&s.setLockEvent, `INSERT OR REPLACE INTO lock_events(lock_event_id, lock_event_type) VALUES(?1, ?2)`},
		{&s.getLockEventForID, `SELECT lock_event_type FROM lock_events WHERE lock_event_id = ?1`},

		{&s.setTransactionEvent, `INSERT OR REPLACE INTO transaction_events(transaction_event_id, data_filename) VALUES(?1, ?2)`},
		{&s.getTransactionEventForID, `SELECT data_filename FROM transaction_events WHERE transaction_event_id = ?1`},
		{&s.getTransactionMaxEventID, `SELECT COALESCE(MAX(transaction_event_id), 0) FROM transaction_events`},

		{&s.setPackageEvent, `INSERT OR REPLACE INTO package_events(package_event_id, package_name_id, package_revision,
			package_update_type, transaction_event_id_at_save, data_filename) VALUES(?1, ?2, ?3, ?4, ?5, ?6)`},
		{&s.getPackageEventForID, `SELECT package_name_id, package_revision, package_update_type,
			transaction_event_id_at_save, data_filename FROM package_events WHERE package_event_id = ?1`},
		{&s.getPackageNameIDAndRevisionForID, `SELECT package_name_id, package_revision FROM package_events WHERE package_event_id = ?1`},
		{&s.getUniquePackageNameIDs, `SELECT DISTINCT package_name_id FROM package_events ORDER BY package_name_id`},
		{&s.getPackageMaxEventID, `SELECT COALESCE(MAX(package_event_id), 0) FROM package_events`},
		{&s.getPackageDataForRevision, `SELECT package_event_id, package_update_type, transaction_event_id_at_save, data_filename
			FROM package_events WHERE package_name_id = ?1 AND package_revision = ?2`},
		{&s.getPackageHeadEventID, `SELECT package_event_id FROM package_events WHERE package_name_id = ?1
			ORDER BY package_revision DESC LIMIT 1`},
		{&s.getMaxPackageEventAndTxAtSavePerName, `SELECT package_name_id, MAX(package_event_id), transaction_event_id_at_save
			FROM package_events GROUP BY package_name_id`},
		{&s.getPackageHeadRevision, `SELECT COALESCE(MAX(package_revision), 0) FROM package_events WHERE package_name_id = ?1`},
		{&s.getPackageTxEventIDAtLastSave, `SELECT transaction_event_id_at_save FROM package_events
			WHERE package_name_id = ?1 ORDER BY package_revision DESC LIMIT 1`},

		{&s.addPersistEvent, `INSERT INTO persist_events(package_event_id, transaction_event_id_at_persist) VALUES(?1, ?2)`},
		{&s.getPersistEvent, `SELECT persist_event_id, transaction_event_id_at_persist FROM persist_events
			WHERE package_event_id = ?1 ORDER BY persist_event_id DESC LIMIT 1`},

		{&s.addActivity, `INSERT INTO activities(endpoint_id, event_time, event_type, event_id, event_summary_type, event_summary)
			VALUES(?1, ?2, ?3, ?4, ?5, ?6)`},
		{&s.setActivity, `INSERT OR REPLACE INTO activities(activity_id, endpoint_id, event_time, event_type, event_id,
			event_summary_type, event_summary) VALUES(?1, ?2, ?3, ?4, ?5, ?6, ?7)`},
		{&s.getActivityForID, `SELECT endpoint_id, event_time, event_type, event_id, event_summary_type, event_summary
			FROM activities WHERE activity_id = ?1`},
		{&s.getActivityForEvent, `SELECT activity_id, endpoint_id, event_time, event_summary_type, event_summary
			FROM activities WHERE event_id = ?1 AND event_type = ?2 ORDER BY activity_id LIMIT 1`},
		{&s.getActivityEventTypeForID, `SELECT event_type FROM activities WHERE activity_id = ?1`},
		{&s.getActivitiesInRange, `SELECT activity_id, endpoint_id, event_time, event_type, event_id, event_summary_type, event_summary
			FROM activities WHERE activity_id >= ?1 ORDER BY activity_id LIMIT ?2`},
		{&s.getActivityIDsAndTypesInRange, `SELECT activity_id, event_type FROM activities
			WHERE activity_id >= ?1 ORDER BY activity_id LIMIT ?2`},
		{&s.getActivityMaxID, `SELECT COALESCE(MAX(activity_id), 0) FROM activities`},

		{&s.ignoreActivity, `INSERT OR IGNORE INTO ignored_activities(activity_id) VALUES(?1)`},
		{&s.perceiveActivity, `DELETE FROM ignored_activities WHERE activity_id = ?1`},
		{&s.isActivityIgnored, `SELECT 1 FROM ignored_activities WHERE activity_id = ?1`},

		{&s.mapObjectToLock, `INSERT INTO resource_locks(object_name_id, lock_event_id) VALUES(?1, ?2)`},
		{&s.unmapObjectsForLock, `DELETE FROM resource_locks WHERE lock_event_id = ?1`},
		{&s.getObjectIDsForLock, `SELECT object_name_id FROM resource_locks WHERE lock_event_id = ?1 ORDER BY rowid`},
		{&s.getLockIDsForObject, `SELECT lock_event_id FROM resource_locks WHERE object_name_id = ?1 ORDER BY lock_event_id`},

		{&s.mapPackageToTx, `INSERT INTO package_transactions(package_name_id, transaction_event_id) VALUES(?1, ?2)`},
		{&s.unmapPackagesForTx, `DELETE FROM package_transactions WHERE transaction_event_id = ?1`},
		{&s.getTxIDsForPackageNameID, `SELECT transaction_event_id FROM package_transactions
			WHERE package_name_id = ?1 ORDER BY transaction_event_id`},
		{&s.getTxIDsInRangeForPackage, `SELECT transaction_event_id FROM package_transactions
			WHERE package_name_id = ?1 AND transaction_event_id >= ?2 ORDER BY transaction_event_id`},
		{&s.getPackageNameIDsMaxTxID, `SELECT package_name_id, MAX(transaction_event_id) FROM package_transactions
			GROUP BY package_name_id`},
		{&s.getPackageNameIDsWithTxs, `SELECT DISTINCT package_name_id FROM package_transactions ORDER BY package_name_id`},
		{&s.getPackageNameIDsForTx, `SELECT package_name_id FROM package_transactions WHERE transaction_event_id = ?1 ORDER BY package_name_id`},

		{&s.mapObjectToTx, `INSERT INTO object_transactions(object_name_id, transaction_event_id) VALUES(?1, ?2)`},
		{&s.unmapObjectsForTx, `DELETE FROM object_transactions WHERE transaction_event_id = ?1`},
		{&s.getTxIDsForObjectNameID, `SELECT transaction_event_id FROM object_transactions
			WHERE object_name_id = ?1 ORDER BY transaction_event_id`},
	}

	for _, spec := range specs {
		stmt, err := db.Prepare(spec.query)
		if err != nil {
			s.closeAll()
			return nil, fmt.Errorf("failed to prepare %q: %w", spec.query, err)
		}
		*spec.dst = stmt
		s.all = append(s.all, stmt)
	}
	return s, nil
}

func (s *statements) closeAll() {
	for _, stmt := range s.all {
		if stmt != nil {
			stmt.Close()
		}
	}
	s.all = nil
}
