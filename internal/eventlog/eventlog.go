// Package eventlog implements the durable, queryable record of all
// activities for one collaboration session: a SQLite store for the
// normalized event tables plus framed blob files for transaction and
// package payloads.
package eventlog

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"collabsync/internal/blobcache"
	"collabsync/internal/logging"
	"collabsync/internal/session"
)

// Schema version stored in PRAGMA user_version. Databases newer than this
// fail to open rather than being misread.
const schemaVersion = 1

// CacheOptions bounds the in-memory blob caches.
type CacheOptions struct {
	TransactionMinFiles int
	TransactionMaxBytes uint64
	PackageMinFiles     int
	PackageMaxBytes     uint64
}

// DefaultCacheOptions mirrors the production cache budgets.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		TransactionMinFiles: 10,
		TransactionMaxBytes: 50 * 1024 * 1024,
		PackageMinFiles:     10,
		PackageMaxBytes:     200 * 1024 * 1024,
	}
}

// EventLog owns the backing store of one session. A log is Closed → Open →
// Closed; all mutations require Open. The underlying database runs in
// exclusive locking mode, so one EventLog instance is the only reader and
// writer of its files.
type EventLog struct {
	mu          sync.RWMutex
	db          *sql.DB
	stmts       *statements
	sessionPath string
	inTx        bool

	txCache  *blobcache.Cache
	pkgCache *blobcache.Cache
}

var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS object_names(
		object_name_id INTEGER PRIMARY KEY,
		object_path_name TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS package_names(
		package_name_id INTEGER PRIMARY KEY,
		package_name TEXT UNIQUE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS endpoints(
		endpoint_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		client_info TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS connection_events(
		connection_event_id INTEGER PRIMARY KEY,
		connection_event_type INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS lock_events(
		lock_event_id INTEGER PRIMARY KEY,
		lock_event_type INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_events(
		transaction_event_id INTEGER PRIMARY KEY,
		data_filename TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS package_events(
		package_event_id INTEGER PRIMARY KEY,
		package_name_id INTEGER NOT NULL,
		package_revision INTEGER NOT NULL,
		package_update_type INTEGER NOT NULL,
		transaction_event_id_at_save INTEGER NOT NULL,
		data_filename TEXT NOT NULL,
		FOREIGN KEY(package_name_id) REFERENCES package_names(package_name_id)
	)`,
	`CREATE TABLE IF NOT EXISTS persist_events(
		persist_event_id INTEGER PRIMARY KEY,
		package_event_id INTEGER NOT NULL,
		transaction_event_id_at_persist INTEGER NOT NULL,
		FOREIGN KEY(package_event_id) REFERENCES package_events(package_event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS activities(
		activity_id INTEGER PRIMARY KEY,
		endpoint_id TEXT NOT NULL,
		event_time INTEGER NOT NULL,
		event_type INTEGER NOT NULL,
		event_id INTEGER NOT NULL,
		event_summary_type TEXT NOT NULL,
		event_summary BLOB,
		FOREIGN KEY(endpoint_id) REFERENCES endpoints(endpoint_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ignored_activities(
		activity_id INTEGER NOT NULL,
		FOREIGN KEY(activity_id) REFERENCES activities(activity_id)
	)`,
	`CREATE TABLE IF NOT EXISTS resource_locks(
		object_name_id INTEGER NOT NULL,
		lock_event_id INTEGER NOT NULL,
		FOREIGN KEY(object_name_id) REFERENCES object_names(object_name_id),
		FOREIGN KEY(lock_event_id) REFERENCES lock_events(lock_event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS package_transactions(
		package_name_id INTEGER NOT NULL,
		transaction_event_id INTEGER NOT NULL,
		FOREIGN KEY(package_name_id) REFERENCES package_names(package_name_id),
		FOREIGN KEY(transaction_event_id) REFERENCES transaction_events(transaction_event_id)
	)`,
	`CREATE TABLE IF NOT EXISTS object_transactions(
		object_name_id INTEGER NOT NULL,
		transaction_event_id INTEGER NOT NULL,
		FOREIGN KEY(object_name_id) REFERENCES object_names(object_name_id),
		FOREIGN KEY(transaction_event_id) REFERENCES transaction_events(transaction_event_id)
	)`,
}

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_package_name_ids_in_package_events ON package_events(package_name_id)`,
	`CREATE INDEX IF NOT EXISTS idx_package_event_ids_in_persist_events ON persist_events(package_event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_event_ids_in_activities ON activities(event_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_activity_ids_in_ignored_activities ON ignored_activities(activity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_object_name_ids_in_resource_locks ON resource_locks(object_name_id)`,
	`CREATE INDEX IF NOT EXISTS idx_lock_event_ids_in_resource_locks ON resource_locks(lock_event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_package_name_ids_in_package_transactions ON package_transactions(package_name_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transaction_event_ids_in_package_transactions ON package_transactions(transaction_event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_object_name_ids_in_object_transactions ON object_transactions(object_name_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transaction_event_ids_in_object_transactions ON object_transactions(transaction_event_id)`,
}

// Open creates or opens the event log rooted at sessionPath.
func Open(sessionPath string, caches CacheOptions) (*EventLog, error) {
	timer := logging.StartTimer(logging.CategoryEventLog, "Open")
	defer timer.Stop()

	logging.EventLog("Opening event log at %s", sessionPath)

	if err := os.MkdirAll(sessionPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	db, err := sql.Open("sqlite3", databasePath(sessionPath))
	if err != nil {
		return nil, session.WrapStorage(session.CodeStorageIO, "failed to open session database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Exclusive locking trades cross-process concurrency for batching fsync
	// at WAL checkpoint boundaries only.
	for _, pragma := range []string{
		"PRAGMA locking_mode = EXCLUSIVE",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.EventLogDebug("Failed pragma %q: %v", pragma, err)
		}
	}

	var loadedVersion int
	if err := db.QueryRow("PRAGMA user_version").Scan(&loadedVersion); err != nil {
		db.Close()
		return nil, session.WrapStorage(session.CodeStorageIO, "failed to read schema version", err)
	}
	if loadedVersion > schemaVersion {
		db.Close()
		return nil, session.Errorf(session.CodeStorageCorrupt,
			"session database is too new (version %d, expected <= %d)", loadedVersion, schemaVersion)
	}

	for _, stmt := range schemaTables {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, session.WrapStorage(session.CodeStorageIO, "failed to create schema", err)
		}
	}
	for _, stmt := range schemaIndexes {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, session.WrapStorage(session.CodeStorageIO, "failed to create indexes", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		db.Close()
		return nil, session.WrapStorage(session.CodeStorageIO, "failed to set schema version", err)
	}

	stmts, err := prepareStatements(db)
	if err != nil {
		db.Close()
		return nil, session.WrapStorage(session.CodeStorageIO, "failed to prepare statements", err)
	}

	logging.EventLogDebug("Event log schema ready at %s", sessionPath)
	return &EventLog{
		db:          db,
		stmts:       stmts,
		sessionPath: sessionPath,
		txCache:     blobcache.New(caches.TransactionMinFiles, caches.TransactionMaxBytes),
		pkgCache:    blobcache.New(caches.PackageMinFiles, caches.PackageMaxBytes),
	}, nil
}

// SessionPath returns the session root this log is bound to.
func (l *EventLog) SessionPath() string { return l.sessionPath }

// Close finalizes the prepared statements and closes the database. When
// deleteFiles is set, the blob directories and the database file are
// removed (session destruction).
func (l *EventLog) Close(deleteFiles bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db == nil {
		return fmt.Errorf("event log already closed")
	}
	logging.EventLog("Closing event log at %s (delete=%v)", l.sessionPath, deleteFiles)

	l.stmts.closeAll()
	l.stmts = nil
	if err := l.db.Close(); err != nil {
		return session.WrapStorage(session.CodeStorageIO, "failed to close session database", err)
	}
	l.db = nil
	l.txCache = nil
	l.pkgCache = nil

	if deleteFiles {
		if err := os.RemoveAll(transactionDataPath(l.sessionPath)); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to delete transaction data", err)
		}
		if err := os.RemoveAll(packageDataPath(l.sessionPath)); err != nil {
			return session.WrapStorage(session.CodeStorageIO, "failed to delete package data", err)
		}
		if err := os.Remove(databasePath(l.sessionPath)); err != nil && !os.IsNotExist(err) {
			return session.WrapStorage(session.CodeStorageIO, "failed to delete session database", err)
		}
	}
	return nil
}

// IsOpen reports whether the log can serve operations.
func (l *EventLog) IsOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db != nil
}

func (l *EventLog) requireOpen() error {
	if l.db == nil {
		return fmt.Errorf("event log is not open")
	}
	return nil
}

// beginTx starts the one explicit transaction a mutation runs in. Nested
// attempts fail rather than silently merging.
func (l *EventLog) beginTx() (*sql.Tx, error) {
	if err := l.requireOpen(); err != nil {
		return nil, err
	}
	if l.inTx {
		return nil, fmt.Errorf("event log transaction already in progress")
	}
	tx, err := l.db.Begin()
	if err != nil {
		return nil, session.WrapStorage(session.CodeStorageIO, "failed to begin transaction", err)
	}
	l.inTx = true
	return tx, nil
}

func (l *EventLog) endTx(tx *sql.Tx, opErr error) error {
	defer func() { l.inTx = false }()
	if opErr != nil {
		tx.Rollback()
		return opErr
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return session.WrapStorage(session.CodeStorageIO, "failed to commit transaction", err)
	}
	return nil
}

// use binds a prepared statement to the given transaction, or returns it
// bare when running outside one.
func (l *EventLog) use(tx *sql.Tx, s *sql.Stmt) *sql.Stmt {
	if tx != nil {
		return tx.Stmt(s)
	}
	return s
}
