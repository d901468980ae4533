package eventlog

import (
	"fmt"
	"path/filepath"
	"strings"
)

// On-disk layout per session root:
//
//	Session.db
//	Transactions/<id/bucketSize>/<id>.utrans
//	Packages/<lower(name)>_<revision>.upackage
//
// Buckets keep transaction directory fan-out bounded.
const (
	databaseFilename = "Session.db"
	transactionsDir  = "Transactions"
	packagesDir      = "Packages"
	bucketSize       = 500
)

func databasePath(sessionPath string) string {
	return filepath.Join(sessionPath, databaseFilename)
}

func transactionDataPath(sessionPath string) string {
	return filepath.Join(sessionPath, transactionsDir)
}

func packageDataPath(sessionPath string) string {
	return filepath.Join(sessionPath, packagesDir)
}

// transactionFilename returns the bucketed relative filename for a
// transaction event id.
func transactionFilename(transactionEventID int64) string {
	return filepath.Join(fmt.Sprintf("%d", transactionEventID/bucketSize), fmt.Sprintf("%d.utrans", transactionEventID))
}

// TransactionDataFile returns the absolute blob path for a transaction
// event id under this log's session root.
func (l *EventLog) TransactionDataFile(transactionEventID int64) string {
	return filepath.Join(transactionDataPath(l.sessionPath), transactionFilename(transactionEventID))
}

// PackageDataFile returns the absolute blob path for a package revision
// under this log's session root.
func (l *EventLog) PackageDataFile(packageName string, revision int64) string {
	return filepath.Join(packageDataPath(l.sessionPath), packageFilename(packageName, revision))
}

// packageFilename returns the relative filename for a package revision.
// Package names may contain path separators; flatten them so every
// revision lands directly under Packages/.
func packageFilename(packageName string, revision int64) string {
	flat := strings.NewReplacer("/", "+", "\\", "+").Replace(strings.ToLower(packageName))
	return fmt.Sprintf("%s_%d.upackage", flat, revision)
}
