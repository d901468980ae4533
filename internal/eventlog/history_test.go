package eventlog

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"collabsync/internal/session"
)

func addLock(t *testing.T, log *EventLog, ep uuid.UUID, lockType LockEventType, resources ...string) int64 {
	t.Helper()
	a := &LockActivity{
		Activity: Activity{EndpointID: ep, EventTime: session.EventTime(time.Now()), SummaryType: "lock"},
		EventData: LockEvent{
			LockType:      lockType,
			ResourceNames: resources,
		},
	}
	if err := log.AddLockActivity(a); err != nil {
		t.Fatalf("Failed to add lock: %v", err)
	}
	return a.EventID
}

func addObjectTx(t *testing.T, log *EventLog, ep uuid.UUID, objects ...string) int64 {
	t.Helper()
	a := &TransactionActivity{
		Activity: Activity{EndpointID: ep, EventTime: session.EventTime(time.Now()), SummaryType: "edit"},
		EventData: TransactionEvent{
			Payload:         []byte("tx"),
			ModifiedObjects: objects,
		},
	}
	if err := log.AddTransactionActivity(a); err != nil {
		t.Fatalf("Failed to add transaction: %v", err)
	}
	return a.EventID
}

func TestEnumerateTransactionEventIDsForPackage(t *testing.T) {
	log := openTestLog(t)
	ep := testEndpoint(t, log, "alice")

	first := addTx(t, log, ep, "/Game/A", "/Game/B")
	addTx(t, log, ep, "/Game/B")
	third := addTx(t, log, ep, "/Game/A")

	// Saves fence liveness but never rewrite history.
	addSave(t, log, ep, "/Game/A", third)

	var ids []int64
	err := log.EnumerateTransactionEventIDsForPackage("/Game/A", func(id int64) bool {
		ids = append(ids, id)
		return true
	})
	if err != nil {
		t.Fatalf("Failed to enumerate package transactions: %v", err)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != third {
		t.Errorf("Expected transactions [%d %d] for /Game/A, got %v", first, third, ids)
	}

	// Early stop after the first id.
	ids = ids[:0]
	err = log.EnumerateTransactionEventIDsForPackage("/Game/A", func(id int64) bool {
		ids = append(ids, id)
		return false
	})
	if err != nil || len(ids) != 1 || ids[0] != first {
		t.Errorf("Expected early stop at %d, got %v err=%v", first, ids, err)
	}

	// Unknown package names enumerate nothing.
	err = log.EnumerateTransactionEventIDsForPackage("/Game/Nope", func(int64) bool {
		t.Fatal("Unexpected id for unknown package")
		return false
	})
	if err != nil {
		t.Fatalf("Failed on unknown package: %v", err)
	}
}

func TestEnumerateTransactionEventIDsForObject(t *testing.T) {
	log := openTestLog(t)
	ep := testEndpoint(t, log, "alice")

	first := addObjectTx(t, log, ep, "/Game/A.Wall", "/Game/A.Door")
	addObjectTx(t, log, ep, "/Game/A.Door")
	third := addObjectTx(t, log, ep, "/Game/A.Wall")

	var ids []int64
	err := log.EnumerateTransactionEventIDsForObject("/Game/A.Wall", func(id int64) bool {
		ids = append(ids, id)
		return true
	})
	if err != nil {
		t.Fatalf("Failed to enumerate object transactions: %v", err)
	}
	if len(ids) != 2 || ids[0] != first || ids[1] != third {
		t.Errorf("Expected transactions [%d %d] for the wall, got %v", first, third, ids)
	}

	err = log.EnumerateTransactionEventIDsForObject("/Game/A.Roof", func(int64) bool {
		t.Fatal("Unexpected id for unknown object")
		return false
	})
	if err != nil {
		t.Fatalf("Failed on unknown object: %v", err)
	}
}

func TestEnumerateLockEventIDsForResource(t *testing.T) {
	log := openTestLog(t)
	ep := testEndpoint(t, log, "alice")

	lockA := addLock(t, log, ep, LockLocked, "/Game/A", "/Game/B")
	unlockA := addLock(t, log, ep, LockUnlocked, "/Game/A")
	addLock(t, log, ep, LockLocked, "/Game/B")

	var ids []int64
	err := log.EnumerateLockEventIDsForResource("/Game/A", func(id int64) bool {
		ids = append(ids, id)
		return true
	})
	if err != nil {
		t.Fatalf("Failed to enumerate resource locks: %v", err)
	}
	if len(ids) != 2 || ids[0] != lockA || ids[1] != unlockA {
		t.Errorf("Expected lock events [%d %d] for /Game/A, got %v", lockA, unlockA, ids)
	}

	err = log.EnumerateLockEventIDsForResource("/Game/Nope", func(int64) bool {
		t.Fatal("Unexpected id for unknown resource")
		return false
	})
	if err != nil {
		t.Fatalf("Failed on unknown resource: %v", err)
	}
}

func TestEnumeratePackageNamesWithTransactions(t *testing.T) {
	log := openTestLog(t)
	ep := testEndpoint(t, log, "alice")

	id := addTx(t, log, ep, "/Game/A", "/Game/B")
	addTx(t, log, ep, "/Game/B")
	addSave(t, log, ep, "/Game/A", id)
	addSave(t, log, ep, "/Game/C", 0)

	// Saves alone do not put a package into the transaction history.
	var names []string
	err := log.EnumeratePackageNamesWithTransactions(func(name string) bool {
		names = append(names, name)
		return true
	})
	if err != nil {
		t.Fatalf("Failed to enumerate: %v", err)
	}
	if len(names) != 2 || names[0] != "/Game/A" || names[1] != "/Game/B" {
		t.Errorf("Expected [/Game/A /Game/B], got %v", names)
	}

	names = names[:0]
	err = log.EnumeratePackageNamesWithTransactions(func(name string) bool {
		names = append(names, name)
		return false
	})
	if err != nil || len(names) != 1 {
		t.Errorf("Expected early stop after one name, got %v err=%v", names, err)
	}
}

func TestGetActivityEventType(t *testing.T) {
	log := openTestLog(t)
	ep := testEndpoint(t, log, "alice")

	txID := addTx(t, log, ep, "/Game/A")
	lockID := addLock(t, log, ep, LockLocked, "/Game/A")

	txActivity, err := log.GetActivityForEvent(EventTypeTransaction, txID)
	if err != nil {
		t.Fatalf("Failed to resolve transaction activity: %v", err)
	}
	lockActivity, err := log.GetActivityForEvent(EventTypeLock, lockID)
	if err != nil {
		t.Fatalf("Failed to resolve lock activity: %v", err)
	}

	if et, err := log.GetActivityEventType(txActivity.ActivityID); err != nil || et != EventTypeTransaction {
		t.Errorf("Expected transaction event type, got %v err=%v", et, err)
	}
	if et, err := log.GetActivityEventType(lockActivity.ActivityID); err != nil || et != EventTypeLock {
		t.Errorf("Expected lock event type, got %v err=%v", et, err)
	}
	if _, err := log.GetActivityEventType(999); !session.IsCode(err, session.CodeNotFound) {
		t.Errorf("Expected NotFound for unknown activity, got %v", err)
	}
}
