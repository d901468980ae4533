package migrate

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"collabsync/internal/eventlog"
	"collabsync/internal/session"
)

func openLog(t *testing.T) *eventlog.EventLog {
	t.Helper()
	log, err := eventlog.Open(t.TempDir(), eventlog.DefaultCacheOptions())
	if err != nil {
		t.Fatalf("Failed to open event log: %v", err)
	}
	t.Cleanup(func() {
		if log.IsOpen() {
			log.Close(false)
		}
	})
	return log
}

func addEndpoint(t *testing.T, log *eventlog.EventLog, user string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	client := session.ClientInfo{UserName: user, DeviceName: user + "-desk", DisplayName: user}
	if err := log.SetEndpoint(id, client); err != nil {
		t.Fatalf("Failed to set endpoint: %v", err)
	}
	return id
}

func addTransaction(t *testing.T, log *eventlog.EventLog, ep uuid.UUID, payload string, packages ...string) *eventlog.TransactionActivity {
	t.Helper()
	a := &eventlog.TransactionActivity{
		Activity: eventlog.Activity{EndpointID: ep, EventTime: session.EventTime(time.Now()), SummaryType: "edit"},
		EventData: eventlog.TransactionEvent{
			Payload:          []byte(payload),
			ModifiedPackages: packages,
		},
	}
	if err := log.AddTransactionActivity(a); err != nil {
		t.Fatalf("Failed to add transaction: %v", err)
	}
	return a
}

func addSave(t *testing.T, log *eventlog.EventLog, ep uuid.UUID, name string, fence int64, data string) *eventlog.PackageActivity {
	t.Helper()
	a := &eventlog.PackageActivity{
		Activity: eventlog.Activity{EndpointID: ep, EventTime: session.EventTime(time.Now()), SummaryType: "saved"},
		EventData: eventlog.PackageEvent{
			Info: eventlog.PackageInfo{
				PackageName:              name,
				UpdateType:               eventlog.PackageUpdateSaved,
				TransactionEventIDAtSave: fence,
			},
			Data: []byte(data),
		},
	}
	if err := log.AddPackageActivity(a); err != nil {
		t.Fatalf("Failed to add package save: %v", err)
	}
	return a
}

func collectActivities(t *testing.T, log *eventlog.EventLog) []eventlog.Activity {
	t.Helper()
	var out []eventlog.Activity
	err := log.EnumerateActivitiesInRange(1, 1<<30, func(a eventlog.Activity) bool {
		a.EventTime = 0 // wall-clock times do not affect replay
		out = append(out, a)
		return true
	})
	if err != nil {
		t.Fatalf("Failed to enumerate activities: %v", err)
	}
	return out
}

func TestMigrateFullCopy(t *testing.T) {
	src := openLog(t)
	alice := addEndpoint(t, src, "alice")
	bob := addEndpoint(t, src, "bob")

	conn := &eventlog.ConnectionActivity{
		Activity:  eventlog.Activity{EndpointID: alice, EventTime: session.EventTime(time.Now()), SummaryType: "connected"},
		EventData: eventlog.ConnectionEvent{ConnectionType: eventlog.ConnectionConnected},
	}
	if err := src.AddConnectionActivity(conn); err != nil {
		t.Fatalf("Failed to add connection: %v", err)
	}
	lock := &eventlog.LockActivity{
		Activity:  eventlog.Activity{EndpointID: bob, EventTime: session.EventTime(time.Now()), SummaryType: "locked"},
		EventData: eventlog.LockEvent{LockType: eventlog.LockLocked, ResourceNames: []string{"/Game/A.Door"}},
	}
	if err := src.AddLockActivity(lock); err != nil {
		t.Fatalf("Failed to add lock: %v", err)
	}
	addTransaction(t, src, alice, "tx-1", "/Game/A")
	addSave(t, src, alice, "/Game/A", 1, "pkg-body")

	dst := openLog(t)
	if err := Migrate(src, dst, session.Filter{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	if diff := cmp.Diff(collectActivities(t, src), collectActivities(t, dst)); diff != "" {
		t.Errorf("Activity sequence mismatch (-src +dst):\n%s", diff)
	}

	// Payloads and blob files survive the copy.
	gotTx, err := dst.GetTransactionActivity(3, false)
	if err != nil {
		t.Fatalf("Failed to read migrated transaction: %v", err)
	}
	if string(gotTx.EventData.Payload) != "tx-1" {
		t.Errorf("Transaction payload mismatch: %q", gotTx.EventData.Payload)
	}
	if gotTx.EventData.ModifiedPackages[0] != "/Game/A" {
		t.Errorf("Modified packages mismatch: %v", gotTx.EventData.ModifiedPackages)
	}
	gotPkg, err := dst.GetPackageActivity(4, false)
	if err != nil {
		t.Fatalf("Failed to read migrated package: %v", err)
	}
	if string(gotPkg.EventData.Data) != "pkg-body" {
		t.Errorf("Package data mismatch: %q", gotPkg.EventData.Data)
	}

	// Endpoints arrive unchanged.
	client, err := dst.GetEndpoint(alice)
	if err != nil {
		t.Fatalf("Failed to read migrated endpoint: %v", err)
	}
	if client.UserName != "alice" || client.DeviceName != "alice-desk" {
		t.Errorf("Endpoint mismatch: %+v", client)
	}
}

func TestMigrateDropsIgnoredByDefault(t *testing.T) {
	src := openLog(t)
	ep := addEndpoint(t, src, "alice")

	addTransaction(t, src, ep, "keep-1")
	ignored := addTransaction(t, src, ep, "dropped")
	if err := src.SetActivityIgnoredState(ignored.ActivityID, true); err != nil {
		t.Fatalf("Failed to ignore activity: %v", err)
	}
	addTransaction(t, src, ep, "keep-2")

	dst := openLog(t)
	if err := Migrate(src, dst, session.Filter{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	got := collectActivities(t, dst)
	if len(got) != 2 {
		t.Fatalf("Expected 2 surviving activities, got %d", len(got))
	}
	// Ids are renumbered contiguously.
	for i, a := range got {
		if a.ActivityID != int64(i+1) || a.EventID != int64(i+1) {
			t.Errorf("Expected contiguous ids at %d, got activity=%d event=%d", i, a.ActivityID, a.EventID)
		}
	}
	second, err := dst.GetTransactionActivity(2, false)
	if err != nil {
		t.Fatalf("Failed to read migrated transaction: %v", err)
	}
	if string(second.EventData.Payload) != "keep-2" {
		t.Errorf("Expected keep-2 as second payload, got %q", second.EventData.Payload)
	}

	// IncludeIgnoredActivities keeps the row and its flag.
	dst2 := openLog(t)
	if err := Migrate(src, dst2, session.Filter{IncludeIgnoredActivities: true}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	all := collectActivities(t, dst2)
	if len(all) != 3 || !all[1].Ignored {
		t.Errorf("Expected 3 activities with the middle one ignored, got %+v", all)
	}
}

func TestMigrateOnlyLiveData(t *testing.T) {
	src := openLog(t)
	ep := addEndpoint(t, src, "alice")

	// Transactions 1..4 against one package, save fencing at 2: 1 and 2
	// are consumed, 3 and 4 stay live. The save itself is the head
	// revision and survives.
	for i := 1; i <= 2; i++ {
		addTransaction(t, src, ep, "dead", "/Game/A")
	}
	addSave(t, src, ep, "/Game/A", 2, "rev-1")
	addTransaction(t, src, ep, "live-3", "/Game/A")
	addTransaction(t, src, ep, "live-4", "/Game/A")

	dst := openLog(t)
	if err := Migrate(src, dst, session.Filter{OnlyLiveData: true}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	got := collectActivities(t, dst)
	if len(got) != 3 {
		t.Fatalf("Expected 3 surviving activities, got %d", len(got))
	}

	// The surviving save's fence must be remapped into the new numbering:
	// no migrated transaction precedes it, so the fence clamps to 0 and
	// both surviving transactions stay live in the destination.
	pkg, err := dst.GetPackageActivity(1, true)
	if err != nil {
		t.Fatalf("Failed to read migrated save: %v", err)
	}
	if pkg.EventData.Info.TransactionEventIDAtSave != 0 {
		t.Errorf("Expected fence remapped to 0, got %d", pkg.EventData.Info.TransactionEventIDAtSave)
	}
	var liveIDs []int64
	err = dst.EnumerateLiveTransactionEventIDsForPackage("/Game/A", func(id int64) bool {
		liveIDs = append(liveIDs, id)
		return true
	})
	if err != nil {
		t.Fatalf("Failed to enumerate live transactions: %v", err)
	}
	if len(liveIDs) != 2 {
		t.Errorf("Expected 2 live transactions after migration, got %v", liveIDs)
	}
}

func TestMigrateRemapsFenceToSurvivingPredecessor(t *testing.T) {
	src := openLog(t)
	ep := addEndpoint(t, src, "alice")

	// Package B keeps its transaction live across A's save, so old
	// transaction 1 survives while 2 dies at A's fence.
	addTransaction(t, src, ep, "b-edit", "/Game/B")
	addTransaction(t, src, ep, "a-edit", "/Game/A")
	addSave(t, src, ep, "/Game/A", 2, "rev-1")

	dst := openLog(t)
	if err := Migrate(src, dst, session.Filter{OnlyLiveData: true}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	// Old fence 2 has no surviving image; the greatest surviving
	// predecessor is old transaction 1, migrated as 1.
	pkg, err := dst.GetPackageActivity(2, true)
	if err != nil {
		t.Fatalf("Failed to read migrated save: %v", err)
	}
	if pkg.EventData.Info.TransactionEventIDAtSave != 1 {
		t.Errorf("Expected fence 1, got %d", pkg.EventData.Info.TransactionEventIDAtSave)
	}
}

func TestMigrateDropsSupersededRevisions(t *testing.T) {
	src := openLog(t)
	ep := addEndpoint(t, src, "alice")

	addSave(t, src, ep, "/Game/A", 0, "rev-1")
	addSave(t, src, ep, "/Game/A", 0, "rev-2")
	addSave(t, src, ep, "/Game/B", 0, "b-rev-1")

	dst := openLog(t)
	if err := Migrate(src, dst, session.Filter{OnlyLiveData: true}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	got := collectActivities(t, dst)
	if len(got) != 2 {
		t.Fatalf("Expected only head revisions to survive, got %d activities", len(got))
	}
	_, data, err := dst.GetPackageDataForRevision("/Game/A", 0)
	if err != nil {
		t.Fatalf("Failed to read head revision: %v", err)
	}
	if string(data) != "rev-2" {
		t.Errorf("Expected rev-2 at head, got %q", data)
	}
	// Head renumbers to revision 1 in the destination.
	if rev, err := dst.GetPackageHeadRevision("/Game/A"); err != nil || rev != 1 {
		t.Errorf("Expected head revision 1, got %d err=%v", rev, err)
	}
}

func TestMigrateMetadataOnly(t *testing.T) {
	src := openLog(t)
	ep := addEndpoint(t, src, "alice")

	addTransaction(t, src, ep, "payload", "/Game/A")
	addSave(t, src, ep, "/Game/A", 0, "pkg-body")

	dst := openLog(t)
	if err := Migrate(src, dst, session.Filter{MetadataOnly: true}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	got := collectActivities(t, dst)
	if len(got) != 2 {
		t.Fatalf("Expected 2 activities, got %d", len(got))
	}

	// The join tables survive even though payloads are stripped.
	names := map[string]bool{}
	err := dst.EnumeratePackageNamesWithLiveTransactions(func(name string) bool {
		names[name] = true
		return true
	})
	if err != nil {
		t.Fatalf("Failed to enumerate: %v", err)
	}
	if !names["/Game/A"] {
		t.Errorf("Expected package joins to survive, got %v", names)
	}

	// No blob files in the destination.
	if _, err := os.Stat(dst.TransactionDataFile(1)); !os.IsNotExist(err) {
		t.Errorf("Expected no transaction blob, stat err=%v", err)
	}
	if _, err := os.Stat(dst.PackageDataFile("/Game/A", 1)); !os.IsNotExist(err) {
		t.Errorf("Expected no package blob, stat err=%v", err)
	}

	// Reads degrade to empty payloads rather than failing.
	gotTx, err := dst.GetTransactionActivity(1, false)
	if err != nil {
		t.Fatalf("Failed to read stripped transaction: %v", err)
	}
	if len(gotTx.EventData.Payload) != 0 {
		t.Errorf("Expected empty payload, got %q", gotTx.EventData.Payload)
	}
}

func TestMigrateAnonymize(t *testing.T) {
	src := openLog(t)
	addEndpoint(t, src, "alice")
	addEndpoint(t, src, "bob")

	dst := openLog(t)
	if err := Migrate(src, dst, session.Filter{Anonymize: true}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	users := map[string]bool{}
	err := dst.EnumerateEndpoints(func(e eventlog.Endpoint) bool {
		users[e.Client.UserName] = true
		if e.Client.DeviceName != "" || e.Client.Tags != "" {
			t.Errorf("Expected device and tags scrubbed, got %+v", e.Client)
		}
		return true
	})
	if err != nil {
		t.Fatalf("Failed to enumerate endpoints: %v", err)
	}
	if len(users) != 2 || !users["user-1"] || !users["user-2"] {
		t.Errorf("Expected stable pseudonyms user-1/user-2, got %v", users)
	}
}

func TestMigrateToPathCreatesReopenableLog(t *testing.T) {
	src := openLog(t)
	ep := addEndpoint(t, src, "alice")
	addTransaction(t, src, ep, "tx", "/Game/A")

	dest := t.TempDir() + "/archived"
	if err := MigrateToPath(src, dest, session.Filter{}, eventlog.DefaultCacheOptions()); err != nil {
		t.Fatalf("Failed to migrate to path: %v", err)
	}

	reopened, err := eventlog.Open(dest, eventlog.DefaultCacheOptions())
	if err != nil {
		t.Fatalf("Failed to reopen migrated log: %v", err)
	}
	defer reopened.Close(false)
	if maxID, err := reopened.GetActivityMaxID(); err != nil || maxID != 1 {
		t.Errorf("Expected 1 activity in migrated log, got %d err=%v", maxID, err)
	}
}
