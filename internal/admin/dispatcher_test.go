package admin

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabsync/internal/eventlog"
	"collabsync/internal/registry"
	"collabsync/internal/session"
)

var testVersion = session.VersionInfo{EngineVersion: "5.4.1", DataVersion: 12}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	root := t.TempDir()
	reg := registry.New(registry.Options{
		LiveDir:    root + "/Live",
		ArchiveDir: root + "/Archive",
		Caches:     eventlog.DefaultCacheOptions(),
	})
	t.Cleanup(func() { reg.Close() })
	return NewDispatcher(reg)
}

func createTestSession(t *testing.T, d *Dispatcher, name string) session.Info {
	t.Helper()
	resp := d.CreateSession(CreateSessionRequest{
		SessionName: name,
		OwnerUser:   "alice",
		OwnerDevice: "alice-desk",
		Version:     &testVersion,
	})
	require.True(t, resp.Ok(), "create failed: %s", resp.Reason)
	return resp.SessionInfo
}

func addActivities(t *testing.T, d *Dispatcher, sessionID uuid.UUID, n int) {
	t.Helper()
	log, err := d.reg.LiveSessionLog(sessionID)
	require.NoError(t, err)
	ep := uuid.New()
	require.NoError(t, log.SetEndpoint(ep, session.ClientInfo{UserName: "alice", DeviceName: "alice-desk"}))
	for i := 0; i < n; i++ {
		a := &eventlog.ConnectionActivity{
			Activity:  eventlog.Activity{EndpointID: ep, EventTime: session.EventTime(time.Now()), SummaryType: "connected"},
			EventData: eventlog.ConnectionEvent{ConnectionType: eventlog.ConnectionConnected},
		}
		require.NoError(t, log.AddConnectionActivity(a))
	}
}

func TestCreateAndFindSession(t *testing.T) {
	d := newTestDispatcher(t)
	created := createTestSession(t, d, "Alice")
	require.NotEqual(t, uuid.Nil, created.SessionID)
	require.Len(t, created.VersionHistory, 1)

	byID := d.FindSession(FindSessionRequest{SessionID: created.SessionID})
	require.True(t, byID.Ok())
	assert.Equal(t, "Alice", byID.SessionInfo.SessionName)

	byName := d.FindSession(FindSessionRequest{SessionName: "alice"})
	require.True(t, byName.Ok())
	assert.Equal(t, created.SessionID, byName.SessionInfo.SessionID)

	missing := d.FindSession(FindSessionRequest{SessionName: "Nope"})
	require.False(t, missing.Ok())
	assert.NotEmpty(t, missing.Reason)

	// A client on an incompatible data version is turned away.
	incompatible := d.FindSession(FindSessionRequest{
		SessionID: created.SessionID,
		Version:   &session.VersionInfo{EngineVersion: "5.4.1", DataVersion: 13},
	})
	require.False(t, incompatible.Ok())

	// A compatible client is admitted.
	compatible := d.FindSession(FindSessionRequest{
		SessionID: created.SessionID,
		Version:   &session.VersionInfo{EngineVersion: "5.4.2", DataVersion: 12},
	})
	require.True(t, compatible.Ok())
}

func TestCreateSessionConflict(t *testing.T) {
	d := newTestDispatcher(t)
	createTestSession(t, d, "Alice")

	resp := d.CreateSession(CreateSessionRequest{
		SessionName: "ALICE",
		OwnerUser:   "bob",
		Version:     &testVersion,
	})
	require.False(t, resp.Ok())
	assert.NotEmpty(t, resp.Reason)
}

func TestArchiveRestoreDeleteFlow(t *testing.T) {
	d := newTestDispatcher(t)
	created := createTestSession(t, d, "Alice")
	addActivities(t, d, created.SessionID, 3)

	arch := d.ArchiveSession(ArchiveSessionRequest{SessionID: created.SessionID, NameOverride: "Alice_Backup"})
	require.True(t, arch.Ok(), arch.Reason)

	del := d.DeleteSession(DeleteSessionRequest{
		SessionID:  created.SessionID,
		UserName:   "alice",
		DeviceName: "alice-desk",
		DeleteData: true,
	})
	require.True(t, del.Ok(), del.Reason)

	// Deleting as a non-owner fails.
	del2 := d.DeleteSession(DeleteSessionRequest{SessionID: arch.ArchivedID, UserName: "mallory"})
	require.False(t, del2.Ok())

	rest := d.RestoreSession(RestoreSessionRequest{
		ArchivedID:  arch.ArchivedID,
		SessionName: "Alice",
		OwnerUser:   "alice",
		OwnerDevice: "alice-desk",
		Version:     &testVersion,
	})
	require.True(t, rest.Ok(), rest.Reason)

	acts := d.GetSessionActivities(GetSessionActivitiesRequest{
		SessionID: rest.SessionInfo.SessionID,
		Count:     100,
	})
	require.True(t, acts.Ok(), acts.Reason)
	require.Len(t, acts.Activities, 3)

	clients := d.GetSessionClients(GetSessionClientsRequest{SessionID: rest.SessionInfo.SessionID})
	require.True(t, clients.Ok())
	require.Len(t, clients.Clients, 1)
}

func TestRenameSession(t *testing.T) {
	d := newTestDispatcher(t)
	created := createTestSession(t, d, "Alice")

	denied := d.RenameSession(RenameSessionRequest{SessionID: created.SessionID, NewName: "X", UserName: "mallory"})
	require.False(t, denied.Ok())

	ok := d.RenameSession(RenameSessionRequest{
		SessionID:  created.SessionID,
		NewName:    "Alice2",
		UserName:   "alice",
		DeviceName: "alice-desk",
	})
	require.True(t, ok.Ok(), ok.Reason)

	found := d.FindSession(FindSessionRequest{SessionName: "Alice2"})
	require.True(t, found.Ok())
}

func TestSessionListings(t *testing.T) {
	d := newTestDispatcher(t)
	a := createTestSession(t, d, "Alpha")
	createTestSession(t, d, "Beta")
	arch := d.ArchiveSession(ArchiveSessionRequest{SessionID: a.SessionID, NameOverride: "Alpha_Backup"})
	require.True(t, arch.Ok())

	live := d.GetLiveSessions(GetLiveSessionsRequest{})
	require.True(t, live.Ok())
	require.Len(t, live.Sessions, 2)
	assert.Equal(t, "Alpha", live.Sessions[0].SessionName)
	assert.Equal(t, "Beta", live.Sessions[1].SessionName)

	archived := d.GetArchivedSessions(GetArchivedSessionsRequest{})
	require.True(t, archived.Ok())
	require.Len(t, archived.Sessions, 1)

	all := d.GetAllSessions(GetAllSessionsRequest{})
	require.True(t, all.Ok())
	require.Len(t, all.Sessions, 3)
}

func TestGetSessionActivitiesWindows(t *testing.T) {
	d := newTestDispatcher(t)
	created := createTestSession(t, d, "Alice")
	addActivities(t, d, created.SessionID, 10)

	ids := func(resp GetSessionActivitiesResponse) []int64 {
		require.True(t, resp.Ok(), resp.Reason)
		var out []int64
		for _, a := range resp.Activities {
			out = append(out, a.ActivityID)
		}
		return out
	}

	// Forward window.
	got := ids(d.GetSessionActivities(GetSessionActivitiesRequest{SessionID: created.SessionID, FromActivityID: 3, Count: 4}))
	assert.Equal(t, []int64{3, 4, 5, 6}, got)

	// Negative count selects the tail regardless of FromActivityID.
	got = ids(d.GetSessionActivities(GetSessionActivitiesRequest{SessionID: created.SessionID, FromActivityID: 1, Count: -3}))
	assert.Equal(t, []int64{8, 9, 10}, got)

	// A tail larger than the log clamps to the start.
	got = ids(d.GetSessionActivities(GetSessionActivitiesRequest{SessionID: created.SessionID, Count: -50}))
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)

	// Unknown session fails cleanly.
	bad := d.GetSessionActivities(GetSessionActivitiesRequest{SessionID: uuid.New(), Count: 5})
	require.False(t, bad.Ok())
}
