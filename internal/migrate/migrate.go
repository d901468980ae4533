// Package migrate copies one session event log into another, applying a
// filter. Archive, restore, and export are all this one copy with different
// filters. A migration is not resumable: any failure aborts and the caller
// discards the destination.
package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"collabsync/internal/eventlog"
	"collabsync/internal/logging"
	"collabsync/internal/session"
)

// copyJob moves one blob file from the source log to the destination.
// Package blobs carry a retargeted info header; the compressed body is
// spliced through untouched.
type copyJob struct {
	srcPath string
	dstPath string
	pkgInfo *eventlog.PackageInfo
}

// txIDMap tracks how source transaction event ids were renumbered in the
// destination. Ids are appended in ascending order.
type txIDMap struct {
	oldIDs []int64
	newIDs []int64
}

func (m *txIDMap) add(oldID, newID int64) {
	m.oldIDs = append(m.oldIDs, oldID)
	m.newIDs = append(m.newIDs, newID)
}

// remapFence maps a source save fence to the destination: the new id of
// the greatest migrated source transaction at or below it, or 0 when every
// transaction it consumed was filtered out.
func (m *txIDMap) remapFence(oldFence int64) int64 {
	i := sort.Search(len(m.oldIDs), func(i int) bool { return m.oldIDs[i] > oldFence })
	if i == 0 {
		return 0
	}
	return m.newIDs[i-1]
}

// MigrateToPath opens a fresh destination log at destPath, copies src into
// it, and closes it. On failure the half-written destination files are
// removed.
func MigrateToPath(src *eventlog.EventLog, destPath string, filter session.Filter, caches eventlog.CacheOptions) error {
	dst, err := eventlog.Open(destPath, caches)
	if err != nil {
		return fmt.Errorf("failed to open destination log: %w", err)
	}
	if err := Migrate(src, dst, filter); err != nil {
		dst.Close(true)
		return err
	}
	return dst.Close(false)
}

// Migrate copies src into dst, applying filter. dst must be a freshly
// opened, empty log. Endpoints are copied first, then activities in
// ascending id order with fresh contiguous ids; surviving blob files are
// copied concurrently once every row is in place.
func Migrate(src, dst *eventlog.EventLog, filter session.Filter) error {
	timer := logging.StartTimer(logging.CategoryMigrate, "Migrate")
	defer timer.Stop()
	logging.Migrate("Migrating %s -> %s (ignored=%v live-only=%v metadata-only=%v anonymize=%v)",
		src.SessionPath(), dst.SessionPath(),
		filter.IncludeIgnoredActivities, filter.OnlyLiveData, filter.MetadataOnly, filter.Anonymize)

	if err := copyEndpoints(src, dst, filter.Anonymize); err != nil {
		return err
	}

	jobs, copied, err := copyActivities(src, dst, filter)
	if err != nil {
		return err
	}
	if err := copyBlobs(jobs); err != nil {
		return err
	}

	logging.Migrate("Migrated %d activities and %d blob files to %s", copied, len(jobs), dst.SessionPath())
	return nil
}

func copyEndpoints(src, dst *eventlog.EventLog, anonymize bool) error {
	var endpoints []eventlog.Endpoint
	if err := src.EnumerateEndpoints(func(ep eventlog.Endpoint) bool {
		endpoints = append(endpoints, ep)
		return true
	}); err != nil {
		return fmt.Errorf("failed to read source endpoints: %w", err)
	}

	for i, ep := range endpoints {
		client := ep.Client
		if anonymize {
			// Stable per-endpoint pseudonyms keep activity attribution
			// joins resolvable without leaking identities.
			pseudonym := fmt.Sprintf("user-%d", i+1)
			client = session.ClientInfo{UserName: pseudonym, DisplayName: pseudonym}
		}
		if err := dst.SetEndpoint(ep.EndpointID, client); err != nil {
			return fmt.Errorf("failed to copy endpoint %s: %w", ep.EndpointID, err)
		}
	}
	return nil
}

func copyActivities(src, dst *eventlog.EventLog, filter session.Filter) ([]copyJob, int64, error) {
	maxID, err := src.GetActivityMaxID()
	if err != nil {
		return nil, 0, err
	}
	if maxID == 0 {
		return nil, 0, nil
	}

	type idAndType struct {
		id        int64
		eventType eventlog.EventType
	}
	var pairs []idAndType
	if err := src.EnumerateActivityIDsAndEventTypesInRange(1, maxID, func(id int64, t eventlog.EventType) bool {
		pairs = append(pairs, idAndType{id, t})
		return true
	}); err != nil {
		return nil, 0, err
	}

	var (
		jobs    []copyJob
		txIDs   txIDMap
		headRev = map[string]int64{}

		nextActivity, nextConn, nextLock, nextTx, nextPkg int64
	)

	for _, pair := range pairs {
		switch pair.eventType {
		case eventlog.EventTypeConnection:
			a, err := src.GetConnectionActivity(pair.id)
			if err != nil {
				return nil, 0, err
			}
			if a.Ignored && !filter.IncludeIgnoredActivities {
				continue
			}
			nextActivity++
			nextConn++
			a.ActivityID, a.EventID = nextActivity, nextConn
			if err := dst.SetConnectionActivity(&a); err != nil {
				return nil, 0, err
			}

		case eventlog.EventTypeLock:
			a, err := src.GetLockActivity(pair.id)
			if err != nil {
				return nil, 0, err
			}
			if a.Ignored && !filter.IncludeIgnoredActivities {
				continue
			}
			nextActivity++
			nextLock++
			a.ActivityID, a.EventID = nextActivity, nextLock
			if err := dst.SetLockActivity(&a); err != nil {
				return nil, 0, err
			}

		case eventlog.EventTypeTransaction:
			a, err := src.GetTransactionActivity(pair.id, false)
			if err != nil {
				return nil, 0, err
			}
			if a.Ignored && !filter.IncludeIgnoredActivities {
				continue
			}
			if filter.OnlyLiveData {
				live, err := src.IsLiveTransactionEvent(a.EventID)
				if err != nil {
					return nil, 0, err
				}
				if !live {
					continue
				}
			}
			srcPath := src.TransactionDataFile(a.EventID)
			policy := eventlog.DataPolicyExternal
			if filter.MetadataOnly || !fileExists(srcPath) {
				policy = eventlog.DataPolicyStrip
			}
			nextActivity++
			nextTx++
			txIDs.add(a.EventID, nextTx)
			a.ActivityID, a.EventID = nextActivity, nextTx
			if err := dst.SetTransactionActivity(&a, policy); err != nil {
				return nil, 0, err
			}
			if policy == eventlog.DataPolicyExternal {
				jobs = append(jobs, copyJob{srcPath: srcPath, dstPath: dst.TransactionDataFile(nextTx)})
			}

		case eventlog.EventTypePackage:
			a, err := src.GetPackageActivity(pair.id, true)
			if err != nil {
				return nil, 0, err
			}
			if a.Ignored && !filter.IncludeIgnoredActivities {
				continue
			}
			if filter.OnlyLiveData {
				head, err := src.IsHeadRevisionPackageEvent(a.EventID)
				if err != nil {
					return nil, 0, err
				}
				if !head {
					continue
				}
			}
			name := a.EventData.Info.PackageName
			srcPath := src.PackageDataFile(name, a.EventData.PackageRevision)
			policy := eventlog.DataPolicyExternal
			if filter.MetadataOnly || !fileExists(srcPath) {
				policy = eventlog.DataPolicyStrip
			}
			nextActivity++
			nextPkg++
			headRev[name]++
			a.ActivityID, a.EventID = nextActivity, nextPkg
			a.EventData.PackageRevision = headRev[name]
			a.EventData.Info.TransactionEventIDAtSave = txIDs.remapFence(a.EventData.Info.TransactionEventIDAtSave)
			if err := dst.SetPackageActivity(&a, policy); err != nil {
				return nil, 0, err
			}
			if policy == eventlog.DataPolicyExternal {
				info := a.EventData.Info
				jobs = append(jobs, copyJob{
					srcPath: srcPath,
					dstPath: dst.PackageDataFile(name, headRev[name]),
					pkgInfo: &info,
				})
			}

		default:
			return nil, 0, session.Errorf(session.CodeStorageCorrupt, "activity %d has unknown event type %d", pair.id, pair.eventType)
		}
	}
	return jobs, nextActivity, nil
}

func copyBlobs(jobs []copyJob) error {
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			blob, err := os.ReadFile(job.srcPath)
			if err != nil {
				return session.WrapStorage(session.CodeStorageIO, "failed to read source blob", err)
			}
			if job.pkgInfo != nil {
				if blob, err = eventlog.RewritePackageBlobInfo(blob, job.pkgInfo); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(job.dstPath), 0755); err != nil {
				return session.WrapStorage(session.CodeStorageIO, "failed to create blob directory", err)
			}
			if err := os.WriteFile(job.dstPath, blob, 0644); err != nil {
				return session.WrapStorage(session.CodeStorageIO, "failed to write destination blob", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
