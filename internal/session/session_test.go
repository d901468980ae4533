package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestCompareCompatibility(t *testing.T) {
	base := VersionInfo{EngineVersion: "5.4.1", DataVersion: 12}

	cases := []struct {
		name  string
		other VersionInfo
		want  VersionCompatibility
	}{
		{"identical", VersionInfo{EngineVersion: "5.4.1", DataVersion: 12}, VersionIdentical},
		{"engine differs", VersionInfo{EngineVersion: "5.4.2", DataVersion: 12}, VersionCompatible},
		{"data differs", VersionInfo{EngineVersion: "5.4.1", DataVersion: 13}, VersionIncompatible},
		{"both differ", VersionInfo{EngineVersion: "5.5.0", DataVersion: 13}, VersionIncompatible},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := base.CompareCompatibility(c.other); got != c.want {
				t.Errorf("CompareCompatibility = %v, want %v", got, c.want)
			}
		})
	}
}

func TestLatestVersion(t *testing.T) {
	info := &Info{}
	if _, ok := info.LatestVersion(); ok {
		t.Errorf("Expected no latest version for empty history")
	}

	info.VersionHistory = []VersionInfo{
		{EngineVersion: "5.3.0", DataVersion: 11},
		{EngineVersion: "5.4.1", DataVersion: 12},
	}
	latest, ok := info.LatestVersion()
	if !ok || latest.EngineVersion != "5.4.1" {
		t.Errorf("Expected newest entry, got %+v ok=%v", latest, ok)
	}
}

func TestRequesterCanMutate(t *testing.T) {
	info := &Info{OwnerUser: "alice", OwnerDevice: "alice-desk"}

	if !(Requester{UserName: "alice", DeviceName: "alice-desk"}).CanMutate(info) {
		t.Errorf("Expected owner to mutate")
	}
	if (Requester{UserName: "alice", DeviceName: "alice-laptop"}).CanMutate(info) {
		t.Errorf("Expected device mismatch to deny")
	}
	if (Requester{UserName: "bob", DeviceName: "alice-desk"}).CanMutate(info) {
		t.Errorf("Expected user mismatch to deny")
	}
	if !(Requester{Admin: true}).CanMutate(info) {
		t.Errorf("Expected admin to bypass ownership")
	}
}

func TestErrorCodes(t *testing.T) {
	err := Errorf(CodeNameConflict, "session %q already exists", "Alice")
	if !IsCode(err, CodeNameConflict) {
		t.Errorf("Expected IsCode to match")
	}
	if IsCode(err, CodeNotFound) {
		t.Errorf("Expected IsCode to reject other codes")
	}
	if code, ok := CodeOf(err); !ok || code != CodeNameConflict {
		t.Errorf("CodeOf = %v ok=%v", code, ok)
	}

	// Wrapping preserves both the cause chain and the code.
	cause := errors.New("disk full")
	wrapped := WrapStorage(CodeStorageIO, "failed to write blob", cause)
	if !errors.Is(wrapped, cause) {
		t.Errorf("Expected cause to survive wrapping")
	}
	if !IsCode(fmt.Errorf("outer: %w", wrapped), CodeStorageIO) {
		t.Errorf("Expected IsCode to traverse wrapping")
	}

	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Errorf("Expected no code for plain errors")
	}
	if IsCode(nil, CodeNotFound) {
		t.Errorf("Expected nil error to match nothing")
	}
}

func TestSidecarRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	info := &Info{
		SessionID:   uuid.New(),
		SessionName: "Alice",
		OwnerUser:   "alice",
		OwnerDevice: "alice-desk",
		Settings:    Settings{ProjectName: "Factory", ArchiveNameOverride: "Alice_Backup"},
		VersionHistory: []VersionInfo{
			{EngineVersion: "5.4.1", DataVersion: 12, RecordedAtUnix: 1700000000},
		},
	}

	if err := SaveSidecar(dir, info); err != nil {
		t.Fatalf("Failed to save sidecar: %v", err)
	}
	got, err := LoadSidecar(dir)
	if err != nil {
		t.Fatalf("Failed to load sidecar: %v", err)
	}
	if got.SessionID != info.SessionID || got.SessionName != info.SessionName {
		t.Errorf("Identity mismatch: %+v", got)
	}
	if got.Settings != info.Settings {
		t.Errorf("Settings mismatch: %+v", got.Settings)
	}
	if len(got.VersionHistory) != 1 || got.VersionHistory[0] != info.VersionHistory[0] {
		t.Errorf("Version history mismatch: %v", got.VersionHistory)
	}
}

func TestLoadSidecarMissing(t *testing.T) {
	if _, err := LoadSidecar(t.TempDir()); !IsCode(err, CodeNotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestLoadSidecarMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SidecarFilename), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadSidecar(dir); !IsCode(err, CodeStorageCorrupt) {
		t.Errorf("Expected StorageCorrupt, got %v", err)
	}
}
