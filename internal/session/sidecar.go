package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SidecarFilename is the per-session summary file used for directory
// scanning without opening the full event log.
const SidecarFilename = "SessionInfo.json"

// SaveSidecar writes the session info summary into the session root.
func SaveSidecar(sessionRoot string, info *Info) error {
	if err := os.MkdirAll(sessionRoot, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(sessionRoot, SidecarFilename), data, 0644); err != nil {
		return WrapStorage(CodeStorageIO, "failed to write session sidecar", err)
	}
	return nil
}

// LoadSidecar reads the session info summary from a session root.
func LoadSidecar(sessionRoot string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(sessionRoot, SidecarFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Errorf(CodeNotFound, "no session sidecar in %s", sessionRoot)
		}
		return nil, WrapStorage(CodeStorageIO, "failed to read session sidecar", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, WrapStorage(CodeStorageCorrupt, "malformed session sidecar", err)
	}
	return &info, nil
}
