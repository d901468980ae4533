package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvRoot, "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if cfg.Server.Root != "collabsync-data" {
		t.Errorf("Expected default root, got %q", cfg.Server.Root)
	}
	if cfg.Server.NumSessionsToKeep != -1 {
		t.Errorf("Expected keep-all default, got %d", cfg.Server.NumSessionsToKeep)
	}
	if cfg.Storage.TransactionCacheMinFiles != 10 || cfg.Storage.PackageCacheMaxBytes != 200*1024*1024 {
		t.Errorf("Storage defaults mismatch: %+v", cfg.Storage)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected info level, got %q", cfg.Logging.Level)
	}
}

func TestLoadYamlOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabsync.yaml")
	content := `
server:
  root: /srv/collab
  auto_archive_on_reboot: true
  num_sessions_to_keep: 5
storage:
  transaction_cache_min_files: 3
logging:
  level: debug
  debug_mode: true
  categories:
    eventlog: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if cfg.Server.Root != "/srv/collab" || !cfg.Server.AutoArchiveOnReboot || cfg.Server.NumSessionsToKeep != 5 {
		t.Errorf("Server config mismatch: %+v", cfg.Server)
	}
	if cfg.Storage.TransactionCacheMinFiles != 3 {
		t.Errorf("Expected overridden min files, got %d", cfg.Storage.TransactionCacheMinFiles)
	}
	// Unset fields still fall back to defaults.
	if cfg.Storage.TransactionCacheMaxBytes != 50*1024*1024 {
		t.Errorf("Expected default max bytes, got %d", cfg.Storage.TransactionCacheMaxBytes)
	}
	if !cfg.Logging.DebugMode || !cfg.Logging.Categories["eventlog"] {
		t.Errorf("Logging config mismatch: %+v", cfg.Logging)
	}
}

func TestLoadEnvRootOverride(t *testing.T) {
	t.Setenv(EnvRoot, "/env/root")

	path := filepath.Join(t.TempDir(), "collabsync.yaml")
	if err := os.WriteFile(path, []byte("server:\n  root: /file/root\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if cfg.Server.Root != "/env/root" {
		t.Errorf("Expected env override, got %q", cfg.Server.Root)
	}
}

func TestLoadRejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabsync.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("Expected error for unknown level")
	}
}

func TestLoadRejectsMalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collabsync.yaml")
	if err := os.WriteFile(path, []byte(":\n  - ["), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("Expected error for malformed yaml")
	}
}

func TestDirectories(t *testing.T) {
	cfg := Default()
	cfg.Server.Root = "/srv/collab"
	if cfg.LiveDir() != filepath.Join("/srv/collab", "Live") {
		t.Errorf("LiveDir mismatch: %q", cfg.LiveDir())
	}
	if cfg.ArchiveDir() != filepath.Join("/srv/collab", "Archive") {
		t.Errorf("ArchiveDir mismatch: %q", cfg.ArchiveDir())
	}
}
