package blobcache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func blobPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("blob_%d.dat", i))
}

func TestSaveAndCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := New(4, 1<<20)

	path := filepath.Join(dir, "nested", "deep", "blob.dat")
	data := []byte("hello blob")
	if err := c.SaveAndCache(path, data); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	// On disk.
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read back file: %v", err)
	}
	if !bytes.Equal(onDisk, data) {
		t.Errorf("File contents mismatch: %q", onDisk)
	}

	// In cache: corrupt the file and confirm the cached copy is served.
	if err := os.WriteFile(path, []byte("corrupted"), 0644); err != nil {
		t.Fatalf("Failed to overwrite file: %v", err)
	}
	got, err := c.FindOrCache(path)
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Expected cached copy, got %q", got)
	}
}

func TestFindOrCacheDiskFallback(t *testing.T) {
	dir := t.TempDir()
	c := New(4, 1<<20)

	path := blobPath(dir, 1)
	if err := os.WriteFile(path, []byte("from disk"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	got, err := c.FindOrCache(path)
	if err != nil {
		t.Fatalf("Failed to find: %v", err)
	}
	if string(got) != "from disk" {
		t.Errorf("Contents mismatch: %q", got)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 cached entry, got %d", c.Len())
	}

	if _, err := c.FindOrCache(blobPath(dir, 99)); err == nil {
		t.Errorf("Expected error for missing file")
	}
}

func TestEvictionByByteBudget(t *testing.T) {
	dir := t.TempDir()
	// Budget fits two 100-byte blobs, min floor of one file.
	c := New(1, 200)
	data := bytes.Repeat([]byte("x"), 100)

	for i := 0; i < 3; i++ {
		if err := c.SaveAndCache(blobPath(dir, i), data); err != nil {
			t.Fatalf("Failed to save blob %d: %v", i, err)
		}
	}

	if c.Len() != 2 {
		t.Errorf("Expected 2 entries after eviction, got %d", c.Len())
	}
	if c.SizeBytes() != 200 {
		t.Errorf("Expected 200 cached bytes, got %d", c.SizeBytes())
	}

	// The oldest blob was evicted; reading it falls back to disk and
	// evicts the next oldest in turn.
	got, err := c.FindOrCache(blobPath(dir, 0))
	if err != nil {
		t.Fatalf("Failed to re-read evicted blob: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Re-read contents mismatch")
	}
	if c.Len() != 2 {
		t.Errorf("Expected cache to stay at 2 entries, got %d", c.Len())
	}
}

func TestMinFilesFloorBeatsByteBudget(t *testing.T) {
	dir := t.TempDir()
	// Budget of 10 bytes would evict everything, but the floor keeps 3.
	c := New(3, 10)
	data := bytes.Repeat([]byte("x"), 100)

	for i := 0; i < 5; i++ {
		if err := c.SaveAndCache(blobPath(dir, i), data); err != nil {
			t.Fatalf("Failed to save blob %d: %v", i, err)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Expected floor of 3 entries, got %d", c.Len())
	}
}

func TestLRUOrdering(t *testing.T) {
	dir := t.TempDir()
	c := New(1, 200)
	data := bytes.Repeat([]byte("x"), 100)

	for i := 0; i < 2; i++ {
		if err := c.SaveAndCache(blobPath(dir, i), data); err != nil {
			t.Fatalf("Failed to save blob %d: %v", i, err)
		}
	}

	// Touch blob 0 so blob 1 becomes the eviction candidate.
	if _, err := c.FindOrCache(blobPath(dir, 0)); err != nil {
		t.Fatalf("Failed to touch blob 0: %v", err)
	}
	if err := c.SaveAndCache(blobPath(dir, 2), data); err != nil {
		t.Fatalf("Failed to save blob 2: %v", err)
	}

	// Blob 1 must now come from disk; delete it to prove the cache misses.
	if err := os.Remove(blobPath(dir, 1)); err != nil {
		t.Fatalf("Failed to remove file: %v", err)
	}
	if _, err := c.FindOrCache(blobPath(dir, 1)); err == nil {
		t.Errorf("Expected miss for evicted blob 1")
	}
	if _, err := c.FindOrCache(blobPath(dir, 0)); err != nil {
		t.Errorf("Expected blob 0 to remain cached: %v", err)
	}
}

func TestForget(t *testing.T) {
	dir := t.TempDir()
	c := New(4, 1<<20)

	path := blobPath(dir, 1)
	if err := c.SaveAndCache(path, []byte("data")); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	c.Forget(path)

	if c.Len() != 0 || c.SizeBytes() != 0 {
		t.Errorf("Expected empty cache after forget, got len=%d bytes=%d", c.Len(), c.SizeBytes())
	}

	// Forgetting an unknown path is a no-op.
	c.Forget(blobPath(dir, 99))
}

func TestReplaceExistingEntry(t *testing.T) {
	dir := t.TempDir()
	c := New(4, 1<<20)

	path := blobPath(dir, 1)
	if err := c.SaveAndCache(path, bytes.Repeat([]byte("a"), 50)); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if err := c.SaveAndCache(path, bytes.Repeat([]byte("b"), 80)); err != nil {
		t.Fatalf("Failed to replace: %v", err)
	}

	if c.Len() != 1 {
		t.Errorf("Expected single entry, got %d", c.Len())
	}
	if c.SizeBytes() != 80 {
		t.Errorf("Expected 80 cached bytes after replace, got %d", c.SizeBytes())
	}
}
