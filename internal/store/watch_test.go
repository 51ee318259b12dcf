package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func waitForCount(t *testing.T, s *Store, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Count() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("store never reached %d specs (have %d)", want, s.Count())
}

func TestWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "", nil, nil)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	target := New(nil, fs, nil)
	if err := target.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if target.Count() != 0 {
		t.Fatalf("expected an empty registry")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher, err := Watch(ctx, fs, target, func(err error) {
		t.Logf("watch error: %v", err)
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer watcher.Stop()

	writeSpecFile(t, dir, "new.json", validSpecJSON)
	waitForCount(t, target, 1)

	if err := os.Remove(filepath.Join(dir, "new.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitForCount(t, target, 0)
}

func TestWatchStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "", nil, nil)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	target := New(nil, fs, nil)

	watcher, err := Watch(context.Background(), fs, target, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	watcher.Stop()
	watcher.Stop()
}

func TestWatchRequiresStores(t *testing.T) {
	if _, err := Watch(context.Background(), nil, nil, nil); err == nil {
		t.Fatalf("expected error for missing stores")
	}
}
