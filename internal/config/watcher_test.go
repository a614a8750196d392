package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policies.yaml", "whitelist:\n  enabled: true\n")

	fired := make(chan struct{}, 1)
	watcher, err := NewWatcher([]string{path}, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	// 给 watcher 一点时间建立监听。
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("whitelist:\n  enabled: false\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the write")
	}
}

func TestWatcherSkipsMissingPaths(t *testing.T) {
	dir := t.TempDir()
	present := writeFile(t, dir, "present.yaml", "x: 1\n")
	missing := filepath.Join(dir, "missing.yaml")

	watcher, err := NewWatcher([]string{present, missing}, func() {})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	paths := watcher.Paths()
	if len(paths) != 1 || paths[0] != present {
		t.Fatalf("missing paths must be skipped: %v", paths)
	}
}
