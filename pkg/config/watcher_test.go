// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// replaceFile swaps content in atomically with a modification time one
// second ahead, so the watcher sees exactly one change even on filesystems
// with coarse timestamps.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	writeFile(t, tmp, content)
	ts := time.Now().Add(time.Second)
	if err := os.Chtimes(tmp, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}
}

func TestWatcherDetectsChanges(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "arbiter:\n  switch_threshold: 0.05\n")

	watcher, err := NewWatcher(Options{Path: configPath}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	changes := make(chan *Config, 4)
	watcher.OnChange(func(cfg *Config) {
		changes <- cfg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher.Start(ctx)
	defer watcher.Stop()

	if got := watcher.Config().Arbiter.SwitchThreshold; got != 0.05 {
		t.Errorf("expected threshold 0.05, got %v", got)
	}

	replaceFile(t, configPath, "arbiter:\n  switch_threshold: 0.2\n")

	select {
	case newCfg := <-changes:
		if newCfg.Arbiter.SwitchThreshold != 0.2 {
			t.Errorf("expected threshold 0.2, got %v", newCfg.Arbiter.SwitchThreshold)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config change notification")
	}
	if got := watcher.Config().Arbiter.SwitchThreshold; got != 0.2 {
		t.Errorf("Config() not updated, got %v", got)
	}
}

func TestWatcherMultipleListeners(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "log:\n  level: info\n")

	watcher, err := NewWatcher(Options{Path: configPath}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	var count1, count2 atomic.Int32
	done := make(chan struct{}, 1)
	watcher.OnChange(func(*Config) { count1.Add(1) })
	watcher.OnChange(func(*Config) {
		count2.Add(1)
		done <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)

	replaceFile(t, configPath, "log:\n  level: debug\n")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for listeners")
	}
	watcher.Stop()

	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("expected both listeners called once, got count1=%d, count2=%d", count1.Load(), count2.Load())
	}
}

func TestWatcherIgnoresInvalidReload(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "arbiter:\n  switch_threshold: 0.05\n")

	watcher, err := NewWatcher(Options{Path: configPath}, WithWatchInterval(time.Hour))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	called := false
	watcher.OnChange(func(*Config) { called = true })

	replaceFile(t, configPath, "arbiter:\n  switch_threshold: -3\n")
	if !watcher.checkForChanges() {
		t.Fatal("expected a change to be detected")
	}
	watcher.reload(context.Background())

	if called {
		t.Error("listener called for an invalid config")
	}
	if got := watcher.Config().Arbiter.SwitchThreshold; got != 0.05 {
		t.Errorf("invalid reload replaced config, threshold %v", got)
	}
}

func TestWatcherStops(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "log: {}\n")

	watcher, err := NewWatcher(Options{Path: configPath}, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	watcher.Start(context.Background())

	done := make(chan struct{})
	go func() {
		watcher.Stop()
		watcher.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("watcher.Stop() did not complete in time")
	}
}

func TestWatchConfigWithProfile(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "config.yaml")
	writeFile(t, basePath, "log:\n  level: info\n")
	writeFile(t, filepath.Join(tmpDir, "config.dev.yaml"), "log:\n  level: debug\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, cfg, err := WatchConfig(ctx, Options{Path: basePath, Profile: "dev"}, WithWatchInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to watch config: %v", err)
	}
	defer watcher.Stop()

	if cfg.Log.Level != "debug" {
		t.Errorf("expected level from profile overlay, got %q", cfg.Log.Level)
	}
	if len(watcher.Paths()) != 2 {
		t.Errorf("expected base and overlay to be watched, got %v", watcher.Paths())
	}
}
