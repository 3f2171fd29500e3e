package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airdial.yaml")
	writeConfig(t, path, "audio:\n  sample_rate: 8000\n")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Audio.SampleRate; got != 8000 {
		t.Errorf("SampleRate = %d, want 8000", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airdial.yaml")
	writeConfig(t, path, "audio:\n  silence_threshold: 0.005\n")

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, func(_, cfg *Config) { changed <- cfg }, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Backdate mtime detection by rewriting with different content.
	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "audio:\n  silence_threshold: 0.02\n")
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Audio.SilenceThreshold != 0.02 {
			t.Errorf("SilenceThreshold = %g, want 0.02", cfg.Audio.SilenceThreshold)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the change")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airdial.yaml")
	writeConfig(t, path, "audio:\n  sample_rate: 8000\n")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "audio:\n  sample_rate: -5\n")
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	// Give the watcher a few polls to (not) pick it up.
	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Audio.SampleRate; got != 8000 {
		t.Errorf("SampleRate = %d, want previous valid value 8000", got)
	}
}
