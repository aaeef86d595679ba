package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type watchedConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadWatched(path string) (watchedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return watchedConfig{}, err
	}
	var cfg watchedConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher(t *testing.T, path string, opts ...WatcherOption[watchedConfig]) *Watcher[watchedConfig] {
	t.Helper()
	opts = append([]WatcherOption[watchedConfig]{WithDebounce[watchedConfig](50 * time.Millisecond)}, opts...)
	w := NewWatcher(path, loadWatched, newTestLogger(), opts...)
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return w
}

func TestWatcher_Reload(t *testing.T) {
	path := writeFile(t, "pipeline.toml", "name = \"initial\"\nvalue = 1\n")

	received := make(chan watchedConfig, 1)
	w := startWatcher(t, path)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte("name = \"updated\"\nvalue = 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Name != "updated" || cfg.Value != 42 {
			t.Errorf("got %+v, want name=updated, value=42", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcher_ReplacedByRename(t *testing.T) {
	path := writeFile(t, "pipeline.toml", "value = 1\n")

	received := make(chan watchedConfig, 1)
	w := startWatcher(t, path)
	w.OnReload(func(cfg watchedConfig) { received <- cfg })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	tmp := filepath.Join(filepath.Dir(path), ".pipeline.toml.swp")
	if err := os.WriteFile(tmp, []byte("value = 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Value != 7 {
			t.Errorf("expected value 7, got %d", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	path := writeFile(t, "pipeline.toml", "value = 1\n")

	var calls atomic.Int32
	w := startWatcher(t, path)
	w.OnReload(func(watchedConfig) { calls.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	sibling := filepath.Join(filepath.Dir(path), "other.toml")
	if err := os.WriteFile(sibling, []byte("value = 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if got := calls.Load(); got != 0 {
		t.Errorf("expected no reloads, got %d", got)
	}
}

func TestWatcher_Unsubscribe(t *testing.T) {
	path := writeFile(t, "pipeline.toml", "value = 1\n")

	var count1, count2 atomic.Int32
	w := startWatcher(t, path)
	w.OnReload(func(watchedConfig) { count1.Add(1) })
	unsub := w.OnReload(func(watchedConfig) { count2.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte("value = 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	unsub()
	unsub()

	if err := os.WriteFile(path, []byte("value = 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if got := count1.Load(); got != 2 {
		t.Errorf("handler1: expected 2 calls, got %d", got)
	}
	if got := count2.Load(); got != 1 {
		t.Errorf("handler2: expected 1 call, got %d", got)
	}
}

func TestWatcher_ErrorHandler(t *testing.T) {
	path := writeFile(t, "pipeline.toml", "value = 1\n")

	errs := make(chan error, 1)
	configs := make(chan watchedConfig, 1)
	w := startWatcher(t, path, WithErrorHandler[watchedConfig](func(err error) { errs <- err }))
	w.OnReload(func(cfg watchedConfig) { configs <- cfg })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(path, []byte("invalid toml [[["), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-errs:
	case <-configs:
		t.Fatal("handler should not run on load error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestWatcher_Debounce(t *testing.T) {
	path := writeFile(t, "pipeline.toml", "value = 0\n")

	var count, last atomic.Int32
	w := startWatcher(t, path, WithDebounce[watchedConfig](200*time.Millisecond))
	w.OnReload(func(cfg watchedConfig) {
		count.Add(1)
		last.Store(int32(cfg.Value))
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(path, fmt.Appendf(nil, "value = %d\n", i), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(30 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("expected final value 5, got %d", got)
	}
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w := NewWatcher("/nonexistent/pipeline.toml", loadWatched, newTestLogger())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop without Start: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("Expected error watching a missing directory")
	}
}
