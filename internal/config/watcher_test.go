package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, yaml string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: warn\n")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != LogWarn {
		t.Errorf("initial log level = %q, want warn", got)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("NewWatcher succeeded for missing file")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	var mu sync.Mutex
	var oldLevel, newLevel LogLevel
	changed := make(chan struct{}, 1)

	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		oldLevel = old.Server.LogLevel
		newLevel = new.Server.LogLevel
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Ensure a distinct mtime even on coarse-grained filesystems.
	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "server:\n  log_level: debug\n")
	touchFuture(t, path)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("change not detected")
	}

	mu.Lock()
	defer mu.Unlock()
	if oldLevel != LogInfo || newLevel != LogDebug {
		t.Errorf("onChange levels = %q -> %q, want info -> debug", oldLevel, newLevel)
	}
	if w.Current().Server.LogLevel != LogDebug {
		t.Errorf("Current after change = %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidUpdateKeepsOldConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(_, _ *Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, "server:\n  log_level: shouting\n")
	touchFuture(t, path)

	select {
	case <-called:
		t.Fatal("onChange fired for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}

	if got := w.Current().Server.LogLevel; got != LogInfo {
		t.Errorf("Current after invalid update = %q, want the old config", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "server:\n  log_level: info\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}

// touchFuture bumps the file mtime past the watcher's last-seen value so the
// cheap mtime precheck cannot mask the content change.
func touchFuture(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}
