package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultPollInterval is how often the watcher re-examines the file when no
// interval override is given.
const defaultPollInterval = 5 * time.Second

// snapshot is one successfully loaded config together with the file state it
// was read from. The hash guards against mtime-only touches; the mtime makes
// the common no-change poll a single stat call.
type snapshot struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and invokes a callback whenever its content
// changes and still parses and validates. An update that fails to load is
// logged and ignored; the previous config stays in effect.
//
// Polling is deliberate: none of the pipeline's collaborators need sub-second
// reload latency, and it avoids platform-specific file notification APIs.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu   sync.Mutex
	last snapshot

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the polling interval. Non-positive values are
// ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts a background poller. The
// initial load must succeed; a missing or invalid file at startup is an
// error, not something to retry into.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap

	go w.run()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop terminates the poller. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-tick.C:
			if prev, next, changed := w.reload(); changed && w.onChange != nil {
				// Outside the lock so the callback may call Current().
				w.onChange(prev, next)
			}
		}
	}
}

// reload re-reads the file if its mtime moved and swaps in the new config
// when the content really differs. Returns the old and new configs when a
// swap happened.
func (w *Watcher) reload() (prev, next *Config, changed bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return nil, nil, false
	}

	snap, err := w.read()
	if err != nil {
		slog.Warn("config watcher: reload rejected, keeping previous config",
			"path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if snap.hash == w.last.hash {
		// Touched but identical. Remember the mtime so the next poll is
		// a stat again.
		w.last.mtime = snap.mtime
		return nil, nil, false
	}

	prev = w.last.cfg
	w.last = snap
	slog.Info("config reloaded", "path", w.path)
	return prev, snap.cfg, true
}

// read loads, parses, and validates the file, capturing the content hash and
// mtime it was read at.
func (w *Watcher) read() (snapshot, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}

	return snapshot{cfg: cfg, hash: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
