// Package watcher observes a single directory for new and modified image
// files using filesystem notifications, with a directory scan as a backstop
// for missed events.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Byukusenge-Andrew/IoT-Image-Monitor/pkg/monitor/logging"
)

// Op identifies the kind of filesystem event.
type Op int

// Event kinds emitted by the watcher.
const (
	OpCreate Op = iota
	OpWrite
	OpRemove
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is a single qualifying filesystem event.
type Event struct {
	Path string
	Op   Op
}

// Subscription retry backoff bounds for a watch directory that does not
// exist yet at startup.
const (
	subscribeBaseBackoff = time.Second
	subscribeMaxBackoff  = 30 * time.Second
)

// Watcher watches one directory, non-recursively, for files whose
// extension is in the accepted set.
type Watcher struct {
	dir     string
	exts    map[string]struct{}
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	closed bool
}

// New creates a watcher for dir. The exts set holds lowercased extensions
// including the leading dot (".jpg"). The directory is not required to
// exist yet; Start retries subscription until it does.
func New(dir string, exts map[string]struct{}) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		dir:     absDir,
		exts:    exts,
		watcher: fsw,
	}, nil
}

// Dir returns the absolute path of the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start subscribes to the watch directory, retrying with capped exponential
// backoff while the directory does not exist. It returns once subscribed,
// or with the context error if cancelled first.
func (w *Watcher) Start(ctx context.Context) error {
	backoff := subscribeBaseBackoff
	for {
		err := w.watcher.Add(w.dir)
		if err == nil {
			logging.Get("watcher").Info("watching directory", "dir", w.dir)
			return nil
		}

		logging.Get("watcher").Warn("failed to watch directory, retrying",
			"dir", w.dir, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > subscribeMaxBackoff {
			backoff = subscribeMaxBackoff
		}
	}
}

// Run drains filesystem events and invokes onEvent for each qualifying
// one. It blocks until the context is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, onEvent func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event, onEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get("watcher").Error("watcher error", "error", err)
		}
	}
}

// handleEvent translates one fsnotify event, dropping events for paths
// outside the accepted extension set.
func (w *Watcher) handleEvent(event fsnotify.Event, onEvent func(Event)) {
	if !w.accepts(event.Name) {
		return
	}

	switch {
	case event.Op&fsnotify.Create != 0:
		if !isRegularFile(event.Name) {
			return
		}
		onEvent(Event{Path: event.Name, Op: OpCreate})
	case event.Op&fsnotify.Write != 0:
		if !isRegularFile(event.Name) {
			return
		}
		onEvent(Event{Path: event.Name, Op: OpWrite})
	case event.Op&fsnotify.Remove != 0:
		onEvent(Event{Path: event.Name, Op: OpRemove})
	case event.Op&fsnotify.Rename != 0:
		// A rename-away is a removal from our perspective; if the file
		// reappears under a new name it triggers its own create.
		onEvent(Event{Path: event.Name, Op: OpRemove})
	}
}

// Scan reads the directory once and emits a synthetic create event for
// every qualifying regular file. Used at startup to recover files that
// arrived while the process was down, and periodically as a backstop for
// notifications the OS silently dropped.
func (w *Watcher) Scan(onEvent func(Event)) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if !w.accepts(path) {
			continue
		}
		onEvent(Event{Path: path, Op: OpCreate})
	}

	return nil
}

// accepts reports whether the path's extension is in the accepted set.
// The match is case-insensitive.
func (w *Watcher) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := w.exts[ext]
	return ok
}

// isRegularFile reports whether path currently exists as a regular file.
// The file may legitimately vanish between the event and the stat.
func isRegularFile(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.watcher.Close()
}
