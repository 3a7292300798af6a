package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func imageExts() map[string]struct{} {
	return map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}}
}

// collector gathers watcher events.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) has(path string, op Op) bool {
	for _, ev := range c.snapshot() {
		if ev.Path == path && ev.Op == op {
			return true
		}
	}
	return false
}

func newTestWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(dir, imageExts())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestStartExistingDirectory(t *testing.T) {
	w := newTestWatcher(t, t.TempDir())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))
}

func TestStartWaitsForDirectory(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "cam")
	w := newTestWatcher(t, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	// Create the directory after a beat; Start should then succeed.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Mkdir(dir, 0o755))

	require.NoError(t, <-done)
}

func TestStartCancelled(t *testing.T) {
	w := newTestWatcher(t, filepath.Join(t.TempDir(), "never-created"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := w.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunDetectsCreate(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	col := &collector{}
	go w.Run(ctx, col.add)

	path := filepath.Join(dir, "shot.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpegdata"), 0o644))

	require.Eventually(t, func() bool {
		return col.has(path, OpCreate) || col.has(path, OpWrite)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunFiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	col := &collector{}
	go w.Run(ctx, col.add)

	accepted := filepath.Join(dir, "keep.PNG") // case-insensitive match
	rejected := filepath.Join(dir, "skip.gif")
	require.NoError(t, os.WriteFile(rejected, []byte("gifdata"), 0o644))
	require.NoError(t, os.WriteFile(accepted, []byte("pngdata"), 0o644))

	require.Eventually(t, func() bool {
		return col.has(accepted, OpCreate) || col.has(accepted, OpWrite)
	}, 2*time.Second, 10*time.Millisecond)

	for _, ev := range col.snapshot() {
		assert.NotEqual(t, rejected, ev.Path, "rejected extension must never be emitted")
	}
}

func TestRunDetectsRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpegdata"), 0o644))

	w := newTestWatcher(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	col := &collector{}
	go w.Run(ctx, col.add)

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return col.has(path, OpRemove)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.JPEG"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755)) // dir with image suffix

	w := newTestWatcher(t, dir)

	col := &collector{}
	require.NoError(t, w.Scan(col.add))

	events := col.snapshot()
	require.Len(t, events, 2)
	assert.True(t, col.has(filepath.Join(dir, "a.jpg"), OpCreate))
	assert.True(t, col.has(filepath.Join(dir, "b.JPEG"), OpCreate))
}

func TestScanMissingDirectory(t *testing.T) {
	w := newTestWatcher(t, filepath.Join(t.TempDir(), "missing"))
	err := w.Scan(func(Event) {})
	require.Error(t, err)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "remove", OpRemove.String())
}
