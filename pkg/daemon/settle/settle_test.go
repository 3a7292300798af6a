package settle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects settle callbacks.
type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) callback(path string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func TestFiresAfterDelay(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(20*time.Millisecond, rec.callback)
	defer s.Close()

	s.Arm("/cam/a.jpg")
	assert.True(t, s.IsPending("/cam/a.jpg"))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.IsPending("/cam/a.jpg"))
}

func TestReArmResetsTimer(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(60*time.Millisecond, rec.callback)
	defer s.Close()

	s.Arm("/cam/a.jpg")
	time.Sleep(40 * time.Millisecond)
	s.Arm("/cam/a.jpg")
	time.Sleep(40 * time.Millisecond)

	// 80ms after the first arm, but only 40ms after the second: the
	// original timer must not have fired.
	assert.Equal(t, 0, rec.count())

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBurstFiresOnce(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(20*time.Millisecond, rec.callback)
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Arm("/cam/a.jpg")
	}
	assert.Equal(t, 1, s.PendingCount())

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	// Nothing further fires.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestCancel(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(20*time.Millisecond, rec.callback)
	defer s.Close()

	s.Arm("/cam/a.jpg")
	s.Cancel("/cam/a.jpg")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, 0, s.PendingCount())
}

func TestCloseCancelsAll(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(20*time.Millisecond, rec.callback)

	s.Arm("/cam/a.jpg")
	s.Arm("/cam/b.jpg")
	s.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())

	// Arming after close is a no-op.
	s.Arm("/cam/c.jpg")
	assert.Equal(t, 0, s.PendingCount())
}

func TestIndependentPaths(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(20*time.Millisecond, rec.callback)
	defer s.Close()

	s.Arm("/cam/a.jpg")
	s.Arm("/cam/b.jpg")
	assert.Equal(t, 2, s.PendingCount())

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
}
