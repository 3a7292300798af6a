package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDFileWritesOwnPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "imgmond.pid")

	require.NoError(t, AcquirePIDFile(path))
	t.Cleanup(func() { _ = ReleasePIDFile(path) })

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquirePIDFileRejectsLiveInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmond.pid")

	require.NoError(t, AcquirePIDFile(path))
	t.Cleanup(func() { _ = ReleasePIDFile(path) })

	err := AcquirePIDFile(path)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestAcquirePIDFileReplacesStalePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmond.pid")

	// PIDs wrap well below this on Linux, so it can't be a live process.
	require.NoError(t, os.WriteFile(path, []byte("4194305"), 0o644))

	require.NoError(t, AcquirePIDFile(path))
	t.Cleanup(func() { _ = ReleasePIDFile(path) })

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReleasePIDFileRemoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmond.pid")

	require.NoError(t, AcquirePIDFile(path))
	require.NoError(t, ReleasePIDFile(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReadPIDFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmond.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := ReadPIDFile(path)
	assert.Error(t, err)
}

func TestReadPIDFileTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmond.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestIsRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgmond.pid")

	assert.False(t, IsRunning(path), "missing pid file")

	require.NoError(t, AcquirePIDFile(path))
	assert.True(t, IsRunning(path), "own process")

	require.NoError(t, ReleasePIDFile(path))
	assert.False(t, IsRunning(path), "released pid file")
}
