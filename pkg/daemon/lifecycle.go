// Package daemon provides process lifecycle helpers for imgmond.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned when another imgmond instance holds the
// PID file.
var ErrAlreadyRunning = errors.New("imgmond is already running")

// AcquirePIDFile writes the current process ID to path after verifying no
// live instance holds it. A stale PID file left by a crashed process is
// silently replaced.
func AcquirePIDFile(path string) error {
	if IsRunning(path) {
		return fmt.Errorf("%w (pid file %s)", ErrAlreadyRunning, path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating pid directory: %w", err)
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReleasePIDFile removes the PID file.
func ReleasePIDFile(path string) error {
	return os.Remove(path)
}

// ReadPIDFile reads a PID from a file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", path, err)
	}

	return pid, nil
}

// IsRunning reports whether the process recorded in the PID file is alive.
func IsRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes for existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}
