// Package archiver relocates uploaded files into the archive directory,
// which doubles as the durable record of completed work.
package archiver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Archiver moves files out of the watch directory after upload. Moving out
// of (rather than within) the watched directory guarantees the move cannot
// re-trigger the watcher as a new creation.
type Archiver struct {
	dir string
}

// New creates an archiver targeting dir, creating it if necessary and
// verifying it is writable. Failing either is fatal to the pipeline since
// uploads could never complete.
func New(dir string) (*Archiver, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}

	// Probe writability up front rather than discovering it on the
	// first completed upload.
	probe, err := os.CreateTemp(absDir, ".imgmon-probe-*")
	if err != nil {
		return nil, fmt.Errorf("archive directory not writable: %w", err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	return &Archiver{dir: absDir}, nil
}

// Dir returns the absolute archive directory path.
func (a *Archiver) Dir() string {
	return a.dir
}

// Archive moves path into the archive directory, preserving the filename.
// If a file of the same name already exists there, a counter suffix is
// appended ("photo_1.jpg", "photo_2.jpg", ...) so nothing is overwritten.
// Returns the final destination path.
func (a *Archiver) Archive(path string) (string, error) {
	name := filepath.Base(path)
	dest := filepath.Join(a.dir, name)

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for counter := 1; exists(dest); counter++ {
		dest = filepath.Join(a.dir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}

	if err := move(path, dest); err != nil {
		return "", fmt.Errorf("archiving %s: %w", path, err)
	}

	return dest, nil
}

// exists reports whether a path exists.
func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// move renames src to dest, falling back to copy-and-remove when the
// archive directory lives on a different filesystem.
func move(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}

	if !isCrossDevice(err) {
		return err
	}

	if err := copyFile(src, dest); err != nil {
		return err
	}
	return os.Remove(src)
}

// isCrossDevice reports whether a rename failed because source and
// destination are on different filesystems.
func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

// copyFile copies src to dest preserving the source's permission bits.
func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}

	return out.Close()
}
