// Package daemon runs background attachment jobs: a file spool that any
// stow process can enqueue into, a worker pool that drains it, and the
// management of a detached process doing the draining.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrPIDFileNotFound indicates the PID file does not exist.
	ErrPIDFileNotFound = errors.New("pid file not found")
	// ErrInvalidPID indicates the PID file holds no usable PID.
	ErrInvalidPID = errors.New("invalid pid in file")
	// ErrAlreadyRunning is returned when another live process owns the
	// PID file.
	ErrAlreadyRunning = errors.New("daemon already running")
)

// WritePID writes pid to path.
func WritePID(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644)
}

// ReadPID reads the PID in path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrPIDFileNotFound
		}
		return 0, fmt.Errorf("reading pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrInvalidPID
	}
	return pid, nil
}

// RemovePID removes path. A missing file is not an error.
func RemovePID(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}

// IsProcessRunning reports whether pid is alive.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// FindProcess always succeeds on Unix; signal 0 checks liveness.
	return process.Signal(syscall.Signal(0)) == nil
}

// CleanStalePID removes path if it is unreadable or names a dead process.
// It reports whether the file was removed.
func CleanStalePID(path string) (bool, error) {
	pid, err := ReadPID(path)
	switch {
	case errors.Is(err, ErrPIDFileNotFound):
		return false, nil
	case errors.Is(err, ErrInvalidPID):
		return true, RemovePID(path)
	case err != nil:
		return false, err
	}
	if IsProcessRunning(pid) {
		return false, nil
	}
	return true, RemovePID(path)
}

// AcquirePID records the current process in path. It fails with
// ErrAlreadyRunning when a different live process is recorded there.
func AcquirePID(path string) error {
	if _, err := CleanStalePID(path); err != nil {
		return err
	}
	pid, err := ReadPID(path)
	if err == nil && pid != os.Getpid() {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	return WritePID(path, os.Getpid())
}

// ReleasePID removes path if it still names the current process.
func ReleasePID(path string) error {
	if pid, err := ReadPID(path); err == nil && pid == os.Getpid() {
		return RemovePID(path)
	}
	return nil
}
