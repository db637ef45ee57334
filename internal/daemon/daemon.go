package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

const (
	// DefaultPIDFile is the PID file name inside the stow directory.
	DefaultPIDFile = "daemon.pid"
	// DefaultLogFile is the log file name.
	DefaultLogFile = "daemon.log"
	// DefaultStatusFile is the status file name.
	DefaultStatusFile = "daemon.status"

	// StopTimeout is how long Stop waits before killing the process.
	StopTimeout = 5 * time.Second
)

// Status is what the daemon reports about itself.
type Status struct {
	Running       bool      `json:"running"`
	PID           int       `json:"pid,omitempty"`
	StartTime     time.Time `json:"start_time,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds,omitempty"`
	LastDrain     time.Time `json:"last_drain,omitempty"`
	Jobs          Stats     `json:"jobs"`
	Pending       int       `json:"pending"`
	MemoryMB      float64   `json:"memory_mb,omitempty"`
}

// Daemon manages the background worker process of one stow directory.
type Daemon struct {
	baseDir    string
	pidFile    string
	logFile    string
	statusFile string
}

// New returns the manager for the stow directory baseDir.
func New(baseDir string) *Daemon {
	return &Daemon{
		baseDir:    baseDir,
		pidFile:    filepath.Join(baseDir, DefaultPIDFile),
		logFile:    filepath.Join(baseDir, DefaultLogFile),
		statusFile: filepath.Join(baseDir, DefaultStatusFile),
	}
}

func (d *Daemon) BaseDir() string    { return d.baseDir }
func (d *Daemon) PIDFile() string    { return d.pidFile }
func (d *Daemon) LogFile() string    { return d.logFile }
func (d *Daemon) StatusFile() string { return d.statusFile }

// IsRunning reports whether the daemon is running and its PID. A stale PID
// file is removed.
func (d *Daemon) IsRunning() (bool, int) {
	if cleaned, _ := CleanStalePID(d.pidFile); cleaned {
		return false, 0
	}
	pid, err := ReadPID(d.pidFile)
	if err != nil {
		return false, 0
	}
	if !IsProcessRunning(pid) {
		_ = RemovePID(d.pidFile)
		return false, 0
	}
	return true, pid
}

// Start launches `stow daemon run` detached from the terminal. Starting a
// running daemon is a no-op.
func (d *Daemon) Start() (int, error) {
	if running, pid := d.IsRunning(); running {
		return pid, nil
	}
	if err := os.MkdirAll(d.baseDir, 0755); err != nil {
		return 0, fmt.Errorf("creating stow directory: %w", err)
	}
	execPath, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("getting executable path: %w", err)
	}

	cmd := exec.Command(execPath, "daemon", "run")
	cmd.Dir = filepath.Dir(d.baseDir)
	cmd.Env = append(os.Environ(), "STOW_DIR="+d.baseDir)

	// Output before the process has its logger (panics, flag errors).
	logFile, err := os.OpenFile(d.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon process: %w", err)
	}
	pid := cmd.Process.Pid
	if err := WritePID(d.pidFile, pid); err != nil {
		_ = cmd.Process.Kill()
		return 0, fmt.Errorf("writing pid file: %w", err)
	}
	_ = d.writeStatus(&Status{Running: true, PID: pid, StartTime: time.Now()})
	// The child is not waited on; release it so it is not left a zombie
	// while this process lives.
	_ = cmd.Process.Release()
	return pid, nil
}

// Stop sends SIGTERM and waits up to StopTimeout before killing the
// process. Stopping a daemon that is not running is a no-op.
func (d *Daemon) Stop() error {
	running, pid := d.IsRunning()
	if !running {
		_ = RemovePID(d.pidFile)
		return nil
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		_ = RemovePID(d.pidFile)
		return nil
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		_ = RemovePID(d.pidFile)
		return nil
	}

	deadline := time.Now().Add(StopTimeout)
	for IsProcessRunning(pid) {
		if time.Now().After(deadline) {
			_ = process.Kill()
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := RemovePID(d.pidFile); err != nil {
		return err
	}
	_ = os.Remove(d.statusFile)
	return nil
}

// GetStatus returns the daemon status, merging the status file into what
// the PID file says.
func (d *Daemon) GetStatus() (*Status, error) {
	running, pid := d.IsRunning()
	if !running {
		return &Status{Running: false}, nil
	}
	status, err := d.readStatus()
	if err != nil {
		return &Status{Running: true, PID: pid}, nil
	}
	status.Running = true
	status.PID = pid
	if !status.StartTime.IsZero() {
		status.UptimeSeconds = int64(time.Since(status.StartTime).Seconds())
	}
	status.MemoryMB = getProcessMemory(pid)
	return status, nil
}

func (d *Daemon) readStatus() (*Status, error) {
	data, err := os.ReadFile(d.statusFile)
	if err != nil {
		return nil, err
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (d *Daemon) writeStatus(status *Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	tmp := d.statusFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, d.statusFile)
}

// UpdateStatus records a drain. It is called by the daemon process.
func (d *Daemon) UpdateStatus(lastDrain time.Time, jobs Stats, pending int) error {
	status, err := d.readStatus()
	if err != nil {
		status = &Status{Running: true, PID: os.Getpid(), StartTime: time.Now()}
	}
	status.LastDrain = lastDrain
	status.Jobs = jobs
	status.Pending = pending
	return d.writeStatus(status)
}

// getProcessMemory reads resident memory from /proc; 0 where that is
// unavailable.
func getProcessMemory(pid int) float64 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0
	}
	var size, resident int64
	if _, err := fmt.Sscanf(string(data), "%d %d", &size, &resident); err != nil {
		return 0
	}
	return float64(resident*int64(os.Getpagesize())) / (1024 * 1024)
}

// LogExists reports whether the daemon has written a log.
func (d *Daemon) LogExists() bool {
	_, err := os.Stat(d.logFile)
	return !errors.Is(err, os.ErrNotExist)
}
