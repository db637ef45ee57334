package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DrainInterval is how often the spool is drained without a watcher
	// signal. It also picks up jobs whose backoff has expired.
	DrainInterval = 5 * time.Second
	// MaxLogSize is the log size that triggers rotation (10MB).
	MaxLogSize = 10 * 1024 * 1024
	// MaxLogFiles is the number of rotated logs kept.
	MaxLogFiles = 3
)

// ProcessConfig wires the process to a spool.
type ProcessConfig struct {
	Spool       *Spool
	Resolve     Resolver
	Concurrency int
	// Output replaces the log file, for running in the foreground.
	Output io.Writer
}

// Process is the running daemon: it drains the spool whenever jobs
// arrive and on a timer.
type Process struct {
	daemon *Daemon
	cfg    ProcessConfig
	out    *logWriter
	logger *log.Logger
	worker *Worker

	stopOnce sync.Once
	stop     chan struct{}
	kick     chan struct{}

	totals Stats
}

// logWriter lets rotation swap the file under loggers derived with With.
type logWriter struct {
	mu sync.Mutex
	w  io.Writer
	f  *os.File
}

func (l *logWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// NewProcess returns a process for the stow directory baseDir.
func NewProcess(baseDir string, cfg ProcessConfig) *Process {
	return &Process{
		daemon: New(baseDir),
		cfg:    cfg,
		stop:   make(chan struct{}),
		kick:   make(chan struct{}, 1),
	}
}

// Run drains the spool until ctx ends, Stop is called or the process gets
// SIGTERM or SIGINT.
func (p *Process) Run(ctx context.Context) error {
	if err := p.setupLogging(); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer p.closeLogging()

	if err := AcquirePID(p.daemon.PIDFile()); err != nil {
		return err
	}
	defer ReleasePID(p.daemon.PIDFile())

	p.logger.Info("daemon starting", "pid", os.Getpid(), "spool", p.cfg.Spool.Dir())
	p.worker = NewWorker(p.cfg.Spool, p.cfg.Resolve,
		WithConcurrency(p.cfg.Concurrency), WithLogger(p.logger))

	if n, err := p.cfg.Spool.Recover(); err != nil {
		p.logger.Warn("could not recover claimed jobs", "err", err)
	} else if n > 0 {
		p.logger.Info("recovered interrupted jobs", "count", n)
	}

	watcher, err := NewWatcher(p.cfg.Spool.Dir(), p.signal, p.logger)
	if err == nil {
		err = watcher.Start()
	}
	if err != nil {
		p.logger.Warn("could not watch spool, falling back to polling", "err", err)
	} else {
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			p.logger.Info("received signal, shutting down", "signal", sig)
		case <-p.stop:
			p.logger.Info("stop requested, shutting down")
		case <-ctx.Done():
		}
		cancel()
	}()

	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()

	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("daemon stopped", "done", p.totals.Done, "failed", p.totals.DeadLettered)
			return nil
		case <-p.kick:
			p.drain(ctx)
		case <-ticker.C:
			p.drain(ctx)
			p.checkLogRotation()
		}
	}
}

// Stop asks Run to return.
func (p *Process) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *Process) signal() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Process) drain(ctx context.Context) {
	stats, err := p.worker.Drain(ctx)
	if err != nil {
		p.logger.Error("drain failed", "err", err)
	}
	if stats.Total() > 0 {
		p.logger.Info("drained spool", "done", stats.Done, "abandoned", stats.Abandoned,
			"retried", stats.Retried, "failed", stats.DeadLettered)
	}
	p.totals.add(stats)
	p.updateStatus()
}

func (p *Process) updateStatus() {
	pending, err := p.cfg.Spool.Pending()
	if err != nil {
		p.logger.Warn("could not count pending jobs", "err", err)
	}
	if err := p.daemon.UpdateStatus(time.Now(), p.totals, pending); err != nil {
		p.logger.Warn("could not update status", "err", err)
	}
}

func (p *Process) setupLogging() error {
	if p.cfg.Output != nil {
		p.out = &logWriter{w: p.cfg.Output}
	} else {
		f, err := os.OpenFile(p.daemon.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		p.out = &logWriter{w: f, f: f}
	}
	p.logger = log.NewWithOptions(p.out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "stow-daemon",
	})
	return nil
}

func (p *Process) closeLogging() {
	if p.out != nil && p.out.f != nil {
		p.out.f.Close()
	}
}

func (p *Process) checkLogRotation() {
	if p.out == nil || p.out.f == nil {
		return
	}
	info, err := p.out.f.Stat()
	if err != nil || info.Size() < MaxLogSize {
		return
	}
	p.logger.Info("rotating log file")
	if err := p.rotateLog(); err != nil {
		p.logger.Error("could not rotate log", "err", err)
	}
}

// rotateLog shifts daemon.log to daemon.log.1 and so on, keeping
// MaxLogFiles old logs.
func (p *Process) rotateLog() error {
	logPath := p.daemon.LogFile()

	p.out.mu.Lock()
	defer p.out.mu.Unlock()
	p.out.f.Close()

	_ = os.Remove(fmt.Sprintf("%s.%d", logPath, MaxLogFiles))
	for i := MaxLogFiles - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", logPath, i), fmt.Sprintf("%s.%d", logPath, i+1))
	}
	_ = os.Rename(logPath, logPath+".1")

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		p.out.w = io.Discard
		p.out.f = nil
		return err
	}
	p.out.w = f
	p.out.f = f
	return nil
}

// TailLog returns the last n lines of the log at logPath.
func TailLog(logPath string, n int) ([]string, error) {
	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= n {
		return lines, nil
	}
	return lines[len(lines)-n:], nil
}
