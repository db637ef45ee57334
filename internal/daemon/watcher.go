package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/user/stow/internal/logging"
)

// DefaultDebounceInterval is how long the watcher waits after the last new
// job before signalling.
const DefaultDebounceInterval = 100 * time.Millisecond

// Watcher signals when jobs land in the spool directory. A burst of
// enqueues produces one signal.
type Watcher struct {
	dir      string
	onJobs   func()
	logger   *log.Logger
	debounce time.Duration

	fs        *fsnotify.Watcher
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches dir and calls onJobs, debounced, when a job file
// appears in it.
func NewWatcher(dir string, onJobs func(), logger *log.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Watcher{
		dir:      dir,
		onJobs:   onJobs,
		logger:   logger,
		debounce: DefaultDebounceInterval,
		fs:       fs,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start creates the spool directory if needed and begins watching.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.fs.Add(w.dir); err != nil {
		return err
	}
	w.logger.Debug("watching spool", "dir", w.dir)
	go w.loop()
	return nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.stop)
		w.fs.Close()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()

		<-w.done
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were dropped; a drain finds whatever is there.
				w.schedule()
				continue
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

// handle reacts to job files being created or renamed into place. Claims
// rename jobs away, which must not retrigger a drain.
func (w *Watcher) handle(event fsnotify.Event) {
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}
	if !strings.HasSuffix(event.Name, jobExt) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	w.schedule()
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stop:
		return
	default:
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	w.timer = nil
	w.mu.Unlock()
	w.onJobs()
}
