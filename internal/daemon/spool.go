package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/stow/internal/attacher"
)

const (
	// DefaultSpoolDir is the job directory inside .stow.
	DefaultSpoolDir = "jobs"
	// DefaultMaxAttempts is how often a job runs before it is dead-lettered.
	DefaultMaxAttempts = 5

	jobExt     = ".json"
	workingExt = ".working"
	failedDir  = "failed"
	tmpDir     = ".tmp"
)

// Spool is a directory-backed job queue shared by every stow process.
// Each job is one JSON file; claiming a job renames it, which only one
// process can win.
type Spool struct {
	dir         string
	maxAttempts int
}

// Claim is a job taken off the spool. It must be Acked or Nacked.
type Claim struct {
	Job  attacher.Job
	path string
}

// failedJob is what lands in the dead-letter directory.
type failedJob struct {
	attacher.Job
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// NewSpool returns a spool rooted at dir.
func NewSpool(dir string, maxAttempts int) *Spool {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Spool{dir: dir, maxAttempts: maxAttempts}
}

// Dir returns the spool directory.
func (s *Spool) Dir() string {
	return s.dir
}

// Enqueue writes job to the spool. Its signature matches attacher.JobHook.
func (s *Spool) Enqueue(_ context.Context, job attacher.Job) error {
	return s.write(s.dir, fileName(job, job.EnqueuedAt), job)
}

// fileName leads with the time the job becomes due, so sorted names give
// claim order and jobs backing off sort after everything due now.
func fileName(job attacher.Job, due time.Time) string {
	return fmt.Sprintf("%020d-%s%s", due.UnixNano(), job.ID, jobExt)
}

func dueTime(name string) (time.Time, bool) {
	prefix, _, ok := strings.Cut(name, "-")
	if !ok {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// Backoff is the delay before retry attempt n (1-based).
func Backoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * time.Second
}

// write places v in dir/name through a temp file and a rename, so readers
// never see a partial job.
func (s *Spool) write(dir, name string, v interface{}) error {
	tmp := filepath.Join(s.dir, tmpDir)
	if err := os.MkdirAll(tmp, 0755); err != nil {
		return fmt.Errorf("create spool: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create spool: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	f, err := os.CreateTemp(tmp, "job-*")
	if err != nil {
		return fmt.Errorf("create job file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write job: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync job: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), filepath.Join(dir, name))
}

// queued lists waiting job files, oldest first.
func (s *Spool) queued() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), jobExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Claim takes the oldest job that is due. It returns nil when nothing is.
func (s *Spool) Claim() (*Claim, error) {
	names, err := s.queued()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, name := range names {
		if due, ok := dueTime(name); ok && due.After(now) {
			break
		}
		src := filepath.Join(s.dir, name)
		dst := src + workingExt
		if err := os.Rename(src, dst); err != nil {
			// Another worker won the race.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("claim job: %w", err)
		}
		data, err := os.ReadFile(dst)
		if err != nil {
			return nil, fmt.Errorf("read job: %w", err)
		}
		var job attacher.Job
		if err := json.Unmarshal(data, &job); err != nil {
			// Unreadable jobs can never succeed.
			s.deadLetter(dst, name, attacher.Job{}, fmt.Errorf("decode job: %w", err))
			continue
		}
		return &Claim{Job: job, path: dst}, nil
	}
	return nil, nil
}

// Ack removes a finished job.
func (s *Spool) Ack(c *Claim) error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// Nack puts a failed job back with its attempt count raised, due after
// Backoff. A job that has used all attempts moves to the failed directory
// instead. It reports whether the job was dead-lettered.
func (s *Spool) Nack(c *Claim, cause error) (bool, error) {
	job := c.Job
	job.Attempt++
	if job.Attempt >= s.maxAttempts {
		return true, s.deadLetter(c.path, filepath.Base(strings.TrimSuffix(c.path, workingExt)), job, cause)
	}
	due := time.Now().Add(Backoff(job.Attempt))
	if err := s.write(s.dir, fileName(job, due), job); err != nil {
		return false, err
	}
	return false, s.Ack(c)
}

func (s *Spool) deadLetter(path, name string, job attacher.Job, cause error) error {
	entry := failedJob{Job: job, Error: cause.Error(), FailedAt: time.Now().UTC()}
	if err := s.write(filepath.Join(s.dir, failedDir), name, entry); err != nil {
		return err
	}
	return os.Remove(path)
}

// Recover re-queues jobs left claimed by a process that died.
func (s *Spool) Recover() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read spool: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), workingExt) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Rename(path, strings.TrimSuffix(path, workingExt)); err != nil {
			return n, fmt.Errorf("recover job: %w", err)
		}
		n++
	}
	return n, nil
}

// Pending counts waiting jobs.
func (s *Spool) Pending() (int, error) {
	names, err := s.queued()
	return len(names), err
}

// Failed lists dead-lettered job files.
func (s *Spool) Failed() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, failedDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
