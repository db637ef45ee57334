package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/logging"
)

// Resolver builds the attachment a job belongs to, and the finder that
// loads its record.
type Resolver func(ctx context.Context, job attacher.Job) (*attacher.Attachment, attacher.Finder, error)

// Stats counts what one Drain did.
type Stats struct {
	Done         int `json:"done"`
	Abandoned    int `json:"abandoned"`
	Retried      int `json:"retried"`
	DeadLettered int `json:"dead_lettered"`
}

// Total is the number of jobs handled.
func (s Stats) Total() int {
	return s.Done + s.Abandoned + s.Retried + s.DeadLettered
}

func (s *Stats) add(o Stats) {
	s.Done += o.Done
	s.Abandoned += o.Abandoned
	s.Retried += o.Retried
	s.DeadLettered += o.DeadLettered
}

// Worker performs spooled jobs.
type Worker struct {
	spool       *Spool
	resolve     Resolver
	concurrency int
	logger      *log.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithConcurrency sets how many jobs run at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *log.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker returns a worker for spool.
func NewWorker(spool *Spool, resolve Resolver, opts ...WorkerOption) *Worker {
	w := &Worker{spool: spool, resolve: resolve, concurrency: 1, logger: logging.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Drain runs jobs until none are due. Job failures are recorded on the
// spool, not returned; the error is for spool I/O or cancellation.
func (w *Worker) Drain(ctx context.Context) (Stats, error) {
	var (
		mu    sync.Mutex
		stats Stats
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for {
		if err := ctx.Err(); err != nil {
			break
		}
		claim, err := w.spool.Claim()
		if err != nil {
			g.Go(func() error { return err })
			break
		}
		if claim == nil {
			break
		}
		g.Go(func() error {
			s, err := w.run(ctx, claim)
			mu.Lock()
			stats.add(s)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		// Claims interrupted mid-run are picked up by Recover.
		err = nil
	}
	return stats, err
}

func (w *Worker) run(ctx context.Context, c *Claim) (Stats, error) {
	job := c.Job
	logger := w.logger.With("job", job.ID, "kind", job.Kind, "record", job.RecordID, "attachment", job.Name)

	err := w.perform(ctx, job)
	switch {
	case err == nil:
		logger.Debug("job done")
		return Stats{Done: 1}, w.spool.Ack(c)
	case attacher.Abandoned(err):
		logger.Info("job abandoned", "reason", err)
		return Stats{Abandoned: 1}, w.spool.Ack(c)
	case ctx.Err() != nil:
		return Stats{}, nil
	}

	dead, nerr := w.spool.Nack(c, err)
	if nerr != nil {
		return Stats{}, fmt.Errorf("requeue job %s: %w", job.ID, nerr)
	}
	if dead {
		logger.Error("job failed permanently", "attempt", job.Attempt+1, "err", err)
		return Stats{DeadLettered: 1}, nil
	}
	logger.Warn("job failed, will retry", "attempt", job.Attempt+1, "retry_in", Backoff(job.Attempt+1), "err", err)
	return Stats{Retried: 1}, nil
}

func (w *Worker) perform(ctx context.Context, job attacher.Job) error {
	att, finder, err := w.resolve(ctx, job)
	if err != nil {
		return err
	}
	return att.Perform(ctx, finder, job)
}
