package attacher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/user/stow/internal/model"
)

// JobKind is the kind of deferred work.
type JobKind string

const (
	JobPromote JobKind = "promote"
	JobDestroy JobKind = "destroy"
)

// Job is a serializable unit of deferred work. It carries plain data only so
// it can cross process boundaries.
type Job struct {
	ID          string                 `json:"id"`
	Kind        JobKind                `json:"kind"`
	RecordKind  string                 `json:"record_kind,omitempty"`
	RecordID    string                 `json:"record_id,omitempty"`
	Name        string                 `json:"name"`
	File        map[string]interface{} `json:"file,omitempty"`
	Derivatives interface{}            `json:"derivatives,omitempty"`
	EnqueuedAt  time.Time              `json:"enqueued_at"`
	Attempt     int                    `json:"attempt"`
}

func newJob(kind JobKind, name string) Job {
	return Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Name:       name,
		EnqueuedAt: time.Now().UTC(),
	}
}

// promoteJob describes promoting the current cached file.
func (a *Attacher) promoteJob() Job {
	job := newJob(JobPromote, a.att.cfg.Name)
	job.RecordKind = a.att.cfg.Kind
	if a.record != nil {
		job.RecordID = a.record.RecordID()
	}
	if a.file != nil {
		job.File = a.file.Data()
	}
	return job
}

// destroyJob describes deleting file and its derivatives.
func (a *Attacher) destroyJob(file *model.UploadedFile, derivs *model.Derivatives) Job {
	job := newJob(JobDestroy, a.att.cfg.Name)
	job.RecordKind = a.att.cfg.Kind
	if a.record != nil {
		job.RecordID = a.record.RecordID()
	}
	if file != nil {
		job.File = file.Data()
	}
	if !derivs.IsEmpty() {
		job.Derivatives = derivs.Data()
	}
	return job
}

// PerformPromote runs a promote job: it finds the record again, checks the
// attachment still references the job's file and promotes it atomically.
// A record that is gone yields model.ErrRecordNotFound and a replaced
// attachment yields model.ErrAttachmentChanged; both mean there is nothing
// left to do.
func (a *Attachment) PerformPromote(ctx context.Context, finder Finder, job Job) error {
	if job.Kind != JobPromote {
		return fmt.Errorf("%w: expected promote job, got %q", model.ErrConfiguration, job.Kind)
	}
	var want *model.UploadedFile
	if len(job.File) > 0 {
		f, err := model.ParseUploadedFile(job.File)
		if err != nil {
			return err
		}
		want = f
	}

	rec, err := finder.FindRecord(ctx, job.RecordKind, job.RecordID)
	if err != nil {
		return err
	}
	at, err := a.Attacher(rec)
	if err != nil {
		return err
	}
	if !model.Same(at.File(), want) {
		return fmt.Errorf("%w: expected %s, found %s", model.ErrAttachmentChanged, want, at.File())
	}
	_, err = at.AtomicPromote(ctx)
	return err
}

// PerformDestroy deletes the job's file and derivatives. IDs that no longer
// exist are ignored.
func (a *Attachment) PerformDestroy(ctx context.Context, job Job) error {
	if job.Kind != JobDestroy {
		return fmt.Errorf("%w: expected destroy job, got %q", model.ErrConfiguration, job.Kind)
	}
	var files []*model.UploadedFile
	if len(job.File) > 0 {
		f, err := model.ParseUploadedFile(job.File)
		if err != nil {
			return err
		}
		files = append(files, f)
	}
	derivs, err := model.ParseDerivatives(job.Derivatives)
	if err != nil {
		return err
	}
	files = append(files, derivs.Files()...)
	return a.Detached().deleteFiles(ctx, files)
}

// Perform dispatches on the job kind.
func (a *Attachment) Perform(ctx context.Context, finder Finder, job Job) error {
	switch job.Kind {
	case JobPromote:
		return a.PerformPromote(ctx, finder, job)
	case JobDestroy:
		return a.PerformDestroy(ctx, job)
	default:
		return fmt.Errorf("%w: unknown job kind %q", model.ErrConfiguration, job.Kind)
	}
}

// Abandoned reports whether a job error means the work is moot rather than
// failed: the record is gone or its attachment moved on.
func Abandoned(err error) bool {
	return errors.Is(err, model.ErrAttachmentChanged) || errors.Is(err, model.ErrRecordNotFound)
}
