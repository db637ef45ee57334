package attacher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/user/stow/internal/model"
)

// BeforeSave refuses invalid attachments and writes the column value into
// the record so it is part of the pending save.
func (a *Attacher) BeforeSave(ctx context.Context) error {
	if len(a.errors) > 0 {
		return fmt.Errorf("%w: %s", model.ErrInvalidAttachment, strings.Join(a.errors, "; "))
	}
	if a.record == nil {
		return fmt.Errorf("%w: attacher has no record", model.ErrConfiguration)
	}
	if !a.Changed() && !a.dirty {
		return nil
	}
	value, err := a.Column()
	if err != nil {
		return err
	}
	a.record.SetColumn(a.att.Column(), value)
	return nil
}

// AfterSave finalizes a committed save: the replaced file is deleted and a
// cached file is promoted, inline or through the promote hook. Derivative
// changes on an unchanged file are persisted atomically.
func (a *Attacher) AfterSave(ctx context.Context) error {
	var err error
	switch {
	case a.Changed():
		prev := a.previous
		a.previous = nil
		a.destroyPrevious(ctx, prev)
		a.flushPending(ctx)
		a.dirty = false
		if a.needsPromotion() {
			err = a.promoteOrEnqueue(ctx)
		}
	case a.dirty:
		if a.needsPromotion() {
			err = a.promoteOrEnqueue(ctx)
		} else {
			err = a.AtomicPersist(ctx)
		}
	}
	return a.conflict(err)
}

// AfterDestroy deletes the stored file and its derivatives once the record
// is gone. Failures are logged; the record deletion already happened.
func (a *Attacher) AfterDestroy(ctx context.Context) error {
	if err := a.Destroy(ctx); err != nil {
		a.att.cfg.Logger.Warn("destroy attachment failed",
			"attachment", a.att.cfg.Name, "file", a.file.String(), "err", err)
	}
	return nil
}

// Destroy deletes the attached file and derivatives, inline or through the
// destroy hook. A cached main file is left to cache expiry, but its
// derivatives may already be on permanent storage and are deleted.
func (a *Attacher) Destroy(ctx context.Context) error {
	if a.file == nil && a.derivatives.IsEmpty() {
		return nil
	}
	if a.Cached() {
		if a.derivatives.IsEmpty() {
			return nil
		}
		return a.destroyFiles(ctx, nil, a.derivatives)
	}
	return a.destroyFiles(ctx, a.file, a.derivatives)
}

func (a *Attacher) destroyPrevious(ctx context.Context, prev *state) {
	if prev == nil || prev.file == nil || model.Same(prev.file, a.file) {
		return
	}
	if prev.file.Storage == a.att.cfg.Cache {
		return
	}
	if err := a.destroyFiles(ctx, prev.file, prev.derivatives); err != nil {
		a.att.cfg.Logger.Warn("delete previous attachment failed",
			"attachment", a.att.cfg.Name, "file", prev.file.String(), "err", err)
	}
}

func (a *Attacher) destroyFiles(ctx context.Context, file *model.UploadedFile, derivs *model.Derivatives) error {
	if hook := a.att.cfg.DestroyHook; hook != nil {
		return hook(ctx, a.destroyJob(file, derivs))
	}
	files := derivs.Files()
	if file != nil {
		files = append([]*model.UploadedFile{file}, files...)
	}
	return a.deleteFiles(ctx, files)
}

func (a *Attacher) promoteOrEnqueue(ctx context.Context) error {
	if hook := a.att.cfg.PromoteHook; hook != nil {
		return hook(ctx, a.promoteJob())
	}
	_, err := a.AtomicPromote(ctx)
	return err
}

// conflict applies the IgnoreConflicts policy.
func (a *Attacher) conflict(err error) error {
	if err == nil || !errors.Is(err, model.ErrAttachmentChanged) || !a.att.cfg.IgnoreConflicts {
		return err
	}
	rec := ""
	if a.record != nil {
		rec = a.record.RecordID()
	}
	a.att.cfg.Logger.Warn("attachment changed concurrently, skipping",
		"attachment", a.att.cfg.Name, "record", rec, "err", err)
	return nil
}
