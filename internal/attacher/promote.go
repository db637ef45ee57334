package attacher

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/user/stow/internal/model"
)

// PersistOption tunes AtomicPromote and AtomicPersist.
type PersistOption func(*persistOptions)

type persistOptions struct {
	extra map[string]string
}

// WithExtra writes additional columns in the same update as the attachment.
func WithExtra(columns map[string]string) PersistOption {
	return func(o *persistOptions) {
		if o.extra == nil {
			o.extra = map[string]string{}
		}
		for k, v := range columns {
			o.extra[k] = v
		}
	}
}

// promotion is the outcome of uploading cached files to the store.
type promotion struct {
	file        *model.UploadedFile
	derivatives *model.Derivatives
	// uploaded are the new store files; they become orphans if the write fails.
	uploaded []*model.UploadedFile
	// replaced are the cache files superseded once the write succeeds.
	replaced []*model.UploadedFile
}

// needsPromotion reports whether anything still lives on the cache.
func (a *Attacher) needsPromotion() bool {
	if a.Cached() {
		return true
	}
	for _, f := range a.derivatives.Files() {
		if f.Storage == a.att.cfg.Cache {
			return true
		}
	}
	return false
}

// promote copies the cached file and cached derivatives to the store without
// touching the attacher or the record.
func (a *Attacher) promote(ctx context.Context) (*promotion, error) {
	derivs, uploaded, replaced, err := a.promoteDerivatives(ctx, a.derivatives)
	if err != nil {
		a.cleanup(ctx, "discard partial promotion", uploaded)
		return nil, err
	}
	p := &promotion{
		file:        a.file,
		derivatives: derivs,
		uploaded:    uploaded,
		replaced:    replaced,
	}
	if a.Cached() {
		stored, err := a.copyFile(ctx, a.file, a.att.cfg.Store)
		if err != nil {
			a.cleanup(ctx, "discard partial promotion", p.uploaded)
			return nil, err
		}
		p.file = stored
		p.uploaded = append(p.uploaded, stored)
		p.replaced = append(p.replaced, a.file)
	}
	return p, nil
}

// Promote uploads cached files to the store and sets them on the attacher
// without persisting anything. The cache files are left in place.
func (a *Attacher) Promote(ctx context.Context) (*model.UploadedFile, error) {
	if !a.needsPromotion() {
		return a.file, nil
	}
	p, err := a.promote(ctx)
	if err != nil {
		return nil, err
	}
	a.file = p.file
	a.derivatives = p.derivatives
	return a.file, nil
}

// AtomicPromote promotes the cached file to the store and writes the new
// column value only if the record still references the file promotion
// started from. On conflict the uploaded store files are deleted, the
// attacher keeps its cached state and an error wrapping
// model.ErrAttachmentChanged is returned. A file already on the store is
// returned as is.
func (a *Attacher) AtomicPromote(ctx context.Context, opts ...PersistOption) (*model.UploadedFile, error) {
	if !a.needsPromotion() {
		return a.file, nil
	}
	if a.record == nil {
		return nil, fmt.Errorf("%w: attacher has no record", model.ErrConfiguration)
	}

	origFile, origDerivs := a.file, a.derivatives
	p, err := a.promote(ctx)
	if err != nil {
		return nil, err
	}

	a.file, a.derivatives = p.file, p.derivatives
	if err := a.atomicPersist(ctx, origFile, opts); err != nil {
		a.file, a.derivatives = origFile, origDerivs
		a.cleanup(ctx, "discard aborted promotion", p.uploaded)
		return nil, err
	}

	a.att.cfg.Logger.Info("promoted attachment",
		"attachment", a.att.cfg.Name, "record", a.record.RecordID(),
		"from", origFile.String(), "to", a.file.String())
	a.dirty = false
	a.cleanup(ctx, "delete promoted cache files", p.replaced)
	a.flushPending(ctx)
	return a.file, nil
}

// AtomicPersist writes the current column value if the record still
// references the current file. Use it after derivative changes.
func (a *Attacher) AtomicPersist(ctx context.Context, opts ...PersistOption) error {
	if a.record == nil {
		return fmt.Errorf("%w: attacher has no record", model.ErrConfiguration)
	}
	if err := a.atomicPersist(ctx, a.file, opts); err != nil {
		return err
	}
	a.dirty = false
	a.flushPending(ctx)
	return nil
}

// atomicPersist compares the column against expected and writes the current
// state in one critical section when the record supports it.
func (a *Attacher) atomicPersist(ctx context.Context, expected *model.UploadedFile, opts []PersistOption) error {
	var o persistOptions
	for _, opt := range opts {
		opt(&o)
	}

	col := a.att.Column()
	value, err := a.Column()
	if err != nil {
		return err
	}
	updates := map[string]string{col: value}
	for k, v := range o.extra {
		if k == col {
			continue
		}
		updates[k] = v
	}

	check := func(fresh string) error {
		current, ok := columnFile(fresh)
		if !ok || !model.Same(current, expected) {
			return fmt.Errorf("%w: expected %s, found %s", model.ErrAttachmentChanged, expected, current)
		}
		return nil
	}

	if sw, ok := a.record.(Swapper); ok {
		err = sw.Swap(ctx, func(fresh map[string]string) (map[string]string, error) {
			if err := check(fresh[col]); err != nil {
				return nil, err
			}
			return updates, nil
		})
	} else {
		err = a.reloadAndPersist(ctx, col, check, updates)
	}
	if errors.Is(err, model.ErrRecordNotFound) {
		return fmt.Errorf("%w: record is missing (%w)", model.ErrAttachmentChanged, err)
	}
	return err
}

// reloadAndPersist is the fallback for records without Swap. Another writer
// can update the row between Reload and Persist.
func (a *Attacher) reloadAndPersist(ctx context.Context, col string, check func(string) error, updates map[string]string) error {
	if err := a.record.Reload(ctx); err != nil {
		return err
	}
	if err := check(a.record.Column(col)); err != nil {
		return err
	}
	columns := make([]string, 0, len(updates))
	for k, v := range updates {
		a.record.SetColumn(k, v)
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return a.record.Persist(ctx, columns...)
}
