package attacher

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/user/stow/internal/model"
)

// AddDerivative uploads r (to the derivative storage unless WithStorage says
// otherwise) and sets it at path. A file previously at path is scheduled for
// deletion once the change is persisted.
func (a *Attacher) AddDerivative(ctx context.Context, r io.Reader, path []interface{}, opts ...UploadOption) (*model.UploadedFile, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("%w: empty path", model.ErrInvalidPath)
	}
	o := uploadOptions{storage: a.att.cfg.DerivativeStorage}
	for _, opt := range opts {
		opt(&o)
	}
	f, err := a.upload(ctx, r, o)
	if err != nil {
		return nil, err
	}
	if err := a.SetDerivative(f, path...); err != nil {
		a.cleanup(ctx, "discard derivative", []*model.UploadedFile{f})
		return nil, err
	}
	return f, nil
}

// SetDerivative places an already uploaded file at path.
func (a *Attacher) SetDerivative(f *model.UploadedFile, path ...interface{}) error {
	replaced, err := a.derivatives.Set(f, path...)
	if err != nil {
		return err
	}
	a.schedule(replaced)
	a.dirty = true
	return nil
}

// RemoveDerivative removes the subtree at path and schedules its files for
// deletion.
func (a *Attacher) RemoveDerivative(path ...interface{}) (*model.Derivatives, error) {
	removed, err := a.derivatives.Remove(path...)
	if err != nil {
		return nil, err
	}
	a.schedule(removed)
	a.dirty = true
	return removed, nil
}

// MergeDerivatives merges other into the tree. Replaced leaves are scheduled
// for deletion.
func (a *Attacher) MergeDerivatives(other *model.Derivatives) {
	_ = other.Walk(func(path []interface{}, f *model.UploadedFile) error {
		if old := a.derivatives.FileAt(path...); old != nil && !model.Same(old, f) {
			a.pending = append(a.pending, old)
		}
		return nil
	})
	a.derivatives = a.derivatives.Merge(other)
	a.dirty = true
}

func (a *Attacher) schedule(d *model.Derivatives) {
	if d == nil {
		return
	}
	a.pending = append(a.pending, d.Files()...)
}

// flushPending deletes scheduled files. Called only after a committed write.
func (a *Attacher) flushPending(ctx context.Context) {
	files := a.pending
	a.pending = nil
	a.cleanup(ctx, "delete replaced derivatives", files)
}

type derivativeLeaf struct {
	key  string
	file *model.UploadedFile
}

// promoteDerivatives copies every cached leaf of d to the store concurrently.
// It returns the promoted tree, the new store files and the cache files they
// replace. On error the returned uploads are whatever already made it.
func (a *Attacher) promoteDerivatives(ctx context.Context, d *model.Derivatives) (*model.Derivatives, []*model.UploadedFile, []*model.UploadedFile, error) {
	var leaves []derivativeLeaf
	_ = d.Walk(func(path []interface{}, f *model.UploadedFile) error {
		if f.Storage == a.att.cfg.Cache {
			leaves = append(leaves, derivativeLeaf{key: pathKey(path), file: f})
		}
		return nil
	})
	if len(leaves) == 0 {
		return d, nil, nil, nil
	}

	results := make([]*model.UploadedFile, len(leaves))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.att.cfg.Concurrency)
	for i, leaf := range leaves {
		i, leaf := i, leaf
		g.Go(func() error {
			f, err := a.copyFile(gctx, leaf.file, a.att.cfg.Store)
			if err != nil {
				return err
			}
			results[i] = f
			return nil
		})
	}
	err := g.Wait()

	var uploaded, replaced []*model.UploadedFile
	byPath := make(map[string]*model.UploadedFile, len(leaves))
	for i, f := range results {
		if f == nil {
			continue
		}
		uploaded = append(uploaded, f)
		replaced = append(replaced, leaves[i].file)
		byPath[leaves[i].key] = f
	}
	if err != nil {
		return nil, uploaded, nil, fmt.Errorf("promote derivatives: %w", err)
	}

	promoted, err := d.Map(func(path []interface{}, f *model.UploadedFile) (*model.UploadedFile, error) {
		if p, ok := byPath[pathKey(path)]; ok {
			return p, nil
		}
		return f, nil
	})
	if err != nil {
		return nil, uploaded, nil, err
	}
	return promoted, uploaded, replaced, nil
}

// pathKey distinguishes the map key "0" from the list index 0.
func pathKey(path []interface{}) string {
	return fmt.Sprintf("%#v", path)
}
