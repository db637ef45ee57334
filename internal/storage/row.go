package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/model"
)

// Row is one record of a stash as seen by an attacher: an in-memory copy
// plus the set of columns changed since it was loaded.
type Row struct {
	store     *Store
	stash     string
	actor     string
	record    *model.Record
	changed   map[string]bool
	persisted bool
}

var (
	_ attacher.Record  = (*Row)(nil)
	_ attacher.Swapper = (*Row)(nil)
	_ attacher.Finder  = (*Finder)(nil)
)

// NewRow returns an unsaved row with a fresh ID.
func (s *Store) NewRow(stashName, actor string) (*Row, error) {
	stash, err := s.GetStash(stashName)
	if err != nil {
		return nil, err
	}
	id, err := model.GenerateID(stash.Prefix)
	if err != nil {
		return nil, err
	}
	return &Row{
		store:   s,
		stash:   stashName,
		actor:   actor,
		record:  &model.Record{ID: id, CreatedBy: actor, Fields: map[string]string{}},
		changed: map[string]bool{},
	}, nil
}

// LoadRow reads a saved row.
func (s *Store) LoadRow(ctx context.Context, stashName, id, actor string) (*Row, error) {
	record, err := s.GetRecord(ctx, stashName, id)
	if err != nil {
		return nil, err
	}
	return &Row{
		store:     s,
		stash:     stashName,
		actor:     actor,
		record:    record,
		changed:   map[string]bool{},
		persisted: true,
	}, nil
}

// RecordID returns the record ID.
func (r *Row) RecordID() string { return r.record.ID }

// Stash returns the stash the row belongs to.
func (r *Row) Stash() string { return r.stash }

// Persisted reports whether the row exists in the database.
func (r *Row) Persisted() bool { return r.persisted }

// Record returns a copy of the in-memory record.
func (r *Row) Record() *model.Record { return r.record.Clone() }

// Column returns the in-memory value of a column.
func (r *Row) Column(name string) string { return r.record.Get(name) }

// SetColumn changes a column in memory; Save or Persist writes it.
func (r *Row) SetColumn(name, value string) {
	if r.record.Get(name) == value {
		return
	}
	r.record.Set(name, value)
	r.changed[name] = true
}

// Changed lists the columns modified since the last load or write.
func (r *Row) Changed() []string {
	out := make([]string, 0, len(r.changed))
	for col := range r.changed {
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}

// Reload replaces the in-memory copy with the committed row, discarding
// unsaved changes.
func (r *Row) Reload(ctx context.Context) error {
	record, err := r.store.GetRecord(ctx, r.stash, r.record.ID)
	if err != nil {
		return err
	}
	r.record = record
	r.changed = map[string]bool{}
	r.persisted = true
	return nil
}

// Persist writes the named columns from the in-memory copy.
func (r *Row) Persist(ctx context.Context, columns ...string) error {
	if !r.persisted {
		return fmt.Errorf("%w: %s is not saved", model.ErrRecordNotFound, r.record.ID)
	}
	values := make(map[string]string, len(columns))
	for _, col := range columns {
		values[col] = r.record.Get(col)
	}
	updated, err := r.store.UpdateColumns(ctx, r.stash, r.record.ID, r.actor, values)
	if err != nil {
		return err
	}
	r.absorb(updated, values)
	return nil
}

// Swap re-reads the row and writes what fn returns inside one transaction.
func (r *Row) Swap(ctx context.Context, fn func(fresh map[string]string) (map[string]string, error)) error {
	if !r.persisted {
		return fmt.Errorf("%w: %s is not saved", model.ErrRecordNotFound, r.record.ID)
	}
	var written map[string]string
	updated, err := r.store.Swap(ctx, r.stash, r.record.ID, r.actor, func(fresh map[string]string) (map[string]string, error) {
		updates, err := fn(fresh)
		written = updates
		return updates, err
	})
	if err != nil {
		return err
	}
	r.absorb(updated, written)
	return nil
}

// absorb copies written columns and system fields from a committed record.
// Other unsaved in-memory changes are kept.
func (r *Row) absorb(committed *model.Record, written map[string]string) {
	for col := range written {
		r.record.Set(col, committed.Get(col))
		delete(r.changed, col)
	}
	r.record.Hash = committed.Hash
	r.record.UpdatedAt = committed.UpdatedAt
	r.record.UpdatedBy = committed.UpdatedBy
}

// Finder loads rows for background jobs; the job's record kind is the
// stash name.
type Finder struct {
	Store *Store
	Actor string
}

// FindRecord loads a row. A dropped stash reads as a missing record.
func (f *Finder) FindRecord(ctx context.Context, kind, id string) (attacher.Record, error) {
	row, err := f.Store.LoadRow(ctx, kind, id, f.Actor)
	if errors.Is(err, model.ErrStashNotFound) {
		return nil, fmt.Errorf("%w: %w", model.ErrRecordNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}
