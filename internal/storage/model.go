package storage

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/user/stow/internal/attacher"
	"github.com/user/stow/internal/model"
)

// Model saves and destroys rows of one stash, running the attachment
// hooks around each write. After-hooks only run once the write committed.
type Model struct {
	store       *Store
	stash       string
	actor       string
	attachments []*attacher.Attachment
}

// NewModel binds attachments to a stash. Each attachment's column must be
// declared on the stash.
func NewModel(store *Store, stashName, actor string, attachments ...*attacher.Attachment) (*Model, error) {
	stash, err := store.GetStash(stashName)
	if err != nil {
		return nil, err
	}
	for _, att := range attachments {
		if !stash.HasAttachment(att.Name()) {
			return nil, fmt.Errorf("%w: stash %s has no attachment %q", model.ErrConfiguration, stashName, att.Name())
		}
	}
	return &Model{store: store, stash: stashName, actor: actor, attachments: attachments}, nil
}

// Entry is a row together with one attacher per attachment.
type Entry struct {
	*Row
	attachers map[string]*attacher.Attacher
	order     []string
}

// Attacher returns the attacher for name, or nil.
func (e *Entry) Attacher(name string) *attacher.Attacher {
	return e.attachers[name]
}

// New returns an unsaved entry.
func (m *Model) New() (*Entry, error) {
	row, err := m.store.NewRow(m.stash, m.actor)
	if err != nil {
		return nil, err
	}
	return m.entry(row)
}

// Find loads a saved entry.
func (m *Model) Find(ctx context.Context, id string) (*Entry, error) {
	row, err := m.store.LoadRow(ctx, m.stash, id, m.actor)
	if err != nil {
		return nil, err
	}
	return m.entry(row)
}

func (m *Model) entry(row *Row) (*Entry, error) {
	e := &Entry{Row: row, attachers: make(map[string]*attacher.Attacher, len(m.attachments))}
	for _, att := range m.attachments {
		a, err := att.Attacher(row)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", att.Name(), err)
		}
		e.attachers[att.Name()] = a
		e.order = append(e.order, att.Name())
	}
	return e, nil
}

// Save writes the entry. BeforeSave errors abort before anything is
// written; AfterSave errors are returned after the row has committed.
func (m *Model) Save(ctx context.Context, e *Entry) error {
	for _, name := range e.order {
		if err := e.attachers[name].BeforeSave(ctx); err != nil {
			return err
		}
	}

	if e.persisted {
		changed := e.Changed()
		if len(changed) > 0 {
			values := make(map[string]string, len(changed))
			for _, col := range changed {
				values[col] = e.record.Get(col)
			}
			updated, err := m.store.UpdateColumns(ctx, m.stash, e.record.ID, m.actor, values)
			if err != nil {
				return err
			}
			e.absorb(updated, values)
		}
	} else {
		record := e.record.Clone()
		if err := m.store.CreateRecord(ctx, m.stash, record); err != nil {
			return err
		}
		e.record = record
		e.changed = map[string]bool{}
		e.persisted = true
	}

	var result *multierror.Error
	for _, name := range e.order {
		if err := e.attachers[name].AfterSave(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}

// Destroy deletes the row, then the files of every attachment. The
// attachers are reloaded from the row as it was deleted, so files another
// writer promoted or replaced since e was loaded are the ones removed.
func (m *Model) Destroy(ctx context.Context, e *Entry) error {
	deleted, err := m.store.DeleteRecord(ctx, m.stash, e.record.ID, m.actor)
	if err != nil {
		return err
	}
	e.record = deleted
	e.persisted = false
	for _, name := range e.order {
		a := e.attachers[name]
		if err := a.LoadColumn(deleted.Get(a.Attachment().Column())); err != nil {
			m.store.logger.Warn("reload deleted attachment failed", "stash", m.stash, "id", deleted.ID, "attachment", name, "err", err)
		}
		// AfterDestroy logs its own failures.
		_ = a.AfterDestroy(ctx)
	}
	return nil
}
