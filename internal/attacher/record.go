package attacher

import "context"

// Record is what an Attacher needs from the row that owns its column.
// Column and SetColumn work on the in-memory copy; Reload and Persist talk to
// the database. Reload and Persist return model.ErrRecordNotFound when the
// row is gone.
type Record interface {
	RecordID() string
	Column(name string) string
	SetColumn(name, value string)
	Reload(ctx context.Context) error
	Persist(ctx context.Context, columns ...string) error
}

// Swapper is implemented by records that can re-read the row and write to it
// inside one lock. fn receives the freshly read columns and returns the
// columns to write; an error from fn aborts without writing. On success the
// in-memory copy reflects the written columns.
//
// Records without a Swapper fall back to Reload followed by Persist, which
// leaves a window where a concurrent writer can slip in.
type Swapper interface {
	Swap(ctx context.Context, fn func(fresh map[string]string) (map[string]string, error)) error
}

// Finder looks records up again in a fresh execution context (background jobs).
type Finder interface {
	FindRecord(ctx context.Context, kind, id string) (Record, error)
}

// Hooks are called by a record implementation around its own persistence.
// AfterSave and AfterDestroy must only run once the write has committed.
type Hooks interface {
	BeforeSave(ctx context.Context) error
	AfterSave(ctx context.Context) error
	AfterDestroy(ctx context.Context) error
}

var _ Hooks = (*Attacher)(nil)
