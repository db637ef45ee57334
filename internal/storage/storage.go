// Package storage persists stashes and their records: SQLite holds the
// current rows, a JSONL log per stash keeps the write history, and
// config.json files describe each stash's schema.
package storage

import (
	"context"

	"github.com/user/stow/internal/model"
)

// WhereCondition represents a single filter condition.
type WhereCondition struct {
	Field    string // column name
	Operator string // =, !=, LIKE, IS NULL, IS NOT NULL
	Value    string
}

// ListOptions configures record listing behavior.
type ListOptions struct {
	// Limit restricts the number of results (0 = no limit).
	Limit int
	// Offset skips the first N results.
	Offset int
	// OrderBy specifies the sort field.
	OrderBy string
	// Descending reverses the sort order.
	Descending bool
	// Where specifies filter conditions (ANDed together).
	Where []WhereCondition
}

// Storage defines the interface for stash persistence.
type Storage interface {
	CreateStash(stash *model.Stash) error
	DropStash(name string) error
	GetStash(name string) (*model.Stash, error)
	ListStashes() ([]*model.Stash, error)

	AddColumn(stashName string, col model.Column) error
	AddAttachment(stashName, name, actor string) error

	CreateRecord(ctx context.Context, stashName string, record *model.Record) error
	UpdateColumns(ctx context.Context, stashName, id, actor string, values map[string]string) (*model.Record, error)
	Swap(ctx context.Context, stashName, id, actor string, fn UpdateFunc) (*model.Record, error)
	DeleteRecord(ctx context.Context, stashName, id, actor string) (*model.Record, error)
	GetRecord(ctx context.Context, stashName, id string) (*model.Record, error)
	ListRecords(ctx context.Context, stashName string, opts ListOptions) ([]*model.Record, error)

	History(stashName, id string) ([]*model.Record, error)
	Rebuild(ctx context.Context, stashName string) error
	Compact(ctx context.Context, stashName string) error

	Close() error
}

var _ Storage = (*Store)(nil)
