package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/user/stow/internal/logging"
	"github.com/user/stow/internal/model"
)

// Store combines the SQLite rows, the JSONL history and the config files.
type Store struct {
	baseDir string // .stow directory
	history *HistoryLog
	db      *SQLite
	config  *ConfigStore
	logger  *log.Logger
}

// NewStore opens the store rooted at baseDir, creating it if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stow directory: %w", err)
	}

	db, err := NewSQLite(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &Store{
		baseDir: baseDir,
		history: NewHistoryLog(baseDir),
		db:      db,
		config:  NewConfigStore(baseDir),
		logger:  logging.Default(),
	}, nil
}

// SetLogger replaces the logger used for history warnings.
func (s *Store) SetLogger(l *log.Logger) {
	s.logger = l
}

// Close releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// BaseDir returns the base directory path.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// CreateStash creates a new stash.
func (s *Store) CreateStash(stash *model.Stash) error {
	if s.config.Exists(stash.Name) {
		return model.ErrStashExists
	}
	if err := s.config.WriteConfig(stash); err != nil {
		return err
	}
	if err := s.db.CreateStashTable(stash); err != nil {
		s.config.DeleteConfig(stash.Name)
		return err
	}
	return nil
}

// DropStash removes a stash and all its data.
func (s *Store) DropStash(name string) error {
	if !s.config.Exists(name) {
		return model.ErrStashNotFound
	}
	if err := s.db.DropStashTable(name); err != nil {
		return err
	}
	// The stash directory holds the history too.
	return s.config.DeleteConfig(name)
}

// GetStash retrieves stash configuration.
func (s *Store) GetStash(name string) (*model.Stash, error) {
	stash, err := s.db.GetStash(name)
	if err == nil {
		return stash, nil
	}
	return s.config.ReadConfig(name)
}

// ListStashes returns all stash configurations.
func (s *Store) ListStashes() ([]*model.Stash, error) {
	stashes, err := s.db.ListStashes()
	if err == nil && len(stashes) > 0 {
		return stashes, nil
	}

	names, err := s.config.ListStashDirs()
	if err != nil {
		return nil, err
	}
	stashes = make([]*model.Stash, 0, len(names))
	for _, name := range names {
		stash, err := s.config.ReadConfig(name)
		if err != nil {
			continue
		}
		stashes = append(stashes, stash)
	}
	return stashes, nil
}

// AddColumn adds a new column to a stash.
func (s *Store) AddColumn(stashName string, col model.Column) error {
	return s.alterStash(stashName, col.Name, func(stash *model.Stash) error {
		return stash.AddColumn(col)
	})
}

// AddAttachment declares an attachment on a stash.
func (s *Store) AddAttachment(stashName, name, actor string) error {
	return s.alterStash(stashName, model.AttachmentColumn(name), func(stash *model.Stash) error {
		return stash.AddAttachment(name, actor)
	})
}

func (s *Store) alterStash(stashName, column string, fn func(*model.Stash) error) error {
	stash, err := s.GetStash(stashName)
	if err != nil {
		return err
	}
	if err := fn(stash); err != nil {
		return err
	}
	if err := s.db.AddColumn(stashName, column); err != nil {
		return err
	}
	if err := s.config.WriteConfig(stash); err != nil {
		return err
	}
	return s.db.UpdateStashConfig(stash)
}

// CreateRecord inserts a new record. Timestamps default to now.
func (s *Store) CreateRecord(ctx context.Context, stashName string, record *model.Record) error {
	stash, err := s.GetStash(stashName)
	if err != nil {
		return err
	}
	if record.ID == "" {
		return model.ErrInvalidID
	}

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	if record.UpdatedBy == "" {
		record.UpdatedBy = record.CreatedBy
	}
	record.Operation = model.OpCreate
	record.Hash = record.CalculateHash()

	if err := s.db.InsertRecord(ctx, stashName, record, stash.Columns.Names()); err != nil {
		return err
	}
	s.appendHistory(stashName, record)
	return nil
}

// UpdateColumns writes values to an existing record.
func (s *Store) UpdateColumns(ctx context.Context, stashName, id, actor string, values map[string]string) (*model.Record, error) {
	return s.Swap(ctx, stashName, id, actor, func(map[string]string) (map[string]string, error) {
		return values, nil
	})
}

// Swap reads a record and writes what fn returns inside one write
// transaction, so no other writer can change the row in between.
func (s *Store) Swap(ctx context.Context, stashName, id, actor string, fn UpdateFunc) (*model.Record, error) {
	stash, err := s.GetStash(stashName)
	if err != nil {
		return nil, err
	}
	record, changed, err := s.db.UpdateRecord(ctx, stashName, id, actor, stash.Columns.Names(), fn)
	if err != nil {
		return nil, err
	}
	if changed {
		record.Operation = model.OpUpdate
		s.appendHistory(stashName, record)
	}
	return record, nil
}

// DeleteRecord removes a record and returns its last state.
func (s *Store) DeleteRecord(ctx context.Context, stashName, id, actor string) (*model.Record, error) {
	stash, err := s.GetStash(stashName)
	if err != nil {
		return nil, err
	}
	record, err := s.db.DeleteRecord(ctx, stashName, id, stash.Columns.Names())
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record.DeletedAt = &now
	record.DeletedBy = actor
	record.Operation = model.OpDelete
	s.appendHistory(stashName, record)
	return record, nil
}

// GetRecord retrieves a record.
func (s *Store) GetRecord(ctx context.Context, stashName, id string) (*model.Record, error) {
	stash, err := s.GetStash(stashName)
	if err != nil {
		return nil, err
	}
	return s.db.GetRecord(ctx, stashName, id, stash.Columns.Names())
}

// ListRecords lists records with filtering options.
func (s *Store) ListRecords(ctx context.Context, stashName string, opts ListOptions) ([]*model.Record, error) {
	stash, err := s.GetStash(stashName)
	if err != nil {
		return nil, err
	}
	return s.db.ListRecords(ctx, stashName, stash.Columns.Names(), opts)
}

// CountRecords returns the number of records in a stash.
func (s *Store) CountRecords(stashName string) (int, error) {
	return s.db.CountRecords(stashName)
}

// History returns the logged writes of one record, oldest first.
func (s *Store) History(stashName, id string) ([]*model.Record, error) {
	if _, err := s.GetStash(stashName); err != nil {
		return nil, err
	}
	return s.history.ForRecord(stashName, id)
}

// Rebuild replays the history log into a fresh table.
func (s *Store) Rebuild(ctx context.Context, stashName string) error {
	stash, err := s.config.ReadConfig(stashName)
	if err != nil {
		return err
	}

	if err := s.db.ClearTable(stashName); err != nil {
		// The table may be missing entirely.
		if err := s.db.CreateStashTable(stash); err != nil {
			return err
		}
	}

	entries, err := s.history.ReadAll(stashName)
	if err != nil {
		return err
	}

	state := make(map[string]*model.Record)
	var order []string
	for _, entry := range entries {
		switch entry.Operation {
		case model.OpCreate, model.OpUpdate:
			if _, seen := state[entry.ID]; !seen {
				order = append(order, entry.ID)
			}
			state[entry.ID] = entry
		case model.OpDelete:
			delete(state, entry.ID)
		}
	}

	columns := stash.Columns.Names()
	for _, id := range order {
		record, ok := state[id]
		if !ok {
			continue
		}
		if err := s.db.InsertRecord(ctx, stashName, record, columns); err != nil {
			return err
		}
	}
	return nil
}

// Compact rewrites the history log from the current rows.
func (s *Store) Compact(ctx context.Context, stashName string) error {
	records, err := s.ListRecords(ctx, stashName, ListOptions{OrderBy: "created_at"})
	if err != nil {
		return err
	}
	return s.history.Compact(stashName, records)
}

// appendHistory logs a committed write. The row is already durable in
// SQLite, so a failure here is reported but not returned.
func (s *Store) appendHistory(stashName string, record *model.Record) {
	if err := s.history.Append(stashName, record); err != nil {
		s.logger.Warn("history append failed", "stash", stashName, "id", record.ID, "err", err)
	}
}

// DefaultBaseDir returns the default .stow directory path.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stow"
	}
	return filepath.Join(home, ".stow")
}
