package model

import (
	"fmt"
	"regexp"
	"time"
)

// Prefix validation: 2-4 lowercase letters followed by a dash (ab-, inv-, abcd-).
var prefixRegex = regexp.MustCompile(`^[a-z]{2,4}-$`)

// Stash name validation: starts with a letter, then letters, numbers,
// hyphens or underscores, at most 64 characters.
var stashNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// Stash is a named collection of records sharing an ID prefix and a schema.
type Stash struct {
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	Created   time.Time  `json:"created"`
	CreatedBy string     `json:"created_by"`
	Columns   ColumnList `json:"columns"`
}

// ValidatePrefix checks if a prefix is valid.
func ValidatePrefix(prefix string) error {
	if len(prefix) < 3 || len(prefix) > 5 {
		return fmt.Errorf("%w: must be 3-5 characters (2-4 letters + dash), got %d", ErrInvalidPrefix, len(prefix))
	}
	if !prefixRegex.MatchString(prefix) {
		return fmt.Errorf("%w: must be 2-4 lowercase letters followed by dash (e.g., inv-, ab-, abcd-)", ErrInvalidPrefix)
	}
	return nil
}

// ValidateStashName checks if a stash name is valid.
func ValidateStashName(name string) error {
	if name == "" {
		return fmt.Errorf("stash name cannot be empty")
	}
	if !stashNameRegex.MatchString(name) {
		return fmt.Errorf("stash name must start with a letter and contain only letters, numbers, hyphens, and underscores")
	}
	return nil
}

// AddColumn adds a new column to the stash.
// Returns an error if the column already exists (case-insensitive).
func (s *Stash) AddColumn(col Column) error {
	if existing := s.Columns.Find(col.Name); existing != nil {
		return fmt.Errorf("%w: column '%s' already exists", ErrColumnExists, existing.Name)
	}
	if err := ValidateColumnName(col.Name); err != nil {
		return err
	}
	if col.Kind == "" {
		col.Kind = KindText
	}
	s.Columns = append(s.Columns, col)
	return nil
}

// AddAttachment declares an attachment slot, stored in the "<name>_data" column.
func (s *Stash) AddAttachment(name, actor string) error {
	return s.AddColumn(Column{
		Name:    AttachmentColumn(name),
		Kind:    KindAttachment,
		Added:   time.Now(),
		AddedBy: actor,
	})
}

// HasAttachment reports whether the stash declares the named attachment.
func (s *Stash) HasAttachment(name string) bool {
	col := s.Columns.Find(AttachmentColumn(name))
	return col != nil && col.IsAttachment()
}

// GetColumn returns the column with the given name (case-insensitive).
func (s *Stash) GetColumn(name string) (*Column, error) {
	col := s.Columns.Find(name)
	if col == nil {
		return nil, ErrColumnNotFound
	}
	return col, nil
}
