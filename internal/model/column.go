package model

import (
	"regexp"
	"strings"
	"time"
)

// Column kinds.
const (
	KindText       = "text"
	KindAttachment = "attachment"
)

// AttachmentSuffix is appended to an attachment name to form its column.
const AttachmentSuffix = "_data"

// Reserved column names (system fields)
var reservedColumnNames = map[string]bool{
	"_id":         true,
	"_hash":       true,
	"_created_at": true,
	"_created_by": true,
	"_updated_at": true,
	"_updated_by": true,
	"_deleted_at": true,
	"_deleted_by": true,
	"_op":         true,
}

// Column name validation regex:
// - Must start with a letter
// - Can contain letters, numbers, underscores
// - Max 64 characters
var columnNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,63}$`)

// Column represents a user-defined column in a stash schema.
type Column struct {
	Name    string    `json:"name"`
	Kind    string    `json:"kind,omitempty"`
	Desc    string    `json:"desc,omitempty"`
	Added   time.Time `json:"added"`
	AddedBy string    `json:"added_by"`
}

// IsAttachment reports whether the column stores serialized attachment data.
func (c Column) IsAttachment() bool {
	return c.Kind == KindAttachment
}

// AttachmentName strips the column suffix: "avatar_data" -> "avatar".
func (c Column) AttachmentName() string {
	return strings.TrimSuffix(c.Name, AttachmentSuffix)
}

// AttachmentColumn returns the column that holds the named attachment.
func AttachmentColumn(name string) string {
	return name + AttachmentSuffix
}

// ValidateColumnName checks if a column name is valid.
func ValidateColumnName(name string) error {
	if reservedColumnNames[strings.ToLower(name)] {
		return ErrReservedColumn
	}
	if !columnNameRegex.MatchString(name) {
		return ErrInvalidColumn
	}
	return nil
}

// ColumnList provides case-insensitive column operations.
type ColumnList []Column

// Find returns the column with the given name (case-insensitive).
// Returns nil if not found.
func (cl ColumnList) Find(name string) *Column {
	for i := range cl {
		if strings.EqualFold(cl[i].Name, name) {
			return &cl[i]
		}
	}
	return nil
}

// Exists returns true if a column with the given name exists (case-insensitive).
func (cl ColumnList) Exists(name string) bool {
	return cl.Find(name) != nil
}

// Names returns all column names.
func (cl ColumnList) Names() []string {
	names := make([]string, len(cl))
	for i, c := range cl {
		names[i] = c.Name
	}
	return names
}

// Attachments returns the attachment names declared in the list.
func (cl ColumnList) Attachments() []string {
	var names []string
	for _, c := range cl {
		if c.IsAttachment() {
			names = append(names, c.AttachmentName())
		}
	}
	return names
}
