// Package model provides core data types for stow.
package model

import "errors"

// Error types for stow operations
var (
	ErrStashNotFound  = errors.New("stash not found")
	ErrStashExists    = errors.New("stash already exists")
	ErrRecordNotFound = errors.New("record not found")
	ErrColumnNotFound = errors.New("column not found")
	ErrColumnExists   = errors.New("column already exists")
	ErrInvalidID      = errors.New("invalid record ID")
	ErrInvalidPrefix  = errors.New("invalid prefix")
	ErrReservedColumn = errors.New("reserved column name")
	ErrInvalidColumn  = errors.New("invalid column name")
	ErrConfiguration  = errors.New("invalid configuration")
	ErrFileNotFound   = errors.New("file not found")
	ErrInvalidFile    = errors.New("invalid uploaded file")
	ErrInvalidPath    = errors.New("invalid derivative path")
	ErrNotAttached    = errors.New("no file attached")
	ErrUnknownStorage = errors.New("unknown storage")

	// ErrAttachmentChanged reports that the attachment column no longer
	// references the file an operation started from. Callers may reload and retry.
	ErrAttachmentChanged = errors.New("attachment has changed")

	// ErrInvalidAttachment is returned when saving a record whose attacher
	// collected validation errors.
	ErrInvalidAttachment = errors.New("attachment is invalid")
)
