package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/user/stow/internal/blob"
	stowctx "github.com/user/stow/internal/context"
	"github.com/user/stow/internal/model"
)

// Exit codes
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitValidation        = 2
	ExitAttachmentChanged = 3
	ExitNotFound          = 4
	ExitStorage           = 5
	ExitConfig            = 6
)

// Error codes for structured error responses
const (
	ErrCodeAttachmentChanged = "ATTACHMENT_CHANGED"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeRecordNotFound    = "RECORD_NOT_FOUND"
	ErrCodeStashNotFound     = "STASH_NOT_FOUND"
	ErrCodeFileNotFound      = "FILE_NOT_FOUND"
	ErrCodeStorage           = "STORAGE_ERROR"
	ErrCodeConfig            = "CONFIG_ERROR"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeNoStowDir         = "NO_STOW_DIR"
	ErrCodeUsage             = "USAGE_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// JSONError represents a structured error response for --json output
type JSONError struct {
	Error   bool                   `json:"error"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// usageError marks bad arguments that cobra did not catch.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// reportedError is returned by commands that already printed their
// result and only need a non-zero exit code.
type reportedError struct{ code int }

func (e *reportedError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// classify maps an error to an exit code and error code.
func classify(err error) (int, string) {
	var (
		se *blob.StorageError
		ue *usageError
		re *reportedError
	)
	switch {
	case errors.As(err, &re):
		return re.code, ""
	case errors.As(err, &ue):
		return ExitValidation, ErrCodeUsage
	case errors.Is(err, stowctx.ErrNoStowDir):
		return ExitFailure, ErrCodeNoStowDir
	case errors.Is(err, stowctx.ErrNoStash), errors.Is(err, model.ErrStashNotFound):
		return ExitFailure, ErrCodeStashNotFound
	case errors.Is(err, model.ErrAttachmentChanged):
		return ExitAttachmentChanged, ErrCodeAttachmentChanged
	case errors.Is(err, model.ErrRecordNotFound):
		return ExitNotFound, ErrCodeRecordNotFound
	case errors.Is(err, model.ErrFileNotFound):
		return ExitNotFound, ErrCodeFileNotFound
	case errors.Is(err, model.ErrConfiguration), errors.Is(err, model.ErrUnknownStorage):
		return ExitConfig, ErrCodeConfig
	case errors.Is(err, model.ErrInvalidAttachment),
		errors.Is(err, model.ErrInvalidFile),
		errors.Is(err, model.ErrInvalidPath),
		errors.Is(err, model.ErrInvalidPrefix),
		errors.Is(err, model.ErrInvalidColumn),
		errors.Is(err, model.ErrInvalidID),
		errors.Is(err, model.ErrReservedColumn),
		errors.Is(err, model.ErrColumnNotFound),
		errors.Is(err, model.ErrNotAttached):
		return ExitValidation, ErrCodeValidation
	case errors.Is(err, model.ErrStashExists), errors.Is(err, model.ErrColumnExists):
		return ExitFailure, ErrCodeConflict
	case errors.As(err, &se):
		return ExitStorage, ErrCodeStorage
	case isCobraUsage(err):
		return ExitValidation, ErrCodeUsage
	}
	return ExitFailure, ErrCodeInternal
}

// isCobraUsage recognises argument and flag errors, which cobra returns
// as plain strings.
func isCobraUsage(err error) bool {
	msg := err.Error()
	for _, prefix := range []string{"accepts ", "requires ", "unknown command", "unknown flag", "unknown shorthand", "invalid argument", "required flag"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

// reportError writes err and returns the exit code. With --json the error
// goes to stdout as a JSONError; otherwise to stderr as text.
func reportError(stdout, stderr io.Writer, err error) int {
	code, errCode := classify(err)
	if errCode == "" {
		return code
	}
	if GetJSONOutput() {
		data, _ := json.Marshal(JSONError{
			Error:   true,
			Code:    errCode,
			Message: err.Error(),
			Details: errorDetails(err),
		})
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return code
}

func errorDetails(err error) map[string]interface{} {
	var se *blob.StorageError
	if errors.As(err, &se) {
		return map[string]interface{}{"op": se.Op, "storage": se.Storage, "id": se.ID}
	}
	return nil
}
