package capsule

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeUsage indicates a programming error in a node: a reserved or
	// repeated key, a node passed as a value, an unregistered node type.
	CodeUsage ErrorCode = "USAGE"

	// CodeSave indicates a node's Save returned an error of its own.
	CodeSave ErrorCode = "SAVE"

	// CodeIO indicates the backend failed to read, write or delete.
	CodeIO ErrorCode = "IO"

	// CodeUnknownCapsule indicates a capsule ID that was never registered.
	CodeUnknownCapsule ErrorCode = "UNKNOWN_CAPSULE"

	// CodeMigration indicates a migration step failed.
	CodeMigration ErrorCode = "MIGRATION"
)

// Error is returned by Engine operations.
type Error struct {
	Code        ErrorCode
	CapsuleID   string
	ReferenceID string
	Message     string
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (capsule=%s", e.Code, e.Message, e.CapsuleID)
	if e.ReferenceID != "" {
		msg += ", ref=" + e.ReferenceID
	}
	msg += ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsUsageError reports whether err is a usage violation.
func IsUsageError(err error) bool { return hasCode(err, CodeUsage) }

// IsIOError reports whether err is a backend failure.
func IsIOError(err error) bool { return hasCode(err, CodeIO) }

// IsUnknownCapsule reports whether err names an unregistered capsule.
func IsUnknownCapsule(err error) bool { return hasCode(err, CodeUnknownCapsule) }

// IsMigrationError reports whether err is a failed migration.
func IsMigrationError(err error) bool { return hasCode(err, CodeMigration) }
