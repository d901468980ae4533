package session

import (
	"errors"
	"fmt"
)

// Code classifies a lifecycle or storage failure.
type Code int

const (
	CodeInvalidArgument Code = iota + 1
	CodeNameConflict
	CodePermissionDenied
	CodeVersionRequired
	CodeVersionIncompatible
	CodeNotFound
	CodeStorageCorrupt
	CodeStorageIO
)

// String returns the taxonomy name for the code.
func (c Code) String() string {
	switch c {
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeNameConflict:
		return "NameConflict"
	case CodePermissionDenied:
		return "PermissionDenied"
	case CodeVersionRequired:
		return "VersionRequired"
	case CodeVersionIncompatible:
		return "VersionIncompatible"
	case CodeNotFound:
		return "NotFound"
	case CodeStorageCorrupt:
		return "StorageCorrupt"
	case CodeStorageIO:
		return "StorageIO"
	default:
		return "Unknown"
	}
}

// Error pairs a taxonomy code with a human-readable reason. Failed requests
// report both; none of them are fatal to the server process.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a taxonomy error with a formatted reason.
func Errorf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// WrapStorage classifies an underlying storage failure, keeping the cause.
func WrapStorage(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf extracts the taxonomy code from err, or false if err is not ours.
func CodeOf(err error) (Code, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
