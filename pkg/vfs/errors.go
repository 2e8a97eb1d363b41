package vfs

import "errors"

// Error represents a domain error raised by the enumerator, the mount
// registry or one of the backends.
//
// Transport adapters translate the Code to a bus error name so that the
// category survives the round trip between processes (see
// internal/protocol/wire).
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the object path or file path related to the error (if any)
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// Is matches any *Error carrying the same Code, so callers can write
// errors.Is(err, vfs.ErrNotMounted).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode represents the category of an Error.
type ErrorCode int

const (
	// CodeProtocol indicates a malformed inbound payload
	CodeProtocol ErrorCode = iota

	// CodeUsage indicates an API used in the wrong mode, e.g. blocking
	// reads on an enumerator created for asynchronous use
	CodeUsage

	// CodeCancelled indicates an asynchronous request was aborted by its
	// cancellation token
	CodeCancelled

	// CodeAlreadyRegistered indicates a duplicate (owner, object path) pair
	CodeAlreadyRegistered

	// CodeInvalidSpec indicates a mount spec that could not be decoded
	CodeInvalidSpec

	// CodeNotMounted indicates no mount matches the request
	CodeNotMounted

	// CodeClosed indicates the object was already closed
	CodeClosed

	// CodePending indicates another request is still outstanding
	CodePending

	// CodeNotSupported indicates the operation is not available on the object
	CodeNotSupported

	// CodeInvalidArgument indicates malformed arguments to a call
	CodeInvalidArgument

	// CodeNotFound indicates the requested directory does not exist
	CodeNotFound

	// CodeNotDirectory indicates the path exists but is not a directory
	CodeNotDirectory
)

func (c ErrorCode) String() string {
	switch c {
	case CodeProtocol:
		return "Protocol"
	case CodeUsage:
		return "Usage"
	case CodeCancelled:
		return "Cancelled"
	case CodeAlreadyRegistered:
		return "AlreadyRegistered"
	case CodeInvalidSpec:
		return "InvalidSpec"
	case CodeNotMounted:
		return "NotMounted"
	case CodeClosed:
		return "Closed"
	case CodePending:
		return "Pending"
	case CodeNotSupported:
		return "NotSupported"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeNotFound:
		return "NotFound"
	case CodeNotDirectory:
		return "NotDirectory"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is comparisons.
var (
	ErrProtocol          = &Error{Code: CodeProtocol, Message: "malformed message"}
	ErrUsage             = &Error{Code: CodeUsage, Message: "invalid usage"}
	ErrCancelled         = &Error{Code: CodeCancelled, Message: "operation was cancelled"}
	ErrAlreadyRegistered = &Error{Code: CodeAlreadyRegistered, Message: "mountpoint already registered"}
	ErrInvalidSpec       = &Error{Code: CodeInvalidSpec, Message: "error in mount spec"}
	ErrNotMounted        = &Error{Code: CodeNotMounted, Message: "location is not mounted"}
	ErrClosed            = &Error{Code: CodeClosed, Message: "already closed"}
	ErrPending           = &Error{Code: CodePending, Message: "operation already pending"}
	ErrNotSupported      = &Error{Code: CodeNotSupported, Message: "operation not supported"}
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument, Message: "invalid arguments"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "no such file or directory"}
	ErrNotDirectory      = &Error{Code: CodeNotDirectory, Message: "not a directory"}
)

// NewError builds an Error with the given code and message.
func NewError(code ErrorCode, message, path string) *Error {
	return &Error{Code: code, Message: message, Path: path}
}

// CodeOf extracts the ErrorCode from err. ok is false when err is not
// (and does not wrap) an *Error.
func CodeOf(err error) (code ErrorCode, ok bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// IsNotMounted reports whether err is a NotMounted error.
func IsNotMounted(err error) bool {
	return errors.Is(err, ErrNotMounted)
}

// IsCancelled reports whether err is a Cancelled error.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
