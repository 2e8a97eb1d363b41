package bus

import (
	"errors"
	"fmt"
)

// Well-known error names shared with the D-Bus specification.
const (
	ErrorNameFailed         = "org.freedesktop.DBus.Error.Failed"
	ErrorNameInvalidArgs    = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorNameUnknownMethod  = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrorNameUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	ErrorNameServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	ErrorNameNoReply        = "org.freedesktop.DBus.Error.NoReply"
	ErrorNameDisconnected   = "org.freedesktop.DBus.Error.Disconnected"
)

// Error is a structured error carried in a method reply.
type Error struct {
	Name    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// NewError creates an Error with a formatted message.
func NewError(name, format string, v ...any) *Error {
	return &Error{Name: name, Message: fmt.Sprintf(format, v...)}
}

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = &Error{Name: ErrorNameDisconnected, Message: "connection is closed"}

// ErrorName returns the bus error name carried by err, or "" if err is not
// a bus error.
func ErrorName(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Name
	}
	return ""
}
