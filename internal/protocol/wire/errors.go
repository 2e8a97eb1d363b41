package wire

import (
	"context"
	"errors"
	"strings"

	"github.com/marmos91/dittovfs/pkg/bus"
	"github.com/marmos91/dittovfs/pkg/vfs"
)

var codeToName = map[vfs.ErrorCode]string{
	vfs.CodeNotMounted:        ErrorNameNotMounted,
	vfs.CodeAlreadyRegistered: ErrorNameAlreadyRegistered,
	vfs.CodeInvalidSpec:       ErrorNameInvalidSpec,
	vfs.CodeNotSupported:      ErrorNameNotSupported,
	vfs.CodeNotFound:          ErrorNameNotFound,
	vfs.CodeNotDirectory:      ErrorNameNotDirectory,
	vfs.CodeCancelled:         ErrorNameCancelled,
	vfs.CodeClosed:            ErrorNameClosed,
	vfs.CodePending:           ErrorNamePending,
	vfs.CodeUsage:             ErrorNameUsage,
	vfs.CodeInvalidArgument:   bus.ErrorNameInvalidArgs,
	vfs.CodeProtocol:          bus.ErrorNameInvalidArgs,
}

var nameToCode = map[string]vfs.ErrorCode{
	ErrorNameNotMounted:        vfs.CodeNotMounted,
	ErrorNameAlreadyRegistered: vfs.CodeAlreadyRegistered,
	ErrorNameInvalidSpec:       vfs.CodeInvalidSpec,
	ErrorNameNotSupported:      vfs.CodeNotSupported,
	ErrorNameNotFound:          vfs.CodeNotFound,
	ErrorNameNotDirectory:      vfs.CodeNotDirectory,
	ErrorNameCancelled:         vfs.CodeCancelled,
	ErrorNameClosed:            vfs.CodeClosed,
	ErrorNamePending:           vfs.CodePending,
	ErrorNameUsage:             vfs.CodeUsage,
	bus.ErrorNameInvalidArgs:   vfs.CodeInvalidArgument,
}

// ToBusError converts a handler error into the structured error sent in a
// method reply.
func ToBusError(err error) *bus.Error {
	var be *bus.Error
	if errors.As(err, &be) {
		return be
	}

	var ve *vfs.Error
	if errors.As(err, &ve) {
		if name, ok := codeToName[ve.Code]; ok {
			return &bus.Error{Name: name, Message: ve.Error()}
		}
	}

	if errors.Is(err, context.Canceled) {
		return &bus.Error{Name: ErrorNameCancelled, Message: err.Error()}
	}
	return &bus.Error{Name: bus.ErrorNameFailed, Message: err.Error()}
}

// FromBusError restores a *vfs.Error from a method reply error when the bus
// error name maps to a known code. Other errors are returned unchanged.
func FromBusError(err error) error {
	var be *bus.Error
	if !errors.As(err, &be) {
		return err
	}
	code, ok := nameToCode[be.Name]
	if !ok {
		return err
	}
	msg := be.Message
	if msg == "" {
		msg = strings.TrimPrefix(be.Name, ErrorNamePrefix)
	}
	return &vfs.Error{Code: code, Message: msg}
}
