package core

import (
	"errors"
	"fmt"

	"github.com/gatewaycore/core/api/wire"
)

// Sentinel errors for use with errors.Is, matching the shape of spec.md §7's
// fixed taxonomy one level below the wire encoding.
var (
	ErrSessionNotFound  = errors.New("no such session")
	ErrHandleNotFound   = errors.New("no such handle")
	ErrPluginNotFound   = errors.New("no such plugin")
	ErrSessionConflict  = errors.New("session id already in use")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnauthorizedPlugin = errors.New("token not authorized for plugin")
	ErrTokenNotFound    = errors.New("token not found")
	ErrUnknownRequest   = errors.New("unknown request")
	ErrMissingMandatory = errors.New("missing mandatory element")
	ErrInvalidJSEPType  = errors.New("unknown JSEP type")
	ErrInvalidSDP       = errors.New("invalid SDP")
	ErrUnexpectedAnswer = errors.New("unexpected answer, no offer pending")
	ErrWebRTCState      = errors.New("invalid WebRTC state for this operation")
)

// Error is the core's typed error, carrying the wire error code alongside
// a human reason and an optional wrapped cause. Every verb handler returns
// one of these (or a plain error, which ToReply maps to a code) so the dispatcher
// can build the {janus:"error"} envelope without re-deriving a code.
type Error struct {
	Code   wire.ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds an *Error from a wire code and an underlying cause, using the
// code's default reason string.
func Wrap(code wire.ErrorCode, err error) *Error {
	return &Error{Code: code, Reason: code.Reason(), Err: err}
}

// Newf builds an *Error from a wire code and a formatted reason, with no
// wrapped cause.
func Newf(code wire.ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// ToReply maps any error into the wire error reply envelope. A *core.Error
// contributes its own code and reason; an error wrapping ErrSessionNotFound
// or ErrHandleNotFound maps to that wire code with its default reason; any
// other error maps to ErrInternal so internal detail never leaks onto the
// wire.
func ToReply(transaction string, err error) *wire.Reply {
	var ce *Error
	if errors.As(err, &ce) {
		return wire.NewError(transaction, int(ce.Code), ce.Reason)
	}
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return wire.NewError(transaction, int(wire.ErrSessionNotFound), wire.ErrSessionNotFound.Reason())
	case errors.Is(err, ErrHandleNotFound):
		return wire.NewError(transaction, int(wire.ErrHandleNotFound), wire.ErrHandleNotFound.Reason())
	default:
		return wire.NewError(transaction, int(wire.ErrInternal), wire.ErrInternal.Reason())
	}
}
