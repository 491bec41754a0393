package wire

// ErrorCode enumerates the fixed wire error taxonomy from spec.md §7. The
// integer values are part of the wire contract and must never be
// renumbered once assigned.
type ErrorCode int

const (
	ErrUnauthorized        ErrorCode = 403
	ErrUnauthorizedPlugin  ErrorCode = 405
	ErrTokenNotFound       ErrorCode = 406

	ErrUnknownRequest      ErrorCode = 450
	ErrMissingMandatory    ErrorCode = 451
	ErrInvalidElementType  ErrorCode = 452
	ErrInvalidJSON         ErrorCode = 453
	ErrInvalidJSONObject   ErrorCode = 454

	ErrSessionNotFound ErrorCode = 458
	ErrHandleNotFound  ErrorCode = 459
	ErrPluginNotFound  ErrorCode = 460
	ErrSessionConflict ErrorCode = 461

	ErrJSEPUnknownType ErrorCode = 464
	ErrJSEPInvalidSDP  ErrorCode = 465
	ErrUnexpectedAnswer ErrorCode = 466
	ErrWebRTCState     ErrorCode = 467

	ErrPluginAttach  ErrorCode = 470
	ErrPluginDetach  ErrorCode = 471
	ErrPluginMessage ErrorCode = 472

	ErrUnknown  ErrorCode = 490
	ErrInternal ErrorCode = 491
)

// reasons gives the default human-readable reason string for each code.
// Callers may override with a more specific message at the call site.
var reasons = map[ErrorCode]string{
	ErrUnauthorized:       "Unauthorized request (wrong or missing secret/token)",
	ErrUnauthorizedPlugin: "Unauthorized access to plugin (token doesn't have it in its allowed list)",
	ErrTokenNotFound:      "Could not find specified token",

	ErrUnknownRequest:     "Unknown request",
	ErrMissingMandatory:   "Missing mandatory element",
	ErrInvalidElementType: "Invalid element type",
	ErrInvalidJSON:        "JSON error: invalid candidate object or array",
	ErrInvalidJSONObject:  "JSON error: not an object",

	ErrSessionNotFound: "No such session",
	ErrHandleNotFound:  "No such handle",
	ErrPluginNotFound:  "No such plugin",
	ErrSessionConflict: "Session ID already in use",

	ErrJSEPUnknownType:  "JSEP error: unknown JSEP type",
	ErrJSEPInvalidSDP:   "JSEP error: invalid SDP",
	ErrUnexpectedAnswer: "JSEP error: unexpected answer (no offer)",
	ErrWebRTCState:      "WebRTC state error (e.g. already cleaning a context)",

	ErrPluginAttach:  "Error attaching plugin",
	ErrPluginDetach:  "Error detaching plugin",
	ErrPluginMessage: "Error pushing event to plugin",

	ErrUnknown:  "Unknown error",
	ErrInternal: "Internal error",
}

// Reason returns the default human string for a code.
func (c ErrorCode) Reason() string {
	if r, ok := reasons[c]; ok {
		return r
	}
	return "Unknown error"
}
