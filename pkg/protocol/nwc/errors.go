package nwc

import "fmt"

// Error codes surfaced to clients.
const (
	CodeNotImplemented = "NOT_IMPLEMENTED"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeRestricted     = "RESTRICTED"
	CodeQuotaExceeded  = "QUOTA_EXCEEDED"
	CodePaymentFailed  = "PAYMENT_FAILED"
	CodeInternal       = "INTERNAL"
)

// Error is the client-visible failure of a request. It is a value in the
// response payload, not a Go error: protocol failures that must stay
// invisible (bad signatures, undecryptable payloads) never become one.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Errf builds an Error with a formatted message.
func Errf(code, format string, a ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, a...)}
}

// Internal wraps a Go error for the wire.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: err.Error()}
}
