// Package errs defines the error kinds surfaced by the PAM query core.
//
// Every failure the core detects itself is built on one of these
// sentinels, checkable with errors.Is; errors returned by collaborators
// pass through unchanged. A BadRequest keeps its cause reachable, so it
// also matches the cause's own kind. Unlike github.com/pkg/errors.Wrap
// (which prefixes a cause's own message onto the annotation), a kindError
// carries its message verbatim — the pipeline's BadRequest contract
// requires the surfaced text to be exactly the inner error's message, not
// a further-annotated one.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers a missing session, account, or resource.
	ErrNotFound = errors.New("not found")
	// ErrSessionEnded means the session's status is Ended.
	ErrSessionEnded = errors.New("Session has ended")
	// ErrSessionExpired means the session's expiresAt is not strictly in the future.
	ErrSessionExpired = errors.New("Session has expired")
	// ErrGatewayUnavailable covers a resource without a gateway, or a gateway
	// service call that returned no bundle.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	// ErrTunnel covers relay/gateway handshake or transport failures.
	ErrTunnel = errors.New("tunnel error")
	// ErrDriver covers database connection or query failures.
	ErrDriver = errors.New("driver error")
	// ErrBadRequest is the catch-all surfaced to HTTP callers.
	ErrBadRequest = errors.New("bad request")
)

// kindError pairs a sentinel kind with a verbatim message, optionally
// chaining to a deeper cause for errors.Is/As to drill through.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return e.kind == target }

func (e *kindError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.kind
}

func newKind(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// NotFound wraps ErrNotFound with a specific message, e.g. "Account not found".
func NotFound(msg string) error { return newKind(ErrNotFound, msg) }

// GatewayUnavailable wraps ErrGatewayUnavailable with a specific message.
func GatewayUnavailable(msg string) error { return newKind(ErrGatewayUnavailable, msg) }

// Tunnel wraps ErrTunnel with a specific message.
func Tunnel(msg string) error { return newKind(ErrTunnel, msg) }

// Tunnelf wraps ErrTunnel with a formatted message.
func Tunnelf(format string, args ...interface{}) error {
	return newKind(ErrTunnel, fmt.Sprintf(format, args...))
}

// Driver wraps ErrDriver with a specific message.
func Driver(msg string) error { return newKind(ErrDriver, msg) }

// Driverf wraps ErrDriver with a formatted message.
func Driverf(format string, args ...interface{}) error {
	return newKind(ErrDriver, fmt.Sprintf(format, args...))
}

// BadRequest surfaces err's own message verbatim under the BadRequest
// kind, falling back to a default message when err is nil. The original
// error remains reachable via errors.Unwrap for logging/metrics.
func BadRequest(err error) error {
	if err == nil {
		return &kindError{kind: ErrBadRequest, msg: "Failed to execute query via gateway"}
	}
	return &kindError{kind: ErrBadRequest, msg: err.Error(), cause: err}
}
