package avatax

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies provider failures for the fallback policy.
type Kind string

const (
	// KindTransport covers timeouts and connection failures.
	KindTransport Kind = "TimeoutError"
	// KindAPI is a request the provider rejected.
	KindAPI Kind = "ApiError"
	// KindGeneric is any other provider failure.
	KindGeneric Kind = "Error"
)

// ErrCanceled is returned when the caller gave up on a request. It is not a
// provider failure and never reaches the fallback policy.
var ErrCanceled = errors.New("avatax_request_canceled")

// Error is returned by every Client call that fails on the provider side.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("avatax %s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("avatax %s %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a provider error from err's chain.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func transportError(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Message: err.Error(), Err: err}
}

func canceledError(caller context.Context, op string) error {
	if errors.Is(caller.Err(), context.Canceled) {
		return fmt.Errorf("avatax %s: %w: %w", op, ErrCanceled, caller.Err())
	}
	return nil
}

// classifyDoError maps an http.Client.Do failure to a provider error.
func classifyDoError(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return transportError(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transportError(op, err)
	}
	return &Error{Kind: KindGeneric, Op: op, Message: err.Error(), Err: err}
}
