package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

var (
	// ErrTimeout is the cancellation cause when the upstream call runs out of time.
	ErrTimeout = errors.New("upstream timeout")
	// ErrIdleTimeout is the cancellation cause when no line arrives in time.
	ErrIdleTimeout = fmt.Errorf("no data received: %w", ErrTimeout)
	// ErrClientGone is returned when the inbound client can no longer be written to.
	ErrClientGone = errors.New("client disconnected")
)

// StatusError is returned when the upstream rejects the request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("API Error: %d - %s", e.StatusCode, e.Body)
}

// ConnectionError is a network level failure talking to the upstream.
type ConnectionError struct {
	Err error
}

func (e ConnectionError) Error() string {
	return fmt.Sprintf("Connection error: %v", e.Err)
}

func (e ConnectionError) Unwrap() error {
	return e.Err
}

// UnexpectedError is any failure that isn't otherwise classified.
type UnexpectedError struct {
	Err error
}

func (e UnexpectedError) Error() string {
	return fmt.Sprintf("Unexpected error: %v", e.Err)
}

func (e UnexpectedError) Unwrap() error {
	return e.Err
}

const timeoutMessage = "Request timeout. Please try again."

// Outcome of a relay, used for logs and metrics.
type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeStatusError     Outcome = "status_error"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeConnectionError Outcome = "connection_error"
	OutcomeUnexpectedError Outcome = "unexpected_error"
	OutcomeClientGone      Outcome = "client_gone"
)

// classify maps an upstream failure to its outcome and the message sent to
// the client. ctx is the upstream context, parent is the inbound request
// context.
func classify(parent, ctx context.Context, err error) (outcome Outcome, message string) {
	if parent.Err() != nil || errors.Is(err, ErrClientGone) {
		return OutcomeClientGone, ""
	}
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		return OutcomeStatusError, statusErr.Error()
	}
	if isTimeout(ctx, err) {
		return OutcomeTimeout, timeoutMessage
	}
	if isConnectionError(err) {
		return OutcomeConnectionError, ConnectionError{Err: err}.Error()
	}
	return OutcomeUnexpectedError, UnexpectedError{Err: err}.Error()
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
