package detection

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidFileType  = errors.New("Please select an image or video file")
	ErrNoContent        = errors.New("media asset has no content source")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNotSuccessful    = errors.New("result is not available")
	ErrMalformedPayload = errors.New("malformed detection payload")
)

// ErrorKind classifies a failed attempt.
type ErrorKind string

const (
	KindInvalidInput   ErrorKind = "invalid_input"
	KindTimeout        ErrorKind = "timeout"
	KindTransport      ErrorKind = "transport"
	KindServerRejected ErrorKind = "server_rejected"
)

// Error is the failure carried by the Failed and RetryPending states.
type Error struct {
	Kind    ErrorKind
	Message string
	// Permanent marks a server rejection that resubmission will not fix.
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry policy may run another attempt.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindTransport:
		return true
	case KindServerRejected:
		return !e.Permanent
	default:
		return false
	}
}

func InvalidInput(err error) *Error {
	return &Error{Kind: KindInvalidInput, Message: err.Error(), Err: err}
}

func Timeout(d time.Duration) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf("request timed out after %s", d), Err: context.DeadlineExceeded}
}

func TransportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}

// Rejected builds a ServerRejected error from the service's own message.
func Rejected(msg string, permanent bool) *Error {
	if msg == "" {
		msg = "detection service rejected the request"
	}
	return &Error{Kind: KindServerRejected, Message: msg, Permanent: permanent}
}

// Exhausted wraps the last cause once the retry budget is spent.
func Exhausted(attempts int, last *Error) *Error {
	return &Error{
		Kind:      last.Kind,
		Message:   fmt.Sprintf("Failed after %d attempts: %s", attempts, last.Message),
		Permanent: last.Permanent,
		Err:       errors.Join(ErrRetriesExhausted, last),
	}
}

// AsError classifies any error, defaulting to Transport.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return TransportError(err)
}
