package chat

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every error that makes a call a no-op.
var ErrValidation = errors.New("chat validation failed")

var (
	// ErrEmptyMessage is returned when the message is blank after trimming.
	ErrEmptyMessage = fmt.Errorf("%w: message is empty", ErrValidation)
	// ErrMessageTooLong is returned when the message exceeds the configured limit.
	ErrMessageTooLong = fmt.Errorf("%w: message is too long", ErrValidation)
	// ErrInFlight is returned while another delivery runs for the same session.
	ErrInFlight = fmt.Errorf("%w: a delivery is already in flight", ErrValidation)
	// ErrNoPriorMessage is returned by Regenerate before any message was sent.
	ErrNoPriorMessage = fmt.Errorf("%w: no previous message to regenerate", ErrValidation)
)

// NetworkError reports an endpoint that could not be reached, answered with a
// non-2xx status, or returned an unreadable body.
type NetworkError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chat endpoint %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chat endpoint %s: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ApplicationError reports an endpoint that answered but flagged a failure.
type ApplicationError struct {
	Endpoint string
	Message  string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("chat endpoint %s reported failure: %s", e.Endpoint, e.Message)
}

// Reason returns a short machine-readable reason for a validation error, or
// "" if err is not one.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, ErrMessageTooLong):
		return "message_too_long"
	case errors.Is(err, ErrInFlight):
		return "in_flight"
	case errors.Is(err, ErrNoPriorMessage):
		return "no_prior_message"
	default:
		return ""
	}
}
