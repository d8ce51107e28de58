package router

import (
	"errors"
	"fmt"

	"github.com/nfrund/filterbridge/internal/message"
)

var (
	// ErrDuplicateType is returned when a handler is already registered for
	// the message type.
	ErrDuplicateType = errors.New("listener has already been registered")
	// ErrInvalidType is returned when registering a type outside the known set.
	ErrInvalidType = errors.New("invalid message type")
	// ErrUnknownType is the legacy router's rejection for an unhandled type.
	ErrUnknownType = errors.New("there is no such message type")
	// ErrHandlerPanic wraps a panic recovered from a handler.
	ErrHandlerPanic = errors.New("message handler panicked")
	// ErrInvalidPayload is returned when a payload fails to decode or validate.
	ErrInvalidPayload = errors.New("invalid message payload")
)

// RegistrationError describes a failed Register call.
type RegistrationError struct {
	Router string
	Type   message.Type
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s router: %s %s", e.Router, e.Type, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}
