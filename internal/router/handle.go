package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/nfrund/filterbridge/internal/message"
)

var validate = validator.New()

// Handle adapts a typed handler. The payload is decoded into T and, when T is
// a struct, checked against its validate tags before fn runs.
func Handle[T any](fn func(ctx context.Context, payload T, sender message.Sender) (any, error)) HandlerFunc {
	return func(ctx context.Context, msg message.Message, sender message.Sender) (any, error) {
		var payload T
		if err := msg.Decode(&payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		if err := validate.Struct(payload); err != nil {
			var invalid *validator.InvalidValidationError
			if !errors.As(err, &invalid) {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, msg.Type, err)
			}
		}
		return fn(ctx, payload, sender)
	}
}

// Func adapts a handler that takes no payload.
func Func(fn func(ctx context.Context, sender message.Sender) (any, error)) HandlerFunc {
	return func(ctx context.Context, _ message.Message, sender message.Sender) (any, error) {
		return fn(ctx, sender)
	}
}

// OrDefault replies with def instead of failing when h returns an error.
// Panics are not absorbed.
func OrDefault(h HandlerFunc, def any) HandlerFunc {
	return func(ctx context.Context, msg message.Message, sender message.Sender) (any, error) {
		result, err := h(ctx, msg, sender)
		if err != nil {
			return def, nil
		}
		return result, nil
	}
}
