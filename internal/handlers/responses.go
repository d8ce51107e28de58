package handlers

import (
	"context"
	"errors"

	"github.com/nfrund/filterbridge/internal/router"
)

// ErrorResponse is the standard format for API error responses.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes of a rejected reply.
const (
	CodeUnknownType    = "unknown_type"
	CodeInvalidType    = "invalid_type"
	CodeInvalidPayload = "invalid_payload"
	CodeHandlerPanic   = "handler_panic"
	CodeTimeout        = "timeout"
	CodeHandlerError   = "handler_error"
	CodeBadEnvelope    = "bad_envelope"
)

// rejection maps a dispatch failure to the reply the page receives.
func rejection(err error) ErrorResponse {
	code := CodeHandlerError
	switch {
	case errors.Is(err, router.ErrUnknownType):
		code = CodeUnknownType
	case errors.Is(err, router.ErrInvalidType):
		code = CodeInvalidType
	case errors.Is(err, router.ErrInvalidPayload):
		code = CodeInvalidPayload
	case errors.Is(err, router.ErrHandlerPanic):
		code = CodeHandlerPanic
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	}
	return ErrorResponse{Code: code, Message: err.Error()}
}
