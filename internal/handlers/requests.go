package handlers

import (
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/filterbridge/internal/message"
)

// CustomValidator wraps the go-playground/validator library to implement Echo's Validator interface.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new CustomValidator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements the echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// Headers carrying the sender of a one-shot message.
const (
	HeaderTabID   = "X-Tab-Id"
	HeaderFrameID = "X-Frame-Id"
	HeaderTabURL  = "X-Tab-Url"
)

// senderFrom reads the sender headers. Absent headers leave the zero value.
func senderFrom(c echo.Context) (message.Sender, error) {
	h := c.Request().Header
	var s message.Sender
	if v := h.Get(HeaderTabID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", HeaderTabID, err)
		}
		s.TabID = id
	}
	if v := h.Get(HeaderFrameID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return s, fmt.Errorf("%s: %w", HeaderFrameID, err)
		}
		s.FrameID = id
	}
	s.URL = h.Get(HeaderTabURL)
	return s, nil
}

// CreateTabRequest defines the DTO for opening a tab.
type CreateTabRequest struct {
	URL        string `json:"url" validate:"required,url"`
	Background bool   `json:"inBackground"`
}
