package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nfrund/filterbridge/internal/handlers"
	appmiddleware "github.com/nfrund/filterbridge/internal/middleware"
)

// setupErrorHandling installs the handler that turns errors returned by
// routes into ErrorResponse bodies. Errors that are not echo.HTTPError are
// unexpected and logged with a stack trace.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		logger := appmiddleware.FromContext(c.Request().Context())

		status := http.StatusInternalServerError
		resp := handlers.ErrorResponse{Code: statusCode(status), Message: http.StatusText(status)}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			resp = handlers.ErrorResponse{Code: statusCode(status), Message: fmt.Sprint(he.Message)}
			if status >= http.StatusInternalServerError {
				logger.Error("server error", "status", status, "error", err)
			}
		} else {
			logger.Error("Internal Server Error (Unhandled)",
				"error", err.Error(),
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"stack_trace", string(debug.Stack()),
			)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, resp)
		}
		if err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}

// statusCode names an HTTP status the way error codes are spelled,
// e.g. "not_found".
func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}
