package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter limits each caller to perSecond requests with the given
// burst. Callers are told apart by their X-Tab-Id header, falling back to
// the client IP for requests that name no tab.
func RateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	config := middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:  rate.Limit(perSecond),
			Burst: burst,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			if tab := c.Request().Header.Get("X-Tab-Id"); tab != "" {
				return "tab:" + tab, nil
			}
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"code":    "rate_limited",
				"message": "too many requests",
			})
		},
	}
	return middleware.RateLimiterWithConfig(config)
}
