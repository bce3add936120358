package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	apperrors "github.com/prehensile/vidille/internal/errors"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits each client address. Denied requests count as unavailable
// errors in the HTTP error metric.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     max(burst, 1),
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			apperrors.HTTPErrorsTotal.WithLabelValues(string(apperrors.TypeUnavailable)).Inc()
			c.Response().Header().Set("Retry-After", "1")
			return c.JSON(http.StatusTooManyRequests, apperrors.ErrorResponse{
				Error: "too many requests",
				Type:  apperrors.TypeUnavailable,
				Context: map[string]any{
					"client": identifier,
				},
			})
		},
	})
}
