package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	wsadapter "github.com/pscheid92/sensorrelay/internal/adapter/websocket"
	apperrors "github.com/pscheid92/sensorrelay/internal/platform/errors"
	"golang.org/x/time/rate"
)

const visitorExpiry = 5 * time.Minute

// assetRateLimiter throttles static and version requests per origin label, the
// same key the upgrade limiter uses, so one noisy host is limited consistently.
func assetRateLimiter(perSecond float64, burst int) echo.MiddlewareFunc {
	visitors := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(perSecond),
		Burst:     burst,
		ExpiresIn: visitorExpiry,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: visitors,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return wsadapter.RemoteLabel(c.Request()), nil
		},
		DenyHandler: func(c echo.Context, origin string, _ error) error {
			err := apperrors.RateLimitedError("too many requests").WithField("origin", origin)
			return HandleError(c, err)
		},
	})
}
