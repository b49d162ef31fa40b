package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	wsadapter "github.com/pscheid92/sensorrelay/internal/adapter/websocket"
	apperrors "github.com/pscheid92/sensorrelay/internal/platform/errors"
)

// logLevels maps each error type to the level its rejections are logged at.
// Client mistakes are routine for a relay facing devices, so only internal
// failures log as errors.
var logLevels = map[apperrors.ErrorType]slog.Level{
	apperrors.TypeValidation:  slog.LevelInfo,
	apperrors.TypeRateLimited: slog.LevelWarn,
	apperrors.TypeUnavailable: slog.LevelWarn,
	apperrors.TypeInternal:    slog.LevelError,
}

// ErrorHandlingMiddleware turns handler errors into JSON error bodies. Echo's
// own HTTPErrors (404, 405 and friends) are left to Echo.
func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			var httpErr *echo.HTTPError
			if err == nil || errors.As(err, &httpErr) {
				return err
			}
			return HandleError(c, err)
		}
	}
}

// HandleError logs err and writes it as an ErrorResponse unless a response has
// already been started. Non-structured errors are reported as internal.
func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	appErr := apperrors.AsStructuredError(err)
	logRejection(c, appErr)

	if c.Response().Committed {
		return nil
	}
	if err := c.JSON(appErr.HTTPStatus(), appErr.ToResponse()); err != nil {
		return fmt.Errorf("write error response: %w", err)
	}
	return nil
}

func logRejection(c echo.Context, err *apperrors.Error) {
	req := c.Request()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"method", req.Method,
		"path", req.URL.Path,
		"status", err.HTTPStatus(),
		"remote", wsadapter.RemoteLabel(req),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if err.Cause != nil {
		attrs = append(attrs, "cause", err.Cause)
	}

	level, ok := logLevels[err.Type]
	if !ok {
		level = slog.LevelError
	}
	slog.Log(req.Context(), level, "Request rejected", attrs...)
}
