package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/checkin-credits/internal/logging"
	"github.com/iliyamo/checkin-credits/internal/metrics"
)

const headerRequestID = "X-Request-ID"

// RequestLogger tags each request with an id, logs one line when it
// finishes and records the HTTP collectors. Routes are labelled by their
// template so ids in the path do not explode label cardinality.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx, id := logging.WithRequestID(req.Context(), req.Header.Get(headerRequestID))
			c.SetRequest(req.WithContext(ctx))
			c.Response().Header().Set(headerRequestID, id)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			elapsed := time.Since(start)
			metrics.HTTPRequestsTotal.WithLabelValues(route, req.Method, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(route, req.Method).Observe(elapsed.Seconds())

			logger := logging.FromContext(ctx)
			ev := logger.Info()
			if status >= 500 {
				ev = logger.Error().Err(err)
			}
			ev.Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", route).
				Int("status", status).
				Dur("elapsed", elapsed).
				Str("user_id", CurrentUserID(c)).
				Msg("http request")
			return nil
		}
	}
}
