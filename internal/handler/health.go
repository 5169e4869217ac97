package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health reports liveness plus database reachability for load balancers.
type Health struct {
	DB *sql.DB
}

// Check handles GET /healthz. It returns 503 when the database does not
// answer a ping within two seconds.
func (h Health) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unavailable", "db": err.Error()})
		}
	}
	return c.String(http.StatusOK, "ok")
}
