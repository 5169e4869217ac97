package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/checkin-credits/internal/middleware"
	"github.com/iliyamo/checkin-credits/internal/repository"
	"github.com/iliyamo/checkin-credits/internal/service"
)

// EventHandler serves the public event view and member check-ins. All
// check-in routes run behind JWTAuth.
type EventHandler struct {
	Events    *repository.EventRepo
	Scheduler *service.Scheduler
	Cache     *middleware.ResponseCache // nil when caching is off
}

func NewEventHandler(events *repository.EventRepo, scheduler *service.Scheduler, cache *middleware.ResponseCache) *EventHandler {
	if events == nil || scheduler == nil {
		panic("nil dependency passed to NewEventHandler")
	}
	return &EventHandler{Events: events, Scheduler: scheduler, Cache: cache}
}

func eventID(c echo.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	return id, id != ""
}

// GetEvent handles GET /v1/events/:id and returns the event with its
// current occupancy.
func (h *EventHandler) GetEvent(c echo.Context) error {
	id, ok := eventID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	av, err := h.Events.Availability(c.Request().Context(), id)
	if err != nil {
		return writeError(c, eventErr(err))
	}
	return c.JSON(http.StatusOK, av)
}

// CheckIn handles POST /v1/events/:id/check-in. It returns 201 with the
// created check-in.
func (h *EventHandler) CheckIn(c echo.Context) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := eventID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	ci, err := h.Scheduler.CheckIn(c.Request().Context(), uid, id)
	if err != nil {
		return writeError(c, err)
	}
	h.purge(c, id)
	return c.JSON(http.StatusCreated, ci)
}

// Cancel handles DELETE /v1/events/:id/check-in and refunds the credit.
func (h *EventHandler) Cancel(c echo.Context) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := eventID(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid event id"})
	}
	if err := h.Scheduler.Cancel(c.Request().Context(), uid, id); err != nil {
		return writeError(c, err)
	}
	h.purge(c, id)
	return c.NoContent(http.StatusNoContent)
}

// purge drops the cached public view so seats_left is fresh.
func (h *EventHandler) purge(c echo.Context, id string) {
	h.Cache.Purge(c.Request().Context(), "/v1/events/"+id)
}

// eventErr turns a missing row into the service's not-found error.
func eventErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return service.ErrEventNotFound
	}
	return err
}
