package handler // HTTP handlers translating requests into service calls

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/checkin-credits/internal/logging"
	"github.com/iliyamo/checkin-credits/internal/middleware"
	"github.com/iliyamo/checkin-credits/internal/repository"
	"github.com/iliyamo/checkin-credits/internal/service"
)

// errorStatus maps service errors onto HTTP status codes and stable error
// codes clients can switch on.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{service.ErrValidation, http.StatusBadRequest, "invalid_input"},
	{service.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
	{service.ErrPlanExpired, http.StatusForbidden, "plan_expired"},
	{service.ErrUserNotActivated, http.StatusForbidden, "user_not_activated"},
	{service.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{service.ErrEventNotFound, http.StatusNotFound, "event_not_found"},
	{service.ErrPlanNotFound, http.StatusNotFound, "plan_not_found"},
	{service.ErrReservationNotFound, http.StatusNotFound, "reservation_not_found"},
	{repository.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrAlreadyReserved, http.StatusConflict, "already_reserved"},
	{service.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded"},
	{service.ErrCheckInWindowClosed, http.StatusConflict, "check_in_window_closed"},
	{service.ErrDuplicateExternalEvent, http.StatusConflict, "duplicate_external_event"},
	{service.ErrEventNotReservable, http.StatusUnprocessableEntity, "event_not_reservable"},
}

// writeError renders err as {"error": code, "message": text}. Unknown
// errors are logged and hidden behind a 500.
func writeError(c echo.Context, err error) error {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			body := echo.Map{"error": m.code, "message": err.Error()}
			var ve service.ValidationError
			if errors.As(err, &ve) {
				body["field"] = ve.Field
			}
			return c.JSON(m.status, body)
		}
	}
	logger := logging.FromContext(c.Request().Context())
	logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error"})
}

// userID returns the authenticated subject set by middleware.JWTAuth.
func userID(c echo.Context) (string, bool) {
	id := middleware.CurrentUserID(c)
	return id, id != ""
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}
