package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/checkin-credits/internal/service"
)

// AccountHandler exposes the authenticated member's own ledger.
type AccountHandler struct {
	Accounts *service.Accounts
}

func NewAccountHandler(accounts *service.Accounts) *AccountHandler {
	return &AccountHandler{Accounts: accounts}
}

// Balance handles GET /v1/me/balance.
func (h *AccountHandler) Balance(c echo.Context) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}
	b, err := h.Accounts.Balance(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Statements handles GET /v1/me/statements?limit=&before=. The response
// carries next_before for fetching the following page.
func (h *AccountHandler) Statements(c echo.Context) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}
	limit, err := queryLimit(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
	}
	items, err := h.Accounts.Statements(c.Request().Context(), uid, c.QueryParam("before"), limit)
	if err != nil {
		return writeError(c, err)
	}
	resp := echo.Map{"items": items}
	if n := len(items); n > 0 {
		resp["next_before"] = items[n-1].ID
	}
	return c.JSON(http.StatusOK, resp)
}

// CheckIns handles GET /v1/me/check-ins.
func (h *AccountHandler) CheckIns(c echo.Context) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}
	limit, err := queryLimit(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
	}
	items, err := h.Accounts.CheckIns(c.Request().Context(), uid, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func queryLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
