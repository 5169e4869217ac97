package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/checkin-credits/internal/service"
)

// AdminHandler groups operator endpoints. Routes are registered behind
// RequireRole(ADMIN).
type AdminHandler struct {
	Accounts     *service.Accounts
	Scheduler    *service.Scheduler
	Ledger       *service.CreditLedger
	TrialCredits int64
}

func NewAdminHandler(accounts *service.Accounts, scheduler *service.Scheduler, ledger *service.CreditLedger, trialCredits int64) *AdminHandler {
	return &AdminHandler{Accounts: accounts, Scheduler: scheduler, Ledger: ledger, TrialCredits: trialCredits}
}

// Grant handles POST /v1/admin/users/:id/grants.
func (h *AdminHandler) Grant(c echo.Context) error {
	uid := strings.TrimSpace(c.Param("id"))
	var req service.GrantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	st, err := h.Accounts.Grant(c.Request().Context(), uid, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, st)
}

// Activate handles POST /v1/admin/users/:id/activate and grants the
// configured trial credits the first time.
func (h *AdminHandler) Activate(c echo.Context) error {
	uid := strings.TrimSpace(c.Param("id"))
	u, err := h.Accounts.ActivateWithTrial(c.Request().Context(), uid, h.TrialCredits)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":      u.ID,
		"is_activated": u.IsUserActivated,
		"balance":      u.CheckInsQuantity,
	})
}

// Attendance handles PATCH /v1/admin/check-ins/:id/attendance with body
// {"attended": bool}.
func (h *AdminHandler) Attendance(c echo.Context) error {
	var body struct {
		Attended *bool `json:"attended"`
	}
	if err := c.Bind(&body); err != nil || body.Attended == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "attended is required"})
	}
	ci, err := h.Scheduler.MarkAttendance(c.Request().Context(), c.Param("id"), *body.Attended)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, ci)
}

// Reconcile handles GET /v1/admin/users/:id/reconcile. It only reports;
// drift is never repaired here.
func (h *AdminHandler) Reconcile(c echo.Context) error {
	rep, err := h.Ledger.Reconcile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}
