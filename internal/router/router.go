package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/checkin-credits/internal/handler"
	"github.com/iliyamo/checkin-credits/internal/middleware"
	"github.com/iliyamo/checkin-credits/internal/model"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Health   handler.Health
	Events   *handler.EventHandler
	Accounts *handler.AccountHandler
	Admin    *handler.AdminHandler
	Webhooks *handler.WebhookHandler
}

// Middleware bundles the optional cross-cutting middleware.
type Middleware struct {
	JWTSecret string
	Cache     *middleware.ResponseCache
	RateLimit echo.MiddlewareFunc // nil disables limiting
}

// New builds the echo instance with every route registered.
func New(h Handlers, mw Middleware) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger())
	Register(e, h, mw)
	return e
}

// Register wires the routes onto e.
//
//	/healthz, /metrics                         – unauthenticated
//	GET /v1/events/:id                         – public, cached
//	/v1/events/:id/check-in, /v1/me/*          – member (JWT)
//	/v1/admin/*                                – ADMIN role
//	/webhooks/*                                – provider signatures
func Register(e *echo.Echo, h Handlers, mw Middleware) {
	e.GET("/healthz", h.Health.Check)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	limit := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	if mw.RateLimit != nil {
		limit = mw.RateLimit
	}

	e.GET("/v1/events/:id", h.Events.GetEvent, limit, mw.Cache.Middleware())

	auth := e.Group("/v1", middleware.JWTAuth(mw.JWTSecret), limit)
	member := auth.Group("", middleware.RequireRole(model.RoleMember, model.RoleAdmin))
	member.POST("/events/:id/check-in", h.Events.CheckIn)
	member.DELETE("/events/:id/check-in", h.Events.Cancel)
	member.GET("/me/balance", h.Accounts.Balance)
	member.GET("/me/statements", h.Accounts.Statements)
	member.GET("/me/check-ins", h.Accounts.CheckIns)

	admin := auth.Group("/admin", middleware.RequireRole(model.RoleAdmin))
	admin.POST("/users/:id/activate", h.Admin.Activate)
	admin.POST("/users/:id/grants", h.Admin.Grant)
	admin.GET("/users/:id/reconcile", h.Admin.Reconcile)
	admin.PATCH("/check-ins/:id/attendance", h.Admin.Attendance)

	e.POST("/webhooks/stripe", h.Webhooks.Stripe)
	e.POST("/webhooks/payments", h.Webhooks.Payments)
}
