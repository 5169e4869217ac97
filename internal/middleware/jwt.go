package middleware // reusable HTTP middleware for the echo router

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// JWTAuth validates a Bearer access token and stores its subject and role
// in the echo context. The subject is the already validated user id every
// core operation receives; nothing downstream authenticates again.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			claims := jwt.MapClaims{}
			tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			sub, err := claims.GetSubject()
			if err != nil || sub == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}
			role, _ := claims["role"].(string)
			c.Set(ctxUserID, sub)
			c.Set(ctxRole, role)
			return next(c)
		}
	}
}

// CurrentUserID returns the authenticated user id or "" for guests.
func CurrentUserID(c echo.Context) string {
	s, _ := c.Get(ctxUserID).(string)
	return s
}

// CurrentRole returns the authenticated role or "".
func CurrentRole(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}
