package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/checkin-credits/internal/config"
	"github.com/iliyamo/checkin-credits/internal/utils"
)

const secret = "middleware-secret"

func whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"user": CurrentUserID(c), "role": CurrentRole(c)})
}

func request(e *echo.Echo, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret))

	tok, err := utils.NewAccessToken(secret, "u-1", "MEMBER", time.Minute)
	require.NoError(t, err)
	rec := request(e, http.MethodGet, "/me", "Bearer "+tok.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"u-1","role":"MEMBER"}`, rec.Body.String())

	expired, err := utils.NewAccessToken(secret, "u-1", "MEMBER", -time.Minute)
	require.NoError(t, err)
	foreign, err := utils.NewAccessToken("other", "u-1", "MEMBER", time.Minute)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1"}).SignedString([]byte(secret))
	require.NoError(t, err)
	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()}).SignedString([]byte(secret))
	require.NoError(t, err)

	for name, auth := range map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic " + tok.Token,
		"expired":        "Bearer " + expired.Token,
		"wrong key":      "Bearer " + foreign.Token,
		"no exp":         "Bearer " + noExp,
		"no subject":     "Bearer " + noSub,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, request(e, http.MethodGet, "/me", auth).Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", whoami, JWTAuth(secret), RequireRole("ADMIN"))

	admin, err := utils.NewAccessToken(secret, "ops", "ADMIN", time.Minute)
	require.NoError(t, err)
	member, err := utils.NewAccessToken(secret, "u-1", "MEMBER", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, request(e, http.MethodGet, "/admin", "Bearer "+admin.Token).Code)
	assert.Equal(t, http.StatusForbidden, request(e, http.MethodGet, "/admin", "Bearer "+member.Token).Code)
}

func TestLocalLimiter(t *testing.T) {
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
	e := echo.New()
	e.GET("/x", whoami, NewTokenBucket(cfg, nil))

	assert.Equal(t, http.StatusOK, request(e, http.MethodGet, "/x", "").Code)
	assert.Equal(t, http.StatusOK, request(e, http.MethodGet, "/x", "").Code)
	rec := request(e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.9")
	other := httptest.NewRecorder()
	e.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestDisabledLimiterPassesThrough(t *testing.T) {
	e := echo.New()
	e.GET("/x", whoami, NewTokenBucket(config.RateLimitConfig{Enabled: false, Capacity: 1}, nil))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, request(e, http.MethodGet, "/x", "").Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/events/e1/check-in", nil)
	req.Header.Set(echo.HeaderXRealIP, "1.2.3.4")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/events/:id/check-in")
	c.Set(ctxUserID, "u-1")

	cases := map[string]string{
		"ip":            "rl:ip:1.2.3.4",
		"user":          "rl:user:u-1",
		"user_route":    "rl:user:u-1:route:POST /v1/events/:id/check-in",
		"ip_user_route": "rl:ip:1.2.3.4:user:u-1:route:POST /v1/events/:id/check-in",
	}
	for strategy, want := range cases {
		assert.Equal(t, want, buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c), strategy)
	}
}

func TestCachePayloadCodec(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"ok":true}`))
	require.NoError(t, err)

	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", gotHdr.Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 1})
	assert.False(t, ok)
	_, _, _, ok = decodePayload([]byte{0, 0, 0, 200, 0, 0, 1, 0})
	assert.False(t, ok)
}

func TestNilCacheIsInert(t *testing.T) {
	var rc *ResponseCache
	e := echo.New()
	e.GET("/x", whoami, rc.Middleware())
	rec := request(e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
	rc.Purge(context.Background(), "/x")
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/x", whoami)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = request(e, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCacheKeysShareAPathPrefix(t *testing.T) {
	for _, strategy := range []string{"route", "method_route", "method_route_query", "route_query"} {
		rc := NewResponseCache(config.CacheConfig{Prefix: "cache", KeyStrategy: strategy}, nil)
		prefix := rc.pathPrefix("/v1/events/e1") + ":"

		plain := rc.key(http.MethodGet, "/v1/events/e1", "")
		withQuery := rc.key(http.MethodGet, "/v1/events/e1", "fields=seats_left")
		other := rc.key(http.MethodGet, "/v1/events/e2", "")

		assert.True(t, strings.HasPrefix(plain, prefix), strategy)
		assert.True(t, strings.HasPrefix(withQuery, prefix), strategy)
		assert.False(t, strings.HasPrefix(other, prefix), strategy)
		assert.NotEqual(t, plain, other, strategy)
	}
	rc := NewResponseCache(config.CacheConfig{Prefix: "cache"}, nil)
	assert.NotEqual(t,
		rc.key(http.MethodGet, "/v1/events/e1", ""),
		rc.key(http.MethodGet, "/v1/events/e1", "a=1"),
		"query variants are cached separately")
}
