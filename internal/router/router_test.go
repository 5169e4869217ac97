package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/checkin-credits/internal/database"
	"github.com/iliyamo/checkin-credits/internal/database/dbtest"
	"github.com/iliyamo/checkin-credits/internal/handler"
	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
	"github.com/iliyamo/checkin-credits/internal/service"
	"github.com/iliyamo/checkin-credits/internal/utils"
)

const testSecret = "test-secret"

type testServer struct {
	e        *echo.Echo
	users    *repository.UserRepo
	events   *repository.EventRepo
	accounts *service.Accounts
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := dbtest.Open(t)
	store := repository.NewStore(db, database.SQLite)
	users := repository.NewUserRepo(store)
	plans := repository.NewPlanRepo(store)
	events := repository.NewEventRepo(store)
	ledger := service.NewCreditLedger(store, users, repository.NewStatementRepo(store))
	scheduler := service.NewScheduler(store, ledger, service.NewCapacityGuard(0, 0), nil)
	accounts := service.NewAccounts(store, ledger)
	gate := service.NewIdempotencyGate(store, service.NewRenewalEngine(users, plans, ledger))

	e := New(Handlers{
		Health:   handler.Health{DB: db},
		Events:   handler.NewEventHandler(events, scheduler, nil),
		Accounts: handler.NewAccountHandler(accounts),
		Admin:    handler.NewAdminHandler(accounts, scheduler, ledger, 1),
		Webhooks: handler.NewWebhookHandler(gate, users, plans, "", "hook-secret"),
	}, Middleware{JWTSecret: testSecret})
	return &testServer{e: e, users: users, events: events, accounts: accounts}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCheckInFlowOverHTTP(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	u := &model.User{Email: "member@example.com"}
	require.NoError(t, s.users.Create(ctx, u))
	admin := token(t, "ops", model.RoleAdmin)
	member := token(t, u.ID, model.RoleMember)

	start := time.Now().Add(2 * time.Hour)
	capacity := 1
	ev := &model.Event{Title: "Yoga", IsLive: true, StartDate: &start, Duration: 60, CheckInsMaxQuantity: &capacity}
	require.NoError(t, s.events.Create(ctx, ev))
	path := "/v1/events/" + ev.ID + "/check-in"

	rec := s.do(t, http.MethodPost, path, member, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "user_not_activated", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/v1/admin/users/"+u.ID+"/activate", admin, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, path, member, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "TRIAL", decode(t, rec)["type"])

	rec = s.do(t, http.MethodGet, "/v1/events/"+ev.ID, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["check_ins_count"])
	assert.EqualValues(t, 0, body["seats_left"])

	// a spare credit so the second attempt reaches the seat count
	rec = s.do(t, http.MethodPost, "/v1/admin/users/"+u.ID+"/grants", admin, `{"amount":1,"type":"FREE"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, path, member, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capacity_exceeded", decode(t, rec)["error"])

	rec = s.do(t, http.MethodDelete, path, member, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/me/balance", member, "")
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode(t, rec)
	assert.EqualValues(t, 1, balance["trial_check_ins_quantity"])
	assert.EqualValues(t, 1, balance["free_check_ins_quantity"])
	assert.EqualValues(t, 2, balance["check_ins_quantity"])

	rec = s.do(t, http.MethodGet, "/v1/me/statements?limit=2", member, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	assert.Len(t, page["items"], 2)
	assert.NotEmpty(t, page["next_before"])

	rec = s.do(t, http.MethodDelete, path, member, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "reservation_not_found", decode(t, rec)["error"])
}

func TestAuthAndRoles(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/v1/me/balance", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/me/balance", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/admin/users/x/grants", token(t, "u1", model.RoleMember), `{"amount":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/me/balance", token(t, "ghost", model.RoleMember), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminGrantAndReconcile(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	u := &model.User{Email: "granted@example.com"}
	require.NoError(t, s.users.Create(ctx, u))
	admin := token(t, "ops", model.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/v1/admin/users/"+u.ID+"/grants", admin, `{"amount":3,"type":"PAID","title":"Promo"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Promo", decode(t, rec)["title"])

	rec = s.do(t, http.MethodPost, "/v1/admin/users/"+u.ID+"/grants", admin, `{"amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "amount", decode(t, rec)["field"])

	rec = s.do(t, http.MethodGet, "/v1/admin/users/"+u.ID+"/reconcile", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["consistent"])

	rec = s.do(t, http.MethodPatch, "/v1/admin/check-ins/missing/attendance", admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/events/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "checkin_http_requests_total")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
