package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/iliyamo/checkin-credits/internal/database"
	"github.com/iliyamo/checkin-credits/internal/database/dbtest"
	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
	"github.com/iliyamo/checkin-credits/internal/service"
)

const (
	stripeSecret   = "whsec_test"
	paymentsSecret = "payments-secret"
)

type fakeProcessor struct {
	got []model.PaymentConfirmation
	err error
}

func (f *fakeProcessor) Process(_ context.Context, c model.PaymentConfirmation) (model.PaymentResult, error) {
	f.got = append(f.got, c)
	if f.err != nil {
		return model.PaymentResult{}, f.err
	}
	return model.PaymentResult{Provider: c.Provider, ExternalPaymentID: c.ExternalPaymentID, UserID: c.UserID, PlanID: c.PlanID, CreditsGranted: 8}, nil
}

type webhookFixture struct {
	h     *WebhookHandler
	proc  *fakeProcessor
	user  model.User
	plan  model.Plan
	price string
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewStore(dbtest.Open(t), database.SQLite)
	users := repository.NewUserRepo(store)
	plans := repository.NewPlanRepo(store)

	customer, price := "cus_123", "price_monthly"
	u := model.User{Email: "payer@example.com", StripeID: &customer}
	require.NoError(t, users.Create(ctx, &u))
	p := model.Plan{Name: "Monthly", CheckInsQuantity: 8, RecurrencePeriod: model.RecurrenceMonthly, StripePriceID: &price}
	require.NoError(t, plans.Create(ctx, &p))

	proc := &fakeProcessor{}
	return &webhookFixture{
		h:     NewWebhookHandler(proc, users, plans, stripeSecret, paymentsSecret),
		proc:  proc,
		user:  u,
		plan:  p,
		price: price,
	}
}

func serve(h echo.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	e := echo.New()
	rec := httptest.NewRecorder()
	_ = h(e.NewContext(req, rec))
	return rec
}

func stripeEvent(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":%q,"data":{"object":%s}}`, eventType, object))
}

func stripeRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func TestStripeInvoicePaid(t *testing.T) {
	f := newWebhookFixture(t)
	invoice := fmt.Sprintf(`{"id":"in_1","customer":"cus_123","parent":{"subscription_details":{"subscription":"sub_9"}},
		"lines":{"data":[{"pricing":{"price_details":{"price":%q}}}]}}`, f.price)

	rec := serve(f.h.Stripe, stripeRequest(t, stripeEvent("invoice.paid", invoice), stripeSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.proc.got, 1)
	assert.Equal(t, model.PaymentConfirmation{
		ExternalPaymentID: "in_1",
		Provider:          model.ProviderStripe,
		UserID:            f.user.ID,
		PlanID:            f.plan.ID,
		SubscriptionID:    "sub_9",
	}, f.proc.got[0])
}

func TestStripeLegacyInvoiceLayout(t *testing.T) {
	f := newWebhookFixture(t)
	invoice := fmt.Sprintf(`{"id":"in_2","customer":"cus_123","subscription":"sub_old",
		"lines":{"data":[{"price":{"id":%q}}]}}`, f.price)

	rec := serve(f.h.Stripe, stripeRequest(t, stripeEvent("invoice.paid", invoice), stripeSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.proc.got, 1)
	assert.Equal(t, "sub_old", f.proc.got[0].SubscriptionID)
}

func TestStripeRejections(t *testing.T) {
	f := newWebhookFixture(t)

	t.Run("bad signature", func(t *testing.T) {
		rec := serve(f.h.Stripe, stripeRequest(t, stripeEvent("invoice.paid", `{}`), "whsec_other"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("missing signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader("{}"))
		rec := serve(f.h.Stripe, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("unhandled type is acknowledged", func(t *testing.T) {
		rec := serve(f.h.Stripe, stripeRequest(t, stripeEvent("customer.created", `{"id":"cus_1"}`), stripeSecret))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
	t.Run("unknown customer", func(t *testing.T) {
		invoice := `{"id":"in_3","customer":"cus_nobody","lines":{"data":[{"price":{"id":"price_monthly"}}]}}`
		rec := serve(f.h.Stripe, stripeRequest(t, stripeEvent("invoice.paid", invoice), stripeSecret))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "user_not_found")
	})
	t.Run("unknown price", func(t *testing.T) {
		invoice := `{"id":"in_4","customer":"cus_123","lines":{"data":[{"price":{"id":"price_gone"}}]}}`
		rec := serve(f.h.Stripe, stripeRequest(t, stripeEvent("invoice.paid", invoice), stripeSecret))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "plan_not_found")
	})
	t.Run("no secret configured", func(t *testing.T) {
		h := *f.h
		h.StripeSecret = ""
		rec := serve(h.Stripe, stripeRequest(t, stripeEvent("invoice.paid", `{}`), stripeSecret))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
	assert.Empty(t, f.proc.got)
}

func paymentsRequest(body []byte, sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(string(body)))
	req.Header.Set("X-Signature", sig)
	return req
}

func TestPaymentsWebhook(t *testing.T) {
	f := newWebhookFixture(t)
	body, err := json.Marshal(model.PaymentConfirmation{
		ExternalPaymentID: "mp-77",
		Provider:          model.ProviderMercadoPago,
		UserID:            f.user.ID,
		PlanID:            f.plan.ID,
	})
	require.NoError(t, err)

	rec := serve(f.h.Payments, paymentsRequest(body, Sign(paymentsSecret, body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res model.PaymentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "mp-77", res.ExternalPaymentID)
	assert.EqualValues(t, 8, res.CreditsGranted)

	rec = serve(f.h.Payments, paymentsRequest(body, Sign("wrong", body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(f.h.Payments, paymentsRequest(body, "zz-not-hex"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Len(t, f.proc.got, 1)
}

func TestPaymentsWebhookMapsProcessorErrors(t *testing.T) {
	f := newWebhookFixture(t)
	body := []byte(`{"provider":"stripe","external_payment_id":"in_9"}`)

	f.proc.err = service.ValidationError{Field: "user_id", Message: "required"}
	rec := serve(f.h.Payments, paymentsRequest(body, Sign(paymentsSecret, body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"user_id"`)

	f.proc.err = errors.New("database on fire")
	rec = serve(f.h.Payments, paymentsRequest(body, Sign(paymentsSecret, body)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "fire")
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	f := newWebhookFixture(t)
	big := []byte(`{"provider":"stripe","external_payment_id":"` + strings.Repeat("x", webhookBodyLimit) + `"}`)

	rec := serve(f.h.Payments, paymentsRequest(big, Sign(paymentsSecret, big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = serve(f.h.Stripe, stripeRequest(t, stripeEvent("invoice.paid", string(big)), stripeSecret))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, f.proc.got)
}

func TestStripeInvoiceOverSixtyFourKiB(t *testing.T) {
	f := newWebhookFixture(t)
	lines := make([]string, 0, 800)
	lines = append(lines, fmt.Sprintf(`{"price":{"id":%q}}`, f.price))
	for len(lines) < cap(lines) {
		lines = append(lines, `{"description":"`+strings.Repeat("d", 100)+`","price":{"id":""}}`)
	}
	invoice := `{"id":"in_big","customer":"cus_123","lines":{"data":[` + strings.Join(lines, ",") + `]}}`
	payload := stripeEvent("invoice.paid", invoice)
	require.Greater(t, len(payload), 64<<10)

	rec := serve(f.h.Stripe, stripeRequest(t, payload, stripeSecret))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.proc.got, 1)
	assert.Equal(t, "in_big", f.proc.got[0].ExternalPaymentID)
}
