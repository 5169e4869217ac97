package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
	"github.com/iliyamo/checkin-credits/internal/service"
)

// webhookBodyLimit bounds provider payloads. Invoices with many lines run
// well past 64 KiB.
const webhookBodyLimit = 512 << 10

// PaymentProcessor applies a payment confirmation exactly once.
type PaymentProcessor interface {
	Process(ctx context.Context, c model.PaymentConfirmation) (model.PaymentResult, error)
}

// WebhookHandler turns provider callbacks into PaymentConfirmations. It only
// verifies and normalizes; crediting is the processor's job.
type WebhookHandler struct {
	Processor      PaymentProcessor
	Users          *repository.UserRepo
	Plans          *repository.PlanRepo
	StripeSecret   string
	PaymentsSecret string
}

func NewWebhookHandler(p PaymentProcessor, users *repository.UserRepo, plans *repository.PlanRepo, stripeSecret, paymentsSecret string) *WebhookHandler {
	return &WebhookHandler{
		Processor:      p,
		Users:          users,
		Plans:          plans,
		StripeSecret:   stripeSecret,
		PaymentsSecret: paymentsSecret,
	}
}

// stripeInvoice is the subset of a Stripe invoice needed to renew. Both the
// legacy top-level subscription/price fields and the newer parent/pricing
// layout are read.
type stripeInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			Pricing struct {
				PriceDetails struct {
					Price string `json:"price"`
				} `json:"price_details"`
			} `json:"pricing"`
		} `json:"data"`
	} `json:"lines"`
}

func (inv stripeInvoice) subscriptionID() string {
	if inv.Parent.SubscriptionDetails.Subscription != "" {
		return inv.Parent.SubscriptionDetails.Subscription
	}
	return inv.Subscription
}

func (inv stripeInvoice) priceID() string {
	for _, l := range inv.Lines.Data {
		if l.Pricing.PriceDetails.Price != "" {
			return l.Pricing.PriceDetails.Price
		}
		if l.Price.ID != "" {
			return l.Price.ID
		}
	}
	return ""
}

// Stripe handles POST /webhooks/stripe. Only invoice.paid renews; every
// other event type is acknowledged and ignored.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	if strings.TrimSpace(h.StripeSecret) == "" {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "webhook secret not configured"})
	}
	payload, err := readBody(c)
	if err != nil {
		return bodyError(c, err)
	}
	sig := c.Request().Header.Get("Stripe-Signature")
	if strings.TrimSpace(sig) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing Stripe signature"})
	}
	event, err := webhook.ConstructEventWithOptions(payload, sig, h.StripeSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid Stripe signature"})
	}
	if event.Type != "invoice.paid" {
		log.Info().Str("type", string(event.Type)).Str("event_id", event.ID).Msg("Stripe webhook ignored (unhandled type)")
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}

	var inv stripeInvoice
	if event.Data == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing event data"})
	}
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid invoice"})
	}
	conf, err := h.confirmationFromInvoice(c.Request().Context(), inv)
	if err != nil {
		return writeError(c, err)
	}
	return h.process(c, conf)
}

func (h *WebhookHandler) confirmationFromInvoice(ctx context.Context, inv stripeInvoice) (model.PaymentConfirmation, error) {
	if inv.ID == "" || inv.Customer == "" {
		return model.PaymentConfirmation{}, service.ValidationError{Field: "invoice", Message: "id and customer are required"}
	}
	u, err := h.Users.GetByStripeID(ctx, inv.Customer)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PaymentConfirmation{}, service.ErrUserNotFound
		}
		return model.PaymentConfirmation{}, fmt.Errorf("lookup customer: %w", err)
	}
	price := inv.priceID()
	if price == "" {
		return model.PaymentConfirmation{}, service.ValidationError{Field: "invoice", Message: "no price on invoice lines"}
	}
	p, err := h.Plans.GetByStripePriceID(ctx, price)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PaymentConfirmation{}, service.ErrPlanNotFound
		}
		return model.PaymentConfirmation{}, fmt.Errorf("lookup price: %w", err)
	}
	return model.PaymentConfirmation{
		ExternalPaymentID: inv.ID,
		Provider:          model.ProviderStripe,
		UserID:            u.ID,
		PlanID:            p.ID,
		SubscriptionID:    inv.subscriptionID(),
	}, nil
}

// Payments handles POST /webhooks/payments: a PaymentConfirmation body
// signed with hex(HMAC-SHA256(body)) in X-Signature, used by adapters for
// providers other than Stripe.
func (h *WebhookHandler) Payments(c echo.Context) error {
	if strings.TrimSpace(h.PaymentsSecret) == "" {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "webhook secret not configured"})
	}
	payload, err := readBody(c)
	if err != nil {
		return bodyError(c, err)
	}
	if !validSignature(h.PaymentsSecret, payload, c.Request().Header.Get("X-Signature")) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
	}
	var conf model.PaymentConfirmation
	if err := json.Unmarshal(payload, &conf); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	return h.process(c, conf)
}

// readBody reads at most webhookBodyLimit bytes. A longer body is an error
// rather than a silently truncated payload.
func readBody(c echo.Context) ([]byte, error) {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, webhookBodyLimit)
	return io.ReadAll(body)
}

func bodyError(c echo.Context, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "request body too large"})
	}
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read request body"})
}

func (h *WebhookHandler) process(c echo.Context, conf model.PaymentConfirmation) error {
	res, err := h.Processor.Process(c.Request().Context(), conf)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Sign returns the X-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, sig string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
