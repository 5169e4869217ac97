package model

import "time"

// PaymentConfirmation is the provider-neutral shape of a confirmed payment
// handed to the renewal path. Delivery is at least once.
type PaymentConfirmation struct {
	ExternalPaymentID string `json:"external_payment_id"`
	Provider          string `json:"provider"`
	UserID            string `json:"user_id"`
	PlanID            string `json:"plan_id"`
	SubscriptionID    string `json:"subscription_id"`
}

const (
	ProviderStripe      = "stripe"
	ProviderMercadoPago = "mercadopago"
)

// PaymentResult is what processing a confirmation produced. It is stored
// in `payment_events` so a replay returns the original outcome.
type PaymentResult struct {
	Provider          string    `json:"provider"`
	ExternalPaymentID string    `json:"external_payment_id"`
	UserID            string    `json:"user_id"`
	PlanID            string    `json:"plan_id"`
	CreditsGranted    int64     `json:"credits_granted"`
	StatementID       *string   `json:"statement_id,omitempty"`
	ExpirationDate    time.Time `json:"expiration_date"`
	ProcessedAt       time.Time `json:"processed_at"`
	Duplicate         bool      `json:"duplicate"`
}

// PaymentKey is the value stored in statements.payment_id. Prefixing the
// provider keeps ids from different providers from colliding.
func (c PaymentConfirmation) PaymentKey() string {
	return c.Provider + ":" + c.ExternalPaymentID
}
