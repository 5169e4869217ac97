// Package queue moves messages over RabbitMQ: check-in notifications out,
// payment confirmations in.
package queue

const (
	// NotificationsQueue receives check-in notifications for CRM and chat
	// integrations.
	NotificationsQueue = "checkin.events"

	// PaymentsQueue carries provider-neutral payment confirmations produced
	// by payment adapters. Delivery is at least once.
	PaymentsQueue = "payments.confirmed"
)

// PaymentConfirmedMessage is the body published on PaymentsQueue.
type PaymentConfirmedMessage struct {
	ExternalPaymentID string `json:"external_payment_id"`
	Provider          string `json:"provider"`
	UserID            string `json:"user_id"`
	PlanID            string `json:"plan_id"`
	SubscriptionID    string `json:"subscription_id"`
}
