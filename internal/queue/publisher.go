package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/checkin-credits/internal/service"
)

// Publisher sends notifications to a durable queue. Each publish opens its
// own connection, which is plenty for the low notification volume and
// keeps a broker outage from leaving a broken connection behind.
type Publisher struct {
	url   string
	queue string
}

func NewPublisher(url string) *Publisher {
	return &Publisher{url: url, queue: NotificationsQueue}
}

// Notify implements service.Notifier. Errors are logged and returned; the
// caller decides to ignore them.
func (p *Publisher) Notify(ctx context.Context, n service.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return p.publish(ctx, n.Kind, body)
}

// PublishPayment enqueues a payment confirmation for the payments consumer.
func (p *Publisher) PublishPayment(ctx context.Context, m PaymentConfirmedMessage) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}
	return (&Publisher{url: p.url, queue: PaymentsQueue}).publish(ctx, "payment.confirmed", body)
}

func (p *Publisher) publish(ctx context.Context, kind string, body []byte) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		log.Warn().Err(err).Str("queue", p.queue).Msg("rabbitmq: queue declare failed")
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         kind,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		log.Warn().Err(err).Str("queue", p.queue).Msg("rabbitmq: publish failed")
		return err
	}
	return nil
}
