package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/checkin-credits/internal/metrics"
	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/service"
)

// PaymentProcessor applies a payment confirmation exactly once.
type PaymentProcessor interface {
	Process(ctx context.Context, c model.PaymentConfirmation) (model.PaymentResult, error)
}

// PaymentConsumer feeds payments.confirmed into the idempotency gate.
type PaymentConsumer struct {
	url        string
	processor  PaymentProcessor
	prefetch   int
	retryDelay time.Duration
}

func NewPaymentConsumer(url string, processor PaymentProcessor) *PaymentConsumer {
	return &PaymentConsumer{url: url, processor: processor, prefetch: 10, retryDelay: time.Second}
}

// Run connects, consumes and reconnects with a doubling backoff until ctx
// is cancelled.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", backoff).Msg("payments-consumer: failed to dial broker")
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Msg("payments-consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *PaymentConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		log.Warn().Err(err).Msg("payments-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(PaymentsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(PaymentsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info().Str("queue", PaymentsQueue).Msg("payments-consumer: consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// decision is what happens to a delivery after processing.
type decision string

const (
	ack     decision = "ack"
	reject  decision = "reject"
	requeue decision = "requeue"
)

// handle processes one delivery and acknowledges it. Successes and
// duplicates are acked; malformed messages and business rule failures are
// rejected without requeue; anything else is requeued for another try.
func (c *PaymentConsumer) handle(ctx context.Context, d amqp.Delivery) decision {
	dec := c.process(ctx, d.Body)
	metrics.QueueMessagesTotal.WithLabelValues(PaymentsQueue, string(dec)).Inc()
	switch dec {
	case ack:
		_ = d.Ack(false)
	case reject:
		_ = d.Nack(false, false)
	default:
		// slow down redelivery while the store is unhealthy
		sleep(ctx, c.retryDelay)
		_ = d.Nack(false, true)
	}
	return dec
}

func (c *PaymentConsumer) process(ctx context.Context, body []byte) decision {
	var m PaymentConfirmedMessage
	if err := json.Unmarshal(body, &m); err != nil {
		log.Error().Err(err).Msg("payments-consumer: unmarshal failed")
		return reject
	}
	_, err := c.processor.Process(ctx, model.PaymentConfirmation{
		ExternalPaymentID: m.ExternalPaymentID,
		Provider:          m.Provider,
		UserID:            m.UserID,
		PlanID:            m.PlanID,
		SubscriptionID:    m.SubscriptionID,
	})
	if err == nil {
		return ack
	}
	ev := log.Error().Err(err).Str("provider", m.Provider).Str("external_id", m.ExternalPaymentID)
	if isPermanent(err) {
		ev.Msg("payments-consumer: payment rejected")
		return reject
	}
	ev.Msg("payments-consumer: payment failed; requeueing")
	return requeue
}

func isPermanent(err error) bool {
	for _, target := range []error{
		service.ErrValidation,
		service.ErrUserNotFound,
		service.ErrPlanNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
