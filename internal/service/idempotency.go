package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/checkin-credits/internal/metrics"
	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
)

// IdempotencyGate makes payment processing safe under at-least-once
// delivery. The first confirmation for a (provider, external id) runs the
// renewal and stores its result; every later one returns that result with
// Duplicate set.
type IdempotencyGate struct {
	store      *repository.Store
	payments   *repository.PaymentEventRepo
	statements *repository.StatementRepo
	renewal    *RenewalEngine
}

func NewIdempotencyGate(store *repository.Store, renewal *RenewalEngine) *IdempotencyGate {
	return &IdempotencyGate{
		store:      store,
		payments:   repository.NewPaymentEventRepo(store),
		statements: repository.NewStatementRepo(store),
		renewal:    renewal,
	}
}

// Process applies a payment confirmation exactly once.
func (g *IdempotencyGate) Process(ctx context.Context, c model.PaymentConfirmation) (model.PaymentResult, error) {
	if err := validateConfirmation(c); err != nil {
		metrics.PaymentsTotal.WithLabelValues(c.Provider, "rejected").Inc()
		return model.PaymentResult{}, err
	}

	var res model.PaymentResult
	err := g.store.WithTx(ctx, func(tx *repository.Tx) error {
		prior, found, err := g.lookupTx(ctx, tx, c)
		if err != nil {
			return err
		}
		if found {
			res = prior
			return nil
		}
		res, err = g.renewal.Renew(ctx, tx, c)
		if err != nil {
			return err
		}
		if err := g.payments.InsertTx(ctx, tx, res); err != nil {
			return fmt.Errorf("record payment: %w", err)
		}
		return nil
	})
	if err != nil && (errors.Is(err, ErrDuplicateExternalEvent) || errors.Is(err, repository.ErrConflict)) {
		// a concurrent delivery committed first; report what it stored
		err = g.store.WithTx(ctx, func(tx *repository.Tx) error {
			prior, found, err := g.lookupTx(ctx, tx, c)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("payment %s conflicted but no record exists", c.PaymentKey())
			}
			res = prior
			return nil
		})
	}
	if err != nil {
		metrics.PaymentsTotal.WithLabelValues(c.Provider, outcome(err)).Inc()
		return model.PaymentResult{}, err
	}

	if res.Duplicate {
		metrics.PaymentsTotal.WithLabelValues(c.Provider, "duplicate").Inc()
		log.Info().Str("provider", c.Provider).Str("external_id", c.ExternalPaymentID).Msg("Duplicate payment ignored")
		return res, nil
	}
	metrics.PaymentsTotal.WithLabelValues(c.Provider, "processed").Inc()
	if res.CreditsGranted > 0 {
		metrics.StatementsTotal.WithLabelValues(string(model.StatementCredit), string(model.CheckInTypePaid)).Inc()
	}
	log.Info().Str("provider", c.Provider).Str("external_id", c.ExternalPaymentID).
		Str("user_id", c.UserID).Int64("credits", res.CreditsGranted).
		Time("expiration", res.ExpirationDate).Msg("Payment processed")
	return res, nil
}

// lookupTx finds a previous outcome. The payment_events row is
// authoritative; a statement carrying the payment key also counts so
// credits granted before the row existed are never granted again.
func (g *IdempotencyGate) lookupTx(ctx context.Context, tx *repository.Tx, c model.PaymentConfirmation) (model.PaymentResult, bool, error) {
	prior, err := g.payments.GetTx(ctx, tx, c.Provider, c.ExternalPaymentID)
	if err == nil {
		prior.Duplicate = true
		return prior, true, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.PaymentResult{}, false, fmt.Errorf("load payment: %w", err)
	}
	st, err := g.statements.FindByPaymentIDTx(ctx, tx, c.PaymentKey())
	if err == nil {
		return model.PaymentResult{
			Provider:          c.Provider,
			ExternalPaymentID: c.ExternalPaymentID,
			UserID:            st.UserID,
			PlanID:            c.PlanID,
			CreditsGranted:    st.Quantity,
			StatementID:       &st.ID,
			ProcessedAt:       st.CreatedAt,
			Duplicate:         true,
		}, true, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return model.PaymentResult{}, false, fmt.Errorf("load statement: %w", err)
	}
	return model.PaymentResult{}, false, nil
}

func validateConfirmation(c model.PaymentConfirmation) error {
	switch {
	case strings.TrimSpace(c.Provider) == "":
		return invalid("provider", "required")
	case strings.TrimSpace(c.ExternalPaymentID) == "":
		return invalid("external_payment_id", "required")
	case strings.TrimSpace(c.UserID) == "":
		return invalid("user_id", "required")
	case strings.TrimSpace(c.PlanID) == "":
		return invalid("plan_id", "required")
	}
	return nil
}
