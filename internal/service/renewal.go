package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
)

// RenewalEngine turns a confirmed payment into PAID credits and a longer
// subscription. Renewals stack: the new period starts at the later of now
// and the current expiration, so paying early never loses days.
type RenewalEngine struct {
	users  *repository.UserRepo
	plans  *repository.PlanRepo
	ledger Ledger

	Now func() time.Time
}

func NewRenewalEngine(users *repository.UserRepo, plans *repository.PlanRepo, ledger Ledger) *RenewalEngine {
	return &RenewalEngine{users: users, plans: plans, ledger: ledger, Now: time.Now}
}

// Renew applies one payment inside the caller's transaction.
func (r *RenewalEngine) Renew(ctx context.Context, tx *repository.Tx, c model.PaymentConfirmation) (model.PaymentResult, error) {
	plan, err := r.plans.GetTx(ctx, tx, c.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PaymentResult{}, ErrPlanNotFound
		}
		return model.PaymentResult{}, fmt.Errorf("load plan: %w", err)
	}
	credits, err := plan.CreditsPerPeriod()
	if err != nil {
		return model.PaymentResult{}, invalid("recurrence_period", err.Error())
	}
	user, err := r.users.GetForUpdateTx(ctx, tx, c.UserID)
	if err != nil {
		return model.PaymentResult{}, userErr(err)
	}

	now := r.Now().UTC()
	res := model.PaymentResult{
		Provider:          c.Provider,
		ExternalPaymentID: c.ExternalPaymentID,
		UserID:            c.UserID,
		PlanID:            c.PlanID,
		ProcessedAt:       now,
	}
	if credits > 0 {
		key := c.PaymentKey()
		st, err := r.ledger.Grant(ctx, tx, c.UserID, credits, model.CheckInTypePaid, model.CreditSource{
			PaymentID:   &key,
			Title:       "Subscription renewal",
			Description: fmt.Sprintf("%s (%s) via %s", plan.Name, plan.RecurrencePeriod, c.Provider),
		})
		if err != nil {
			return model.PaymentResult{}, err
		}
		res.CreditsGranted = credits
		res.StatementID = &st.ID
	}

	base := now
	if user.ExpirationDate != nil && user.ExpirationDate.After(now) {
		base = *user.ExpirationDate
	}
	expiration, err := plan.RecurrencePeriod.Extend(base)
	if err != nil {
		return model.PaymentResult{}, invalid("recurrence_period", err.Error())
	}
	var subID *string
	if c.SubscriptionID != "" {
		subID = &c.SubscriptionID
	}
	if err := r.users.SetSubscriptionTx(ctx, tx, c.UserID, expiration, subID, now); err != nil {
		return model.PaymentResult{}, fmt.Errorf("update subscription: %w", err)
	}
	res.ExpirationDate = expiration
	return res, nil
}
