package model

import (
	"fmt"
	"time"
)

// RecurrencePeriod is the billing cadence of a plan.
type RecurrencePeriod string

const (
	RecurrenceMonthly    RecurrencePeriod = "MONTHLY"
	RecurrenceQuarterly  RecurrencePeriod = "QUARTERLY"
	RecurrenceSemiannual RecurrencePeriod = "SEMIANNUAL"
	RecurrenceAnnual     RecurrencePeriod = "ANNUAL"
)

// Months returns the number of calendar months one period covers. It is
// also the multiplier applied to the plan's per-month credit quantity.
func (p RecurrencePeriod) Months() (int, error) {
	switch p {
	case RecurrenceMonthly:
		return 1, nil
	case RecurrenceQuarterly:
		return 3, nil
	case RecurrenceSemiannual:
		return 6, nil
	case RecurrenceAnnual:
		return 12, nil
	}
	return 0, fmt.Errorf("unknown recurrence period %q", p)
}

// Extend adds one period to t.
func (p RecurrencePeriod) Extend(t time.Time) (time.Time, error) {
	m, err := p.Months()
	if err != nil {
		return time.Time{}, err
	}
	return t.AddDate(0, m, 0), nil
}

// Plan mirrors the `plans` table. CheckInsQuantity is the number of credits
// granted per month of the recurrence period.
type Plan struct {
	ID               string           // plans.id
	Name             string           // plans.name
	CheckInsQuantity int64            // plans.check_ins_quantity
	RecurrencePeriod RecurrencePeriod // plans.recurrence_period
	PriceCents       int64            // plans.price_cents
	StripePriceID    *string          // plans.stripe_price_id (nullable, unique)
}

// CreditsPerPeriod is the number of PAID credits one renewal injects.
func (p Plan) CreditsPerPeriod() (int64, error) {
	m, err := p.RecurrencePeriod.Months()
	if err != nil {
		return 0, err
	}
	return p.CheckInsQuantity * int64(m), nil
}
