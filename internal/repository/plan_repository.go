package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/checkin-credits/internal/model"
)

type PlanRepo struct{ store *Store }

func NewPlanRepo(s *Store) *PlanRepo { return &PlanRepo{store: s} }

const planColumns = `id, name, check_ins_quantity, recurrence_period, price_cents, stripe_price_id`

func scanPlan(row interface{ Scan(...any) error }) (model.Plan, error) {
	var (
		p     model.Plan
		price sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.CheckInsQuantity, &p.RecurrencePeriod, &p.PriceCents, &price); err != nil {
		return model.Plan{}, scanErr(err)
	}
	p.StripePriceID = stringPtr(price)
	return p, nil
}

// Create inserts a plan.
func (r *PlanRepo) Create(ctx context.Context, p *model.Plan) error {
	if p.ID == "" {
		p.ID = model.NewID()
	}
	_, err := r.store.conn().exec(ctx,
		`INSERT INTO plans (`+planColumns+`) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.CheckInsQuantity, string(p.RecurrencePeriod), p.PriceCents, nullString(p.StripePriceID))
	return err
}

// GetTx reads a plan inside a transaction.
func (r *PlanRepo) GetTx(ctx context.Context, tx *Tx, id string) (model.Plan, error) {
	return scanPlan(tx.queryRow(ctx, "SELECT "+planColumns+" FROM plans WHERE id = ?", id))
}

// GetByStripePriceID maps a Stripe price onto the plan it sells.
func (r *PlanRepo) GetByStripePriceID(ctx context.Context, priceID string) (model.Plan, error) {
	return scanPlan(r.store.conn().queryRow(ctx,
		"SELECT "+planColumns+" FROM plans WHERE stripe_price_id = ?", priceID))
}
