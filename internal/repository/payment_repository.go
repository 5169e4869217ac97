package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/checkin-credits/internal/model"
)

// PaymentEventRepo remembers processed payment confirmations keyed by
// (provider, external id) together with the outcome they produced.
type PaymentEventRepo struct{ store *Store }

func NewPaymentEventRepo(s *Store) *PaymentEventRepo { return &PaymentEventRepo{store: s} }

// GetTx returns the stored outcome or ErrNotFound.
func (r *PaymentEventRepo) GetTx(ctx context.Context, tx *Tx, provider, externalID string) (model.PaymentResult, error) {
	var (
		res         model.PaymentResult
		statementID sql.NullString
		expiration  int64
		processed   int64
	)
	err := tx.queryRow(ctx,
		`SELECT provider, external_id, user_id, plan_id, credits_granted, statement_id, expiration_date, processed_at
		   FROM payment_events WHERE provider = ? AND external_id = ?`+tx.forUpdate(),
		provider, externalID).Scan(&res.Provider, &res.ExternalPaymentID, &res.UserID, &res.PlanID,
		&res.CreditsGranted, &statementID, &expiration, &processed)
	if err != nil {
		return model.PaymentResult{}, scanErr(err)
	}
	res.StatementID = stringPtr(statementID)
	res.ExpirationDate = fromMillis(expiration)
	res.ProcessedAt = fromMillis(processed)
	return res, nil
}

// InsertTx records an outcome. A concurrent delivery of the same payment
// that got here first makes this fail with ErrConflict.
func (r *PaymentEventRepo) InsertTx(ctx context.Context, tx *Tx, res model.PaymentResult) error {
	_, err := tx.exec(ctx,
		`INSERT INTO payment_events (provider, external_id, user_id, plan_id, credits_granted, statement_id, expiration_date, processed_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		res.Provider, res.ExternalPaymentID, res.UserID, res.PlanID, res.CreditsGranted,
		nullString(res.StatementID), toMillis(res.ExpirationDate), toMillis(res.ProcessedAt))
	return err
}
