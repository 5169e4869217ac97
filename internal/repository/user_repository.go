package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/checkin-credits/internal/model"
)

type UserRepo struct{ store *Store }

func NewUserRepo(s *Store) *UserRepo { return &UserRepo{store: s} }

const userColumns = `id, email, role, is_user_activated, check_ins_quantity,
	trial_check_ins_quantity, free_check_ins_quantity, paid_check_ins_quantity,
	expiration_date, subscription_id, stripe_id, created_at, updated_at`

// poolColumn maps a credit pool onto its users column. The result is
// spliced into SQL, so only known pools are accepted.
func poolColumn(t model.CheckInType) (string, error) {
	switch t {
	case model.CheckInTypeTrial:
		return "trial_check_ins_quantity", nil
	case model.CheckInTypeFree:
		return "free_check_ins_quantity", nil
	case model.CheckInTypePaid:
		return "paid_check_ins_quantity", nil
	}
	return "", fmt.Errorf("unknown credit pool %q", t)
}

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var (
		u          model.User
		expiration sql.NullInt64
		subID      sql.NullString
		stripeID   sql.NullString
		created    int64
		updated    int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.Role, &u.IsUserActivated, &u.CheckInsQuantity,
		&u.TrialCheckInsQuantity, &u.FreeCheckInsQuantity, &u.PaidCheckInsQuantity,
		&expiration, &subID, &stripeID, &created, &updated)
	if err != nil {
		return model.User{}, scanErr(err)
	}
	u.ExpirationDate = timePtr(expiration)
	u.SubscriptionID = stringPtr(subID)
	u.StripeID = stringPtr(stripeID)
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return u, nil
}

// Create inserts a user with a zero balance. Credits are only ever added
// through the ledger so the balance always matches the statements.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.ID == "" {
		u.ID = model.NewID()
	}
	if u.Role == "" {
		u.Role = model.RoleMember
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	u.CheckInsQuantity, u.TrialCheckInsQuantity, u.FreeCheckInsQuantity, u.PaidCheckInsQuantity = 0, 0, 0, 0
	_, err := r.store.conn().exec(ctx,
		`INSERT INTO users (id, email, role, is_user_activated, expiration_date, subscription_id, stripe_id, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.Role, u.IsUserActivated, nullMillis(u.ExpirationDate),
		nullString(u.SubscriptionID), nullString(u.StripeID), toMillis(now), toMillis(now))
	return err
}

// GetByID fetches a user without locking.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.store.conn().queryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetByStripeID resolves the member behind a Stripe customer id.
func (r *UserRepo) GetByStripeID(ctx context.Context, stripeID string) (model.User, error) {
	return scanUser(r.store.conn().queryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE stripe_id = ?", stripeID))
}

// GetForUpdateTx reads the user row and locks it until the transaction
// ends. Every balance mutation starts here so writers for one user queue.
func (r *UserRepo) GetForUpdateTx(ctx context.Context, tx *Tx, id string) (model.User, error) {
	return scanUser(tx.queryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?"+tx.forUpdate(), id))
}

// AdjustPoolTx adds delta (which may be negative) to one pool and to the
// total. The update is conditional: when the pool would go negative no row
// matches and ErrBalanceUnderflow is returned.
func (r *UserRepo) AdjustPoolTx(ctx context.Context, tx *Tx, id string, pool model.CheckInType, delta int64, now time.Time) error {
	col, err := poolColumn(pool)
	if err != nil {
		return err
	}
	q := `UPDATE users SET ` + col + ` = ` + col + ` + ?, check_ins_quantity = check_ins_quantity + ?, updated_at = ?
		WHERE id = ? AND ` + col + ` + ? >= 0`
	res, err := tx.exec(ctx, q, delta, delta, toMillis(now), id, delta)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBalanceUnderflow
	}
	return nil
}

// ActivateTx flips the activation flag. It reports false when the user was
// already active so callers can keep one-time side effects idempotent.
func (r *UserRepo) ActivateTx(ctx context.Context, tx *Tx, id string, now time.Time) (bool, error) {
	res, err := tx.exec(ctx,
		"UPDATE users SET is_user_activated = ?, updated_at = ? WHERE id = ? AND is_user_activated = ?",
		true, toMillis(now), id, false)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetSubscriptionTx records the new paid-through date and, when given, the
// external subscription reference.
func (r *UserRepo) SetSubscriptionTx(ctx context.Context, tx *Tx, id string, expiration time.Time, subscriptionID *string, now time.Time) error {
	_, err := tx.exec(ctx,
		`UPDATE users SET expiration_date = ?, subscription_id = COALESCE(?, subscription_id), updated_at = ?
		 WHERE id = ?`,
		toMillis(expiration), nullString(subscriptionID), toMillis(now), id)
	return err
}

// ListIDsAfter pages through user ids in ascending order for batch jobs.
func (r *UserRepo) ListIDsAfter(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := r.store.conn().query(ctx,
		"SELECT id FROM users WHERE id > ? ORDER BY id LIMIT ?", after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
