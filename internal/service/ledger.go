package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
)

// Ledger writes balance changes. Every method runs inside the caller's
// transaction and pairs one statement insert with one balance update, so
// the materialized balance is always the running sum of statements.
type Ledger interface {
	Grant(ctx context.Context, tx *repository.Tx, userID string, amount int64, pool model.CheckInType, src model.CreditSource) (model.Statement, error)
	Consume(ctx context.Context, tx *repository.Tx, userID string, pool model.CheckInType, checkInID string) (model.Statement, error)
	Refund(ctx context.Context, tx *repository.Tx, userID string, pool model.CheckInType, checkInID string) (model.Statement, error)
}

// CreditLedger is the SQL backed Ledger.
type CreditLedger struct {
	store      *repository.Store
	users      *repository.UserRepo
	statements *repository.StatementRepo

	// Now stamps statements; tests replace it.
	Now func() time.Time
}

func NewCreditLedger(store *repository.Store, users *repository.UserRepo, statements *repository.StatementRepo) *CreditLedger {
	return &CreditLedger{store: store, users: users, statements: statements, Now: time.Now}
}

// Grant credits amount units to one pool. The statement is written first so
// a reused payment id fails before the balance moves.
func (l *CreditLedger) Grant(ctx context.Context, tx *repository.Tx, userID string, amount int64, pool model.CheckInType, src model.CreditSource) (model.Statement, error) {
	if amount <= 0 {
		return model.Statement{}, invalid("amount", "must be positive")
	}
	if !pool.Valid() {
		return model.Statement{}, invalid("type", fmt.Sprintf("unknown credit pool %q", pool))
	}
	if _, err := l.users.GetForUpdateTx(ctx, tx, userID); err != nil {
		return model.Statement{}, userErr(err)
	}
	now := l.Now().UTC()
	st := model.Statement{
		UserID:      userID,
		Type:        model.StatementCredit,
		CheckInType: pool,
		Quantity:    amount,
		CheckInID:   src.CheckInID,
		PaymentID:   src.PaymentID,
		Title:       src.Title,
		Description: src.Description,
		CreatedAt:   now,
	}
	if err := l.statements.InsertTx(ctx, tx, &st); err != nil {
		if errors.Is(err, repository.ErrConflict) && src.PaymentID != nil {
			return model.Statement{}, fmt.Errorf("%w: %s", ErrDuplicateExternalEvent, *src.PaymentID)
		}
		return model.Statement{}, fmt.Errorf("insert credit statement: %w", err)
	}
	if err := l.users.AdjustPoolTx(ctx, tx, userID, pool, amount, now); err != nil {
		return model.Statement{}, fmt.Errorf("credit balance: %w", err)
	}
	return st, nil
}

// Consume debits one unit for a check-in. The balance update is
// conditional, so an empty pool is caught before the statement exists.
func (l *CreditLedger) Consume(ctx context.Context, tx *repository.Tx, userID string, pool model.CheckInType, checkInID string) (model.Statement, error) {
	if !pool.Valid() {
		return model.Statement{}, invalid("type", fmt.Sprintf("unknown credit pool %q", pool))
	}
	now := l.Now().UTC()
	if err := l.users.AdjustPoolTx(ctx, tx, userID, pool, -1, now); err != nil {
		if errors.Is(err, repository.ErrBalanceUnderflow) {
			return model.Statement{}, fmt.Errorf("%w: %s pool is empty", ErrInsufficientCredits, pool)
		}
		return model.Statement{}, fmt.Errorf("debit balance: %w", err)
	}
	st := model.Statement{
		UserID:      userID,
		Type:        model.StatementDebit,
		CheckInType: pool,
		Quantity:    1,
		CheckInID:   &checkInID,
		Title:       "Check-in",
		CreatedAt:   now,
	}
	if err := l.statements.InsertTx(ctx, tx, &st); err != nil {
		return model.Statement{}, fmt.Errorf("insert debit statement: %w", err)
	}
	return st, nil
}

// Refund returns the unit spent by a check-in to the pool it came from.
func (l *CreditLedger) Refund(ctx context.Context, tx *repository.Tx, userID string, pool model.CheckInType, checkInID string) (model.Statement, error) {
	if !pool.Valid() {
		return model.Statement{}, invalid("type", fmt.Sprintf("unknown credit pool %q", pool))
	}
	now := l.Now().UTC()
	if err := l.users.AdjustPoolTx(ctx, tx, userID, pool, 1, now); err != nil {
		if errors.Is(err, repository.ErrBalanceUnderflow) {
			// +1 never underflows; no row matched at all
			return model.Statement{}, ErrUserNotFound
		}
		return model.Statement{}, fmt.Errorf("refund balance: %w", err)
	}
	st := model.Statement{
		UserID:      userID,
		Type:        model.StatementCredit,
		CheckInType: pool,
		Quantity:    1,
		CheckInID:   &checkInID,
		Title:       "Check-in cancelled",
		CreatedAt:   now,
	}
	if err := l.statements.InsertTx(ctx, tx, &st); err != nil {
		return model.Statement{}, fmt.Errorf("insert refund statement: %w", err)
	}
	return st, nil
}

// Drift is one pool whose materialized balance disagrees with the ledger.
type Drift struct {
	Pool         string `json:"pool"`
	Materialized int64  `json:"materialized"`
	Ledger       int64  `json:"ledger"`
}

// ReconcileReport compares a user's cached balance with the statement sums.
type ReconcileReport struct {
	UserID     string           `json:"user_id"`
	Balance    model.Balance    `json:"balance"`
	LedgerSums map[string]int64 `json:"ledger"`
	Drifts     []Drift          `json:"drifts,omitempty"`
	Consistent bool             `json:"consistent"`
}

// Reconcile checks that the user's balance equals the signed sum of their
// statements, per pool and in total. It only reads; drift is reported, not
// repaired. Both reads share one transaction holding the user lock, so a
// concurrent grant or check-in cannot land between them.
func (l *CreditLedger) Reconcile(ctx context.Context, userID string) (ReconcileReport, error) {
	var (
		u    model.User
		sums map[model.CheckInType]int64
	)
	err := l.store.WithTx(ctx, func(tx *repository.Tx) error {
		var err error
		if u, err = l.users.GetForUpdateTx(ctx, tx, userID); err != nil {
			return userErr(err)
		}
		if sums, err = l.statements.SumByPoolTx(ctx, tx, userID); err != nil {
			return fmt.Errorf("sum statements: %w", err)
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	rep := ReconcileReport{
		UserID:     userID,
		Balance:    model.BalanceOf(u),
		LedgerSums: make(map[string]int64, len(model.SpendOrder)+1),
	}
	var total int64
	for _, pool := range model.SpendOrder {
		sum := sums[pool]
		total += sum
		rep.LedgerSums[string(pool)] = sum
		if got := u.Pool(pool); got != sum {
			rep.Drifts = append(rep.Drifts, Drift{Pool: string(pool), Materialized: got, Ledger: sum})
		}
	}
	rep.LedgerSums["TOTAL"] = total
	if u.CheckInsQuantity != total {
		rep.Drifts = append(rep.Drifts, Drift{Pool: "TOTAL", Materialized: u.CheckInsQuantity, Ledger: total})
	}
	rep.Consistent = len(rep.Drifts) == 0
	return rep, nil
}

func userErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUserNotFound
	}
	return fmt.Errorf("load user: %w", err)
}
