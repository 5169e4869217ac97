package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/checkin-credits/internal/metrics"
	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
)

const (
	DefaultStatementPage = 50
	MaxStatementPage     = 200
)

// Accounts covers member account operations outside check-in: activation
// with the trial grant, manual grants and balance reads.
type Accounts struct {
	store      *repository.Store
	users      *repository.UserRepo
	statements *repository.StatementRepo
	checkIns   *repository.CheckInRepo
	ledger     Ledger

	Now func() time.Time
}

func NewAccounts(store *repository.Store, ledger Ledger) *Accounts {
	return &Accounts{
		store:      store,
		users:      repository.NewUserRepo(store),
		statements: repository.NewStatementRepo(store),
		checkIns:   repository.NewCheckInRepo(store),
		ledger:     ledger,
		Now:        time.Now,
	}
}

// ActivateWithTrial activates the user and grants trial credits once. A
// repeated call leaves the balance alone.
func (a *Accounts) ActivateWithTrial(ctx context.Context, userID string, trialCredits int64) (model.User, error) {
	if trialCredits < 0 {
		return model.User{}, invalid("trial_credits", "must not be negative")
	}
	var (
		user    model.User
		granted bool
	)
	err := a.store.WithTx(ctx, func(tx *repository.Tx) error {
		u, err := a.users.GetForUpdateTx(ctx, tx, userID)
		if err != nil {
			return userErr(err)
		}
		if _, err := a.users.ActivateTx(ctx, tx, u.ID, a.Now().UTC()); err != nil {
			return fmt.Errorf("activate user: %w", err)
		}
		if trialCredits > 0 {
			had, err := a.statements.ExistsTx(ctx, tx, userID, model.StatementCredit, model.CheckInTypeTrial)
			if err != nil {
				return fmt.Errorf("check trial grant: %w", err)
			}
			if !had {
				if _, err := a.ledger.Grant(ctx, tx, userID, trialCredits, model.CheckInTypeTrial,
					model.CreditSource{Title: "Trial check-ins"}); err != nil {
					return err
				}
				granted = true
			}
		}
		user, err = a.users.GetForUpdateTx(ctx, tx, userID)
		return userErr(err)
	})
	if err != nil {
		return model.User{}, err
	}
	if granted {
		metrics.StatementsTotal.WithLabelValues(string(model.StatementCredit), string(model.CheckInTypeTrial)).Inc()
		log.Info().Str("user_id", userID).Int64("credits", trialCredits).Msg("Trial credits granted")
	}
	return user, nil
}

// GrantRequest is a manual credit grant issued by an administrator.
type GrantRequest struct {
	Amount      int64             `json:"amount"`
	Type        model.CheckInType `json:"type"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
}

// Grant applies a manual grant in its own transaction.
func (a *Accounts) Grant(ctx context.Context, userID string, req GrantRequest) (model.Statement, error) {
	if req.Type == "" {
		req.Type = model.CheckInTypeFree
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		req.Title = "Manual grant"
	}
	var st model.Statement
	err := a.store.WithTx(ctx, func(tx *repository.Tx) error {
		var err error
		st, err = a.ledger.Grant(ctx, tx, userID, req.Amount, req.Type, model.CreditSource{
			Title:       req.Title,
			Description: req.Description,
		})
		return err
	})
	if err != nil {
		return model.Statement{}, err
	}
	metrics.StatementsTotal.WithLabelValues(string(st.Type), string(st.CheckInType)).Inc()
	log.Info().Str("user_id", userID).Int64("amount", st.Quantity).Str("pool", string(st.CheckInType)).Msg("Credits granted")
	return st, nil
}

// Balance returns the user's materialized balance.
func (a *Accounts) Balance(ctx context.Context, userID string) (model.Balance, error) {
	u, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return model.Balance{}, userErr(err)
	}
	return model.BalanceOf(u), nil
}

// Statements lists the user's ledger newest first. before is the id of the
// last statement of the previous page.
func (a *Accounts) Statements(ctx context.Context, userID, before string, limit int) ([]model.Statement, error) {
	if limit <= 0 {
		limit = DefaultStatementPage
	}
	if limit > MaxStatementPage {
		limit = MaxStatementPage
	}
	return a.statements.ListByUser(ctx, userID, before, limit)
}

// CheckIns lists the user's current and past reservations.
func (a *Accounts) CheckIns(ctx context.Context, userID string, limit int) ([]model.CheckIn, error) {
	if limit <= 0 || limit > MaxStatementPage {
		limit = DefaultStatementPage
	}
	return a.checkIns.ListByUser(ctx, userID, limit)
}
