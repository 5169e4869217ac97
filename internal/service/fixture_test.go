package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/checkin-credits/internal/database"
	"github.com/iliyamo/checkin-credits/internal/database/dbtest"
	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store      *repository.Store
	users      *repository.UserRepo
	events     *repository.EventRepo
	plans      *repository.PlanRepo
	statements *repository.StatementRepo
	checkIns   *repository.CheckInRepo

	ledger    *CreditLedger
	scheduler *Scheduler
	accounts  *Accounts
	renewal   *RenewalEngine
	gate      *IdempotencyGate
	notifier  *recordingNotifier

	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewStore(dbtest.Open(t), database.SQLite)
	f := &fixture{
		store:      store,
		users:      repository.NewUserRepo(store),
		events:     repository.NewEventRepo(store),
		plans:      repository.NewPlanRepo(store),
		statements: repository.NewStatementRepo(store),
		checkIns:   repository.NewCheckInRepo(store),
		notifier:   &recordingNotifier{},
		now:        testNow,
	}
	clock := func() time.Time { return f.now }
	f.ledger = NewCreditLedger(store, f.users, f.statements)
	f.ledger.Now = clock
	f.scheduler = NewScheduler(store, f.ledger, NewCapacityGuard(0, 0), f.notifier)
	f.scheduler.Now = clock
	f.accounts = NewAccounts(store, f.ledger)
	f.accounts.Now = clock
	f.renewal = NewRenewalEngine(f.users, f.plans, f.ledger)
	f.renewal.Now = clock
	f.gate = NewIdempotencyGate(store, f.renewal)
	return f
}

// member creates an activated user holding the given pool balances.
func (f *fixture) member(t *testing.T, trial, free, paid int64) model.User {
	t.Helper()
	ctx := context.Background()
	u := &model.User{Email: model.NewID() + "@example.com", IsUserActivated: true}
	require.NoError(t, f.users.Create(ctx, u))
	for pool, n := range map[model.CheckInType]int64{
		model.CheckInTypeTrial: trial,
		model.CheckInTypeFree:  free,
		model.CheckInTypePaid:  paid,
	} {
		if n == 0 {
			continue
		}
		_, err := f.accounts.Grant(ctx, u.ID, GrantRequest{Amount: n, Type: pool, Title: "seed"})
		require.NoError(t, err)
	}
	return f.user(t, u.ID)
}

func (f *fixture) user(t *testing.T, id string) model.User {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

// liveEvent creates a reservable event starting in start from now.
func (f *fixture) liveEvent(t *testing.T, capacity int, start time.Duration) model.Event {
	t.Helper()
	at := f.now.Add(start)
	e := &model.Event{Title: "Spin", IsLive: true, StartDate: &at, Duration: 45, CheckInsMaxQuantity: &capacity}
	require.NoError(t, f.events.Create(context.Background(), e))
	return *e
}

// assertConsistent checks that the user's balance equals the ledger sum.
func (f *fixture) assertConsistent(t *testing.T, userID string) {
	t.Helper()
	rep, err := f.ledger.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, rep.Consistent, "drifts: %+v", rep.Drifts)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}
