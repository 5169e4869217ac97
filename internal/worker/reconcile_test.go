package worker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/checkin-credits/internal/database"
	"github.com/iliyamo/checkin-credits/internal/database/dbtest"
	"github.com/iliyamo/checkin-credits/internal/metrics"
	"github.com/iliyamo/checkin-credits/internal/model"
	"github.com/iliyamo/checkin-credits/internal/repository"
	"github.com/iliyamo/checkin-credits/internal/service"
)

func TestRunOnceCountsDrift(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(dbtest.Open(t), database.SQLite)
	users := repository.NewUserRepo(store)
	ledger := service.NewCreditLedger(store, users, repository.NewStatementRepo(store))
	accounts := service.NewAccounts(store, ledger)

	var ids []string
	for i := 0; i < 3; i++ {
		u := &model.User{Email: model.NewID() + "@example.com"}
		require.NoError(t, users.Create(ctx, u))
		_, err := accounts.Grant(ctx, u.ID, service.GrantRequest{Amount: 2})
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	// corrupt one balance behind the ledger's back
	require.NoError(t, store.WithTx(ctx, func(tx *repository.Tx) error {
		return users.AdjustPoolTx(ctx, tx, ids[1], model.CheckInTypeFree, -1, time.Now())
	}))

	before := testutil.ToFloat64(metrics.LedgerDriftTotal)
	r := NewReconciler(users, ledger, time.Minute)
	checked, drifted, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, checked)
	assert.Equal(t, 1, drifted)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LedgerDriftTotal))
}

func TestRunStopsWithContext(t *testing.T) {
	store := repository.NewStore(dbtest.Open(t), database.SQLite)
	users := repository.NewUserRepo(store)
	r := NewReconciler(users, service.NewCreditLedger(store, users, repository.NewStatementRepo(store)), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
