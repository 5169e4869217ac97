// Package worker holds background jobs run next to the HTTP server.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/checkin-credits/internal/metrics"
	"github.com/iliyamo/checkin-credits/internal/repository"
	"github.com/iliyamo/checkin-credits/internal/service"
)

const reconcilePageSize = 200

// Reconciler periodically compares every user's balance with their
// statements. It reports drift through logs and metrics and never writes.
type Reconciler struct {
	users    *repository.UserRepo
	ledger   *service.CreditLedger
	interval time.Duration
}

func NewReconciler(users *repository.UserRepo, ledger *service.CreditLedger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reconciler{users: users, ledger: ledger, interval: interval}
}

// Run checks on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Reconciliation pass failed")
			}
		}
	}
}

// RunOnce walks all users once and returns how many were checked and how
// many had drifted.
func (r *Reconciler) RunOnce(ctx context.Context) (checked, drifted int, err error) {
	start := time.Now()
	after := ""
	for {
		ids, err := r.users.ListIDsAfter(ctx, after, reconcilePageSize)
		if err != nil {
			return checked, drifted, err
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			rep, err := r.ledger.Reconcile(ctx, id)
			if err != nil {
				return checked, drifted, err
			}
			checked++
			if !rep.Consistent {
				drifted++
				metrics.LedgerDriftTotal.Inc()
				ev := log.Warn().Str("user_id", id)
				for _, d := range rep.Drifts {
					ev = ev.Int64(d.Pool+"_materialized", d.Materialized).Int64(d.Pool+"_ledger", d.Ledger)
				}
				ev.Msg("Ledger drift detected")
			}
		}
		after = ids[len(ids)-1]
	}
	log.Info().Int("checked", checked).Int("drifted", drifted).Dur("took", time.Since(start)).Msg("Reconciliation pass finished")
	return checked, drifted, nil
}
