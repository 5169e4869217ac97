package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/checkin-credits/internal/config"
	"github.com/iliyamo/checkin-credits/internal/database"
	"github.com/iliyamo/checkin-credits/internal/handler"
	"github.com/iliyamo/checkin-credits/internal/middleware"
	"github.com/iliyamo/checkin-credits/internal/queue"
	"github.com/iliyamo/checkin-credits/internal/repository"
	"github.com/iliyamo/checkin-credits/internal/router"
	"github.com/iliyamo/checkin-credits/internal/service"
	"github.com/iliyamo/checkin-credits/internal/worker"
)

// app holds the wired services shared by the commands.
type app struct {
	db    *sql.DB
	store *repository.Store
	rdb   *redis.Client

	users      *repository.UserRepo
	plans      *repository.PlanRepo
	events     *repository.EventRepo
	statements *repository.StatementRepo

	ledger    *service.CreditLedger
	scheduler *service.Scheduler
	accounts  *service.Accounts
	gate      *service.IdempotencyGate
}

func newApp(ctx context.Context, cfg config.Config, migrate bool) (*app, error) {
	db, err := database.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if migrate {
		if err := database.Migrate(ctx, db, cfg.DB.Dialect); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	store := repository.NewStore(db, cfg.DB.Dialect,
		repository.WithTxTimeout(cfg.TxTimeout),
		repository.WithMaxAttempts(cfg.TxAttempts))

	a := &app{
		db:         db,
		store:      store,
		users:      repository.NewUserRepo(store),
		plans:      repository.NewPlanRepo(store),
		events:     repository.NewEventRepo(store),
		statements: repository.NewStatementRepo(store),
	}
	a.ledger = service.NewCreditLedger(store, a.users, a.statements)

	var notifier service.Notifier = service.NopNotifier{}
	if cfg.NotifyEnabled {
		notifier = queue.NewPublisher(cfg.RabbitURL)
	}
	guard := service.NewCapacityGuard(cfg.CheckInCut, cfg.CancelCut)
	a.scheduler = service.NewScheduler(store, a.ledger, guard, notifier)
	a.accounts = service.NewAccounts(store, a.ledger)
	a.gate = service.NewIdempotencyGate(store, service.NewRenewalEngine(a.users, a.plans, a.ledger))
	return a, nil
}

func (a *app) router(cfg config.Config) *echo.Echo {
	a.rdb = config.NewRedisClient(cfg.Redis)
	cache := middleware.NewResponseCache(cfg.Cache, a.rdb)
	return router.New(router.Handlers{
		Health:   handler.Health{DB: a.db},
		Events:   handler.NewEventHandler(a.events, a.scheduler, cache),
		Accounts: handler.NewAccountHandler(a.accounts),
		Admin:    handler.NewAdminHandler(a.accounts, a.scheduler, a.ledger, cfg.TrialCredits),
		Webhooks: handler.NewWebhookHandler(a.gate, a.users, a.plans, cfg.StripeWebhookSecret, cfg.PaymentsWebhookSecret),
	}, router.Middleware{
		JWTSecret: cfg.JWTSecret,
		Cache:     cache,
		RateLimit: middleware.NewTokenBucket(cfg.RateLimit, a.rdb),
	})
}

func (a *app) consumer(cfg config.Config) *queue.PaymentConsumer {
	return queue.NewPaymentConsumer(cfg.RabbitURL, a.gate)
}

func (a *app) reconciler(cfg config.Config) *worker.Reconciler {
	return worker.NewReconciler(a.users, a.ledger, cfg.ReconcileInterval)
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	_ = a.db.Close()
}
