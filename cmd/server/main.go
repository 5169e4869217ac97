package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/checkin-credits/internal/config"
	"github.com/iliyamo/checkin-credits/internal/database"
	"github.com/iliyamo/checkin-credits/internal/logging"
	"github.com/iliyamo/checkin-credits/internal/queue"
	"github.com/iliyamo/checkin-credits/internal/service"
	"github.com/iliyamo/checkin-credits/internal/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "checkin",
		Short:         "Check-in credits and event capacity service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newReconcileCmd(),
		newExportCmd(),
		newTokenCmd(),
		newPublishPaymentCmd(),
	)
	return root
}

// loadConfig reads the environment and configures the global logger.
func loadConfig(component string) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: component})
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, payments consumer and reconciliation worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig("server")
			if err != nil {
				return err
			}
			if err := cfg.RequireJWT(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, migrate)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, cfg, a)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before starting")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, a *app) error {
	e := a.router(cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Str("db", string(cfg.DB.Dialect)).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		a.scheduler.Wait()
		return err
	})
	if cfg.PaymentsConsumer {
		g.Go(func() error { return a.consumer(cfg).Run(gctx) })
	}
	if cfg.ReconcileInterval > 0 {
		g.Go(func() error { return a.reconciler(cfg).Run(gctx) })
	}
	err := g.Wait()
	log.Info().Msg("server stopped")
	return err
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig("migrate")
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DB)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := database.Migrate(cmd.Context(), db, cfg.DB.Dialect); err != nil {
				return err
			}
			log.Info().Str("db", string(cfg.DB.Dialect)).Msg("migrations applied")
			return nil
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [user-id]",
		Short: "Compare materialized balances with the statement ledger",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("reconcile")
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				rep, err := a.ledger.Reconcile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printReport(cmd, rep)
				if !rep.Consistent {
					return fmt.Errorf("user %s has drifted", args[0])
				}
				return nil
			}
			checked, drifted, err := a.reconciler(cfg).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d users, %d drifted\n", checked, drifted)
			if drifted > 0 {
				return fmt.Errorf("%d users drifted", drifted)
			}
			return nil
		},
	}
}

func printReport(cmd *cobra.Command, rep service.ReconcileReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user %s consistent=%t\n", rep.UserID, rep.Consistent)
	for _, d := range rep.Drifts {
		fmt.Fprintf(out, "  %-5s materialized=%d ledger=%d\n", d.Pool, d.Materialized, d.Ledger)
	}
}

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-statements",
		Short: "Write every ledger statement to an XLSX workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig("export")
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			n, err := service.ExportStatements(cmd.Context(), a.statements, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			log.Info().Int("rows", n).Str("file", out).Msg("statements exported")
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "statements.xlsx", "output file")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig("token")
			if err != nil {
				return err
			}
			if err := cfg.RequireJWT(); err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.AccessTTL
			}
			tok, err := utils.NewAccessToken(cfg.JWTSecret, userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&role, "role", "MEMBER", "MEMBER or ADMIN")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default ACCESS_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// newPublishPaymentCmd enqueues a confirmation on the payments queue, used
// to replay a payment an adapter failed to deliver.
func newPublishPaymentCmd() *cobra.Command {
	var m queue.PaymentConfirmedMessage
	cmd := &cobra.Command{
		Use:   "publish-payment",
		Short: "Enqueue a payment confirmation for the payments consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig("publish-payment")
			if err != nil {
				return err
			}
			if err := queue.NewPublisher(cfg.RabbitURL).PublishPayment(cmd.Context(), m); err != nil {
				return err
			}
			log.Info().Str("provider", m.Provider).Str("external_payment_id", m.ExternalPaymentID).Msg("payment enqueued")
			return nil
		},
	}
	cmd.Flags().StringVar(&m.Provider, "provider", "", "payment provider (stripe, mercadopago)")
	cmd.Flags().StringVar(&m.ExternalPaymentID, "external-id", "", "provider payment id")
	cmd.Flags().StringVar(&m.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&m.PlanID, "plan", "", "plan id")
	cmd.Flags().StringVar(&m.SubscriptionID, "subscription", "", "provider subscription id")
	for _, f := range []string{"provider", "external-id", "user", "plan"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
