package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zodiac/pipeline-service/internal/ats"
	"zodiac/pipeline-service/internal/config"
	"zodiac/pipeline-service/internal/db"
	"zodiac/pipeline-service/internal/engage"
	"zodiac/pipeline-service/internal/events"
	"zodiac/pipeline-service/internal/feedback"
	"zodiac/pipeline-service/internal/llm"
	"zodiac/pipeline-service/internal/metrics"
	"zodiac/pipeline-service/internal/notify"
	"zodiac/pipeline-service/internal/orchestrator"
	"zodiac/pipeline-service/internal/pipeline"
	"zodiac/pipeline-service/internal/reconcile"
	"zodiac/pipeline-service/internal/server"
	"zodiac/pipeline-service/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:           "zodiac-pipeline",
		Short:         "Recruitment pipeline service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), reconcileCmd(), validateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service and the sync reconciler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Replay unsynced transition events once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context())
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the transition table and the ATS stage map for consistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateStatic(); err != nil {
				return err
			}
			fmt.Println("transition table and stage map ok")
			return nil
		},
	}
}

// validateStatic checks the compiled-in transition table and ATS stage map.
// Serve refuses to boot if either has drifted.
func validateStatic() error {
	if err := pipeline.ValidateTransitionTable(); err != nil {
		return fmt.Errorf("transition table: %w", err)
	}
	if err := ats.ValidateStageMap(); err != nil {
		return fmt.Errorf("stage map: %w", err)
	}
	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func runServe(ctx context.Context) error {
	logger := newLogger()
	slog.SetDefault(logger)

	if err := validateStatic(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	st := store.New(pool)
	if err := st.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	collector := metrics.NewCollector()
	atsClient := ats.NewClient(cfg.ATSBaseURL, cfg.ATSAPIKey, logger)

	machine := pipeline.NewMachine(st, pipeline.MachineConfig{
		Sync:               atsClient,
		Events:             events.NewPublisher(rdb),
		Metrics:            collector,
		Logger:             logger,
		MaxInterviewRounds: cfg.MaxInterviewRounds,
	})

	whatsapp := notify.NewWhatsAppClient(cfg.WhatsAppBaseURL, cfg.WhatsAppPhoneID, cfg.WhatsAppAccessToken, cfg.WhatsAppVerifyToken)
	calendar := notify.NewCalendarClient(cfg.CalendarBaseURL, cfg.CalendarAPIKey, cfg.CalendarID)
	ledger := feedback.NewLedger(pool)

	llmClient := llm.NewHTTPClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL)
	orch := orchestrator.New(machine, llm.NewGenerator(llmClient), whatsapp, calendar, ledger, atsClient, logger)
	engager := engage.NewAgent(llm.NewDecider(llmClient), whatsapp, atsClient, logger)

	handler := server.NewHandler(server.HandlerConfig{
		Machine:       machine,
		Orchestrator:  orch,
		Feedback:      ledger,
		Engager:       engager,
		Registry:      engage.NewRegistry(rdb),
		WhatsApp:      whatsapp,
		Metrics:       collector,
		Logger:        logger,
		ATSWebhookKey: cfg.ATSWebhookKey,
	})

	reconciler := reconcile.New(st, atsClient, collector, logger, cfg.ReconcileSpec)
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	defer reconciler.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pipeline service listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runReconcile(ctx context.Context) error {
	logger := newLogger()

	if err := validateStatic(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	st := store.New(pool)
	atsClient := ats.NewClient(cfg.ATSBaseURL, cfg.ATSAPIKey, logger)
	reconciler := reconcile.New(st, atsClient, metrics.NewCollector(), logger, cfg.ReconcileSpec)
	return reconciler.Run(ctx)
}
