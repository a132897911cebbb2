package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"followup/internal/cadence"
	"followup/internal/carrier"
	"followup/internal/carrier/dryrun"
	"followup/internal/carrier/twilio"
	"followup/internal/config"
	"followup/internal/draft"
	"followup/internal/gate"
	"followup/internal/httpserver"
	"followup/internal/logging"
	"followup/internal/observability"
	"followup/internal/store/pg"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadScheduler()
	logging.Init("scheduler", cfg.LogFormat)

	tickInterval, err := time.ParseDuration(cfg.TickInterval)
	if err != nil {
		slog.Error("invalid TICK_INTERVAL", "err", err)
		os.Exit(1)
	}
	staleAfter, err := time.ParseDuration(cfg.StaleAfter)
	if err != nil {
		slog.Error("invalid CURSOR_STALE_AFTER", "err", err)
		os.Exit(1)
	}
	draftTimeout, err := time.ParseDuration(cfg.DraftTimeout)
	if err != nil {
		slog.Error("invalid DRAFT_TIMEOUT", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("scheduler db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := pg.New(db)

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	g := &gate.Gate{
		Store:           st,
		Carrier:         newSender(cfg),
		Limiter:         rate.NewLimiter(rate.Limit(cfg.CarrierRPS), cfg.CarrierBurst),
		Breaker:         newBreaker(),
		FooterText:      cfg.FooterText,
		OccasionalEvery: cfg.OccasionalEvery,
	}

	var drafts draft.Generator = draft.Static{Text: "Just checking in - do you have any questions I can help with?"}
	if cfg.DraftServiceURL != "" {
		drafts = &draft.HTTPGenerator{
			BaseURL: cfg.DraftServiceURL,
			HTTP:    &http.Client{Timeout: draftTimeout},
		}
	}

	sched := &cadence.Scheduler{
		Store:         st,
		Gate:          g,
		Drafts:        drafts,
		DraftMaxChars: cfg.DraftMaxChars,
		ShrinkChars:   cfg.DraftShrinkChars,
		StaleAfter:    staleAfter,
	}

	// health + metrics server
	healthMux := httpserver.New().Mux
	healthMux.HandleFunc("/healthz", httpserver.Healthz())
	healthMux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
	))
	healthMux.Handle("/metrics", promhttp.Handler())

	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpserver.Logging(healthMux),
	}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("scheduler health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			runTick(ctx, sched, cfg.TickLimit)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("scheduler health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("scheduler shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-tickDone:
	case <-time.After(10 * time.Second):
		slog.Info("scheduler shutdown timeout waiting for tick loop")
	}
}

func runTick(ctx context.Context, sched *cadence.Scheduler, limit int) {
	start := time.Now()
	summary, err := sched.Tick(ctx, limit)
	if err != nil {
		slog.Error("cadence tick failed", "err", err, "duration", time.Since(start))
		return
	}
	slog.Info("cadence tick",
		"picked", summary.Picked,
		"processed", summary.Processed,
		"duration", time.Since(start),
	)
}

func newSender(cfg config.SchedulerConfig) carrier.Sender {
	if cfg.CarrierProvider == "twilio" {
		return &twilio.Client{
			AccountSID:          cfg.TwilioAccountSID,
			AuthToken:           cfg.TwilioAuthToken,
			HTTP:                &http.Client{Timeout: 8 * time.Second},
			MessagingServiceSID: cfg.TwilioMessagingServiceSID,
			FromNumber:          cfg.TwilioFromNumber,
			BaseURL:             cfg.TwilioBaseURL,
		}
	}
	return dryrun.Sender{}
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "carrier",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})
}
