package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"followup/internal/carrier"
	"followup/internal/carrier/dryrun"
	"followup/internal/carrier/twilio"
	"followup/internal/config"
	"followup/internal/gate"
	"followup/internal/httpserver"
	"followup/internal/logging"
	"followup/internal/observability"
	"followup/internal/reminder"
	"followup/internal/store/pg"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadReminder()
	logging.Init("reminder", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("reminder db connect failed", "err", err)
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

	variants := []string{
		"Hi {name}, just checking in on your visit tomorrow. Does the time still work for you?",
		"Hi {name}, a quick reminder about your upcoming visit. Let us know if anything changed.",
		"Hi {name}, looking forward to seeing you. Reply here if you need to reschedule.",
	}

	batch := &reminder.Batch{
		Store:        st,
		Gate:         g,
		DefaultSlots: splitSlots(cfg.Slots),
		Drift:        time.Duration(cfg.DriftMinutes) * time.Minute,
		Lookback:     time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		MaxIntervals: cfg.MaxIntervals,
		MinGap:       time.Duration(cfg.MinGapHours) * time.Hour,
		Variants:     variants,
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.CronSpec, func() { runBatch(ctx, st, batch) })
	if err != nil {
		slog.Error("invalid REMINDER_CRON", "err", err, "spec", cfg.CronSpec)
		os.Exit(1)
	}
	c.Start()

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
		slog.Info("reminder health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("reminder health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("reminder shutdown", "signal", sig.String())
	}

	cancel()

	cronCtx := c.Stop()
	select {
	case <-cronCtx.Done():
	case <-time.After(10 * time.Second):
		slog.Info("reminder shutdown timeout waiting for cron jobs")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
}

func runBatch(ctx context.Context, st *pg.Store, batch *reminder.Batch) {
	tenants, err := st.ListActiveTenants(ctx)
	if err != nil {
		slog.Error("reminder list tenants failed", "err", err)
		observability.ReminderRuns.WithLabelValues("error").Inc()
		return
	}
	for _, tenantID := range tenants {
		start := time.Now()
		res, err := batch.Run(ctx, tenantID)
		if err != nil {
			slog.Error("reminder batch failed", "err", err, "tenant_id", tenantID)
			observability.ReminderRuns.WithLabelValues("error").Inc()
			continue
		}
		if res.Skipped != "" {
			slog.Debug("reminder batch skipped", "tenant_id", tenantID, "reason", res.Skipped)
			continue
		}
		slog.Info("reminder batch",
			"tenant_id", tenantID,
			"processed", res.Processed,
			"duration", time.Since(start),
		)
	}
}

func splitSlots(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func newSender(cfg config.ReminderConfig) carrier.Sender {
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
