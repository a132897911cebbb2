package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"followup/internal/awsutil"
	"followup/internal/config"
	"followup/internal/httpserver"
	"followup/internal/logging"
	"followup/internal/observability"
	sqsqueue "followup/internal/queue/sqs"
	"followup/internal/store"
	"followup/internal/store/pg"
	"followup/internal/util"
)

func main() {
	_ = godotenv.Load()

	cfg := config.LoadWebhookProcessor()
	logging.Init("webhook-processor", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns:          cfg.DBPoolMaxConns,
		MinConns:          cfg.DBPoolMinConns,
		MaxConnLifetime:   cfg.DBPoolMaxConnLifetime,
		MaxConnIdleTime:   cfg.DBPoolMaxConnIdleTime,
		HealthCheckPeriod: cfg.DBPoolHealthCheckPeriod,
	})
	if err != nil {
		slog.Error("webhook-processor db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	dbStore := pg.New(db)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("webhook-processor sqs client init failed", "err", err)
		os.Exit(1)
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}
	if _, err := sqsClient.GetQueueAttributes(startupCtx, &sqs.GetQueueAttributesInput{
		QueueUrl:       &cfg.CallbackQueueURL,
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	}); err != nil {
		slog.Error("sqs not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	consumer := &sqsqueue.Consumer{
		SQS:               sqsClient,
		QueueURL:          cfg.CallbackQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	// health + metrics servers
	healthMux := httpserver.New().Mux
	healthMux.HandleFunc("/healthz", httpserver.Healthz())
	healthMux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
		func(c context.Context) error {
			_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
				QueueUrl:       &cfg.CallbackQueueURL,
				AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
			})
			return err
		},
	))

	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: httpserver.Logging(healthMux)}
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}

	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("webhook-processor health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()
	metricsErrCh := make(chan error, 1)
	go func() {
		slog.Info("webhook-processor metrics listening", "port", cfg.MetricsPort)
		metricsErrCh <- metricsSrv.ListenAndServe()
	}()

	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("webhook-processor starting poll", "queue_url", cfg.CallbackQueueURL)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.Concurrency, func(ctx context.Context, ev sqsqueue.CallbackEvent) error {
			return processCallbackEvent(ctx, dbStore, ev)
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("webhook-processor poll failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("webhook-processor health server failed", "err", err)
			os.Exit(1)
		}
	case err := <-metricsErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("webhook-processor metrics server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("webhook-processor shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Info("webhook-processor shutdown timeout waiting for poll loop")
	}
}

// callbackStore is the slice of the persistence layer the processor touches.
type callbackStore interface {
	UpdateAttemptByProviderMsgID(ctx context.Context, in store.ProviderMsgUpdate) (bool, error)
	InsertDeliveryEvent(ctx context.Context, ev store.DeliveryEvent) error
	FindLeadByPhone(ctx context.Context, phone string) (store.Lead, bool, error)
	InsertInboundMessage(ctx context.Context, in store.InboundInsert) error
	MarkLeadInbound(ctx context.Context, leadID string, at time.Time) error
	MarkLeadOptedOut(ctx context.Context, leadID string, at time.Time) error
	InsertSuppression(ctx context.Context, phone, reason string, at time.Time) error
}

func processCallbackEvent(ctx context.Context, st callbackStore, ev sqsqueue.CallbackEvent) error {
	// Bounded DB work; errors cause SQS redrive.
	dbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev.Kind {
	case sqsqueue.KindInbound:
		return processInbound(dbCtx, st, ev)
	default:
		return processStatus(dbCtx, st, ev)
	}
}

func processStatus(ctx context.Context, st callbackStore, ev sqsqueue.CallbackEvent) error {
	newStatus, terminal := "", false
	switch ev.Status {
	case "sent":
		newStatus = "sent"
	case "delivered":
		newStatus, terminal = "delivered", true
	case "failed", "undelivered":
		newStatus, terminal = "failed", true
	}

	// Terminal events must land on the attempt: if the attempt row does not
	// carry the provider_msg_id yet, returning an error lets SQS retry later.
	// A "sent" callback that matches nothing is fine; it may arrive after the
	// attempt already reached a terminal status.
	if newStatus != "" {
		updated, err := st.UpdateAttemptByProviderMsgID(ctx, store.ProviderMsgUpdate{
			Provider:      ev.Provider,
			ProviderMsgID: ev.ProviderMsgID,
			NewStatus:     newStatus,
			LastError:     ev.ErrorCode,
			Terminal:      terminal,
			Now:           util.NowUTC(),
		})
		if err != nil {
			return err
		}
		if !updated && terminal {
			return errors.New("attempt not found for provider_msg_id")
		}
	}

	occurred := ev.ReceivedAt
	return st.InsertDeliveryEvent(ctx, store.DeliveryEvent{
		Provider:      ev.Provider,
		ProviderMsgID: ev.ProviderMsgID,
		VendorStatus:  ev.Status,
		ErrorCode:     ev.ErrorCode,
		Payload:       nil,
		OccurredAt:    &occurred,
	})
}

// stopKeywords mirror the carrier-level opt-out words; matching any of them
// suppresses the phone number globally, not just the one lead.
var stopKeywords = map[string]bool{
	"STOP": true, "STOPALL": true, "UNSUBSCRIBE": true,
	"CANCEL": true, "END": true, "QUIT": true,
}

func processInbound(ctx context.Context, st callbackStore, ev sqsqueue.CallbackEvent) error {
	phone := util.NormalizePhone(ev.From)
	lead, found, err := st.FindLeadByPhone(ctx, phone)
	if err != nil {
		return err
	}
	if !found {
		slog.Info("inbound from unknown number", "from", phone)
		return nil
	}

	now := util.NowUTC()
	if err := st.InsertInboundMessage(ctx, store.InboundInsert{
		LeadID:   lead.ID,
		TenantID: lead.TenantID,
		Phone:    phone,
		Body:     ev.Body,
		Now:      now,
	}); err != nil {
		return err
	}
	if err := st.MarkLeadInbound(ctx, lead.ID, now); err != nil {
		return err
	}

	if stopKeywords[strings.ToUpper(strings.TrimSpace(ev.Body))] {
		if err := st.MarkLeadOptedOut(ctx, lead.ID, now); err != nil {
			return fmt.Errorf("mark opted out: %w", err)
		}
		if err := st.InsertSuppression(ctx, phone, "stop_keyword", now); err != nil {
			return fmt.Errorf("insert suppression: %w", err)
		}
		slog.Info("lead opted out", "lead_id", lead.ID, "tenant_id", lead.TenantID)
	}
	return nil
}
