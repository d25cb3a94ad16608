package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/wa-connector/internal/app"
	"github.com/jwalitptl/wa-connector/internal/config"
	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/internal/realtime"
	internalworker "github.com/jwalitptl/wa-connector/internal/worker"
	"github.com/jwalitptl/wa-connector/pkg/lock"
	"github.com/jwalitptl/wa-connector/pkg/logger"
	"github.com/jwalitptl/wa-connector/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	l := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	l = l.With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, l)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialise application")
	}
	defer a.Close()
	svc := a.Services

	events := worker.NewRouter()
	events.Handle(model.EventWebhookMessage, svc.Webhook.Deliver)
	events.Handle(model.EventNotificationEmail, svc.Notification.Handle)
	events.HandlePrefix(model.EventRealtimePrefix, realtime.Relay(a.Broker))

	processor, err := worker.NewOutboxProcessor(
		a.Outbox,
		events,
		cfg.Outbox.ToWorkerConfig(),
		l,
		a.Metrics,
	)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to create outbox processor")
	}

	// One try: a contended tick belongs to another worker.
	scheduler := internalworker.NewScheduler(lock.NewRedisLocker(a.Redis, 1), a.Metrics, l)
	jobs := []internalworker.Job{
		{
			Name:    "instance-sync",
			Spec:    cfg.Worker.InstanceSyncSpec,
			Timeout: 25 * time.Second,
			Run: func(ctx context.Context) error {
				_, err := svc.Instance.SyncAll(ctx)
				return err
			},
		},
		{
			Name: "oauth-state-sweep",
			Spec: cfg.Worker.StateSweepSpec,
			Run: func(ctx context.Context) error {
				_, err := svc.OAuth.SweepStates(ctx)
				return err
			},
		},
		{
			Name: "trial-expiry",
			Spec: cfg.Worker.TrialExpirySpec,
			Run: func(ctx context.Context) error {
				_, err := svc.Billing.ExpireTrials(ctx, time.Now().UTC())
				return err
			},
		},
	}
	for _, job := range jobs {
		if err := scheduler.Add(job); err != nil {
			l.Fatal().Err(err).Msg("failed to schedule job")
		}
	}

	health := startHealthServer(a, cfg.Worker.HealthPort, l)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()

	<-ctx.Done()
	l.Info().Msg("shutting down...")
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		l.Warn().Err(err).Msg("health server forced to shutdown")
	}
}

func startHealthServer(a *app.App, port int, l zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.PingContext(pingCtx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := a.Broker.Ping(pingCtx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("health check server failed")
		}
	}()
	return srv
}
