package main

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
	"golang.org/x/time/rate"

	"github.com/jwalitptl/wa-connector/internal/app"
	"github.com/jwalitptl/wa-connector/internal/config"
	adminHandler "github.com/jwalitptl/wa-connector/internal/handler/admin"
	apitokenHandler "github.com/jwalitptl/wa-connector/internal/handler/apitoken"
	authHandler "github.com/jwalitptl/wa-connector/internal/handler/auth"
	billingHandler "github.com/jwalitptl/wa-connector/internal/handler/billing"
	healthHandler "github.com/jwalitptl/wa-connector/internal/handler/health"
	instanceHandler "github.com/jwalitptl/wa-connector/internal/handler/instance"
	oauthHandler "github.com/jwalitptl/wa-connector/internal/handler/oauth"
	promHandler "github.com/jwalitptl/wa-connector/internal/handler/prometheus"
	realtimeHandler "github.com/jwalitptl/wa-connector/internal/handler/realtime"
	subaccountHandler "github.com/jwalitptl/wa-connector/internal/handler/subaccount"
	webhookHandler "github.com/jwalitptl/wa-connector/internal/handler/webhook"
	"github.com/jwalitptl/wa-connector/internal/middleware"
	"github.com/jwalitptl/wa-connector/internal/realtime"
	"github.com/jwalitptl/wa-connector/internal/router"
	"github.com/jwalitptl/wa-connector/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	l := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	l = l.With().Str("service", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, l)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialise application")
	}
	defer a.Close()
	svc := a.Services

	if cfg.Secrets.AdminEmail != "" && cfg.Secrets.AdminPassword != "" {
		if err := svc.Auth.EnsureAdmin(ctx, cfg.Secrets.AdminEmail, cfg.Secrets.AdminPassword); err != nil {
			l.Fatal().Err(err).Msg("failed to bootstrap admin user")
		}
	}

	// Pending states from a previous run can never complete.
	if n, err := svc.OAuth.ResetStates(ctx); err != nil {
		l.Error().Err(err).Msg("failed to reset oauth states")
	} else if n > 0 {
		l.Info().Int64("count", n).Msg("discarded stale oauth states")
	}

	if err := svc.ApiToken.Listen(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to subscribe to api token revocations")
	}

	hub := realtime.NewHub(a.Broker, svc.Instance, cfg.Security.AllowedOrigins, a.Metrics, l)
	if err := hub.Start(ctx); err != nil {
		l.Fatal().Err(err).Msg("failed to start realtime hub")
	}

	handlers := router.Handlers{
		Health: healthHandler.NewHandler(map[string]healthHandler.Pinger{
			"database": a.DB,
			"redis":    healthHandler.PingFunc(a.Broker.Ping),
		}),
		Metrics:    promHandler.New("wa_connector", a.Registry),
		OAuth:      oauthHandler.NewHandler(svc.OAuth),
		Auth:       authHandler.NewHandler(svc.Auth, svc.OAuth),
		Webhook:    webhookHandler.NewHandler(svc.Webhook, l),
		Realtime:   realtimeHandler.NewHandler(hub),
		Subaccount: subaccountHandler.NewHandler(svc.Subaccount),
		Instance:   instanceHandler.NewHandler(svc.Instance),
		Billing:    billingHandler.NewHandler(svc.Billing),
		ApiToken:   apitokenHandler.NewHandler(svc.ApiToken),
		Admin:      adminHandler.NewHandler(svc.Company, svc.Subaccount, svc.Instance, svc.Billing),
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.Security.AllowedOrigins
	cors.AllowMethods = cfg.Security.AllowedMethods
	cors.AllowHeaders = cfg.Security.AllowedHeaders

	r := router.NewRouter(
		middleware.NewAuthMiddleware(svc.Auth, svc.ApiToken),
		handlers,
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			RequestTimeout:   cfg.Server.RequestTimeout,
			CORSConfig:       cors,
			Logger:           l,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	go func() {
		l.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	l.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	l.Info().Msg("server exited properly")
}
