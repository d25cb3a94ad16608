// Package app builds the object graph shared by the api and worker binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/client"
	"github.com/jwalitptl/wa-connector/internal/client/crm"
	"github.com/jwalitptl/wa-connector/internal/client/evolution"
	"github.com/jwalitptl/wa-connector/internal/client/n8n"
	"github.com/jwalitptl/wa-connector/internal/config"
	"github.com/jwalitptl/wa-connector/internal/email"
	"github.com/jwalitptl/wa-connector/internal/repository"
	"github.com/jwalitptl/wa-connector/internal/repository/postgres"
	"github.com/jwalitptl/wa-connector/internal/service/apitoken"
	authService "github.com/jwalitptl/wa-connector/internal/service/auth"
	"github.com/jwalitptl/wa-connector/internal/service/billing"
	"github.com/jwalitptl/wa-connector/internal/service/company"
	"github.com/jwalitptl/wa-connector/internal/service/instance"
	"github.com/jwalitptl/wa-connector/internal/service/notification"
	"github.com/jwalitptl/wa-connector/internal/service/oauth"
	"github.com/jwalitptl/wa-connector/internal/service/subaccount"
	"github.com/jwalitptl/wa-connector/internal/service/webhook"
	"github.com/jwalitptl/wa-connector/pkg/auth"
	"github.com/jwalitptl/wa-connector/pkg/lock"
	"github.com/jwalitptl/wa-connector/pkg/messaging/redis"
	"github.com/jwalitptl/wa-connector/pkg/metrics"
	"github.com/jwalitptl/wa-connector/pkg/security"
)

const (
	metricsNamespace = "wa_connector"
	claimLockTries   = 3
)

// Services holds one instance of every domain service.
type Services struct {
	Billing      *billing.Service
	Company      *company.Service
	Subaccount   *subaccount.Service
	OAuth        *oauth.Service
	Instance     *instance.Service
	Auth         *authService.Service
	ApiToken     *apitoken.Service
	Notification *notification.Service
	Webhook      *webhook.Service
}

type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	DB       *sqlx.DB
	Redis    *goredis.Client
	Broker   *redis.RedisBroker
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Outbox   repository.OutboxRepository
	Services Services
}

// New connects to postgres and redis and wires every service. Close releases
// both connections.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info().Msg("database migrations applied")
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.ToBrokerConfig())
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Redis:    rdb,
		Broker:   redis.NewRedisBroker(rdb, logger),
		Registry: reg,
		Metrics:  metrics.New(metricsNamespace, reg),
	}
	a.wire()
	return a, nil
}

func (a *App) wire() {
	cfg := a.Config
	logger := a.Logger

	base := postgres.NewBaseRepository(a.DB)
	a.Outbox = postgres.NewOutboxRepository(base)

	opts := client.Options{Logger: logger, Metrics: a.Metrics}
	crmClient := crm.New(crm.Config{
		BaseURL:      cfg.CRM.BaseURL,
		ClientID:     cfg.CRM.ClientID,
		ClientSecret: cfg.Secrets.CRMClientSecret,
	}, opts)
	evolutionClient := evolution.New(evolution.Config{
		BaseURL: cfg.Evolution.BaseURL,
		APIKey:  cfg.Secrets.EvolutionAPIKey,
	}, opts)
	n8nClient := n8n.New(n8n.Config{
		BaseURL: cfg.N8N.BaseURL,
		APIKey:  cfg.Secrets.N8NAPIKey,
	}, opts)

	hasher := security.NewBcryptHasher(0)
	jwtSvc := auth.NewJWTService(
		cfg.Secrets.JWTSecret,
		cfg.JWT.Issuer,
		time.Duration(cfg.JWT.ExpiryHours)*time.Hour,
	)

	s := &a.Services
	s.Billing = billing.NewService(
		postgres.NewSubscriptionRepository(base),
		postgres.NewInvoiceRepository(base),
		a.Outbox,
		logger,
	)
	s.Company = company.NewService(postgres.NewCompanyRepository(base))
	s.Subaccount = subaccount.NewService(
		&base,
		postgres.NewSubaccountRepository(base),
		postgres.NewCompanyRepository(base),
		postgres.NewInstallTokenRepository(base),
		s.Billing,
		lock.NewRedisLocker(a.Redis, claimLockTries),
		cfg.PublicURL,
		logger,
	)
	s.OAuth = oauth.NewService(
		oauth.Config{
			AuthorizeURL:       cfg.CRM.AuthorizeURL,
			ClientID:           cfg.CRM.ClientID,
			RedirectURI:        cfg.CRM.RedirectURI,
			Scopes:             cfg.CRM.Scopes,
			MenuURL:            cfg.CRM.MenuURL,
			MenuTitle:          cfg.CRM.MenuTitle,
			StateTTL:           cfg.CRM.StateTTL,
			TokenSkew:          cfg.CRM.TokenSkew,
			TemplateWorkflowID: cfg.N8N.TemplateWorkflowID,
		},
		postgres.NewOAuthStateRepository(base),
		postgres.NewCRMTokenRepository(base),
		a.Outbox,
		s.Subaccount,
		crmClient,
		n8nClient,
		security.NewSSOCodec(cfg.Secrets.SSOSecret),
		a.Metrics,
		logger,
	)
	s.Instance = instance.NewService(
		postgres.NewInstanceRepository(base),
		s.Subaccount,
		s.Billing,
		evolutionClient,
		a.Broker,
		a.Outbox,
		cfg.Evolution.WebhookURL,
		a.Metrics,
		logger,
	)
	s.Auth = authService.NewService(postgres.NewUserRepository(base), s.Subaccount, jwtSvc, hasher, logger)
	s.ApiToken = apitoken.NewService(postgres.NewApiTokenRepository(base), hasher, a.Broker, logger)
	s.Notification = notification.NewService(email.NewSMTPService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.Secrets.SMTPPassword,
		From:     cfg.SMTP.From,
	}, logger), logger)
	s.Webhook = webhook.NewService(
		a.Outbox,
		s.Instance,
		s.Billing,
		n8nClient,
		cfg.N8N.ForwardURL,
		cfg.Secrets.BillingWebhookSecret,
		logger,
	)
}

func (a *App) Close() {
	if err := a.Broker.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to close redis")
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("failed to close database")
	}
}
