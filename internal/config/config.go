package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/wa-connector/pkg/messaging/redis"
	"github.com/jwalitptl/wa-connector/pkg/worker"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	PublicURL   string          `mapstructure:"public_url"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Log         LogConfig       `mapstructure:"log"`
	JWT         JWTConfig       `mapstructure:"jwt"`
	CRM         CRMConfig       `mapstructure:"crm"`
	Evolution   EvolutionConfig `mapstructure:"evolution"`
	N8N         N8NConfig       `mapstructure:"n8n"`
	SMTP        SMTPConfig      `mapstructure:"smtp"`
	Outbox      OutboxConfig    `mapstructure:"outbox"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Security    SecurityConfig  `mapstructure:"security"`
	Worker      WorkerConfig    `mapstructure:"worker"`

	Secrets SecretsConfig `mapstructure:"-"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type JWTConfig struct {
	ExpiryHours int    `mapstructure:"expiry_hours"`
	Issuer      string `mapstructure:"issuer"`
}

type CRMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	AuthorizeURL string        `mapstructure:"authorize_url"`
	ClientID     string        `mapstructure:"client_id"`
	RedirectURI  string        `mapstructure:"redirect_uri"`
	Scopes       []string      `mapstructure:"scopes"`
	MenuURL      string        `mapstructure:"menu_url"`
	MenuTitle    string        `mapstructure:"menu_title"`
	StateTTL     time.Duration `mapstructure:"state_ttl"`
	TokenSkew    time.Duration `mapstructure:"token_skew"`
}

type EvolutionConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type N8NConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	ForwardURL         string `mapstructure:"forward_url"`
	TemplateWorkflowID string `mapstructure:"template_workflow_id"`
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	User string `mapstructure:"user"`
	From string `mapstructure:"from"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type WorkerConfig struct {
	HealthPort       int    `mapstructure:"health_port"`
	InstanceSyncSpec string `mapstructure:"instance_sync_spec"`
	StateSweepSpec   string `mapstructure:"state_sweep_spec"`
	TrialExpirySpec  string `mapstructure:"trial_expiry_spec"`
}

// SecretsConfig is read from APP_* environment variables only, never from the config file.
type SecretsConfig struct {
	CRMClientSecret      string `envconfig:"CRM_CLIENT_SECRET"`
	SSOSecret            string `envconfig:"SSO_SECRET"`
	EvolutionAPIKey      string `envconfig:"EVOLUTION_API_KEY"`
	JWTSecret            string `envconfig:"JWT_SECRET"`
	BillingWebhookSecret string `envconfig:"BILLING_WEBHOOK_SECRET"`
	N8NAPIKey            string `envconfig:"N8N_API_KEY"`
	SMTPPassword         string `envconfig:"SMTP_PASSWORD"`
	// Bootstrap dashboard admin, created on start when both are set.
	AdminEmail    string `envconfig:"ADMIN_EMAIL"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
}

const secretsPrefix = "APP"

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("public_url", "http://localhost:8080")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.max_header_bytes", 1<<20)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "wa_connector")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("jwt.expiry_hours", 24)
	v.SetDefault("jwt.issuer", "wa-connector")

	v.SetDefault("crm.base_url", "https://services.leadconnectorhq.com")
	v.SetDefault("crm.authorize_url", "https://marketplace.gohighlevel.com/oauth/chooselocation")
	v.SetDefault("crm.client_id", "")
	v.SetDefault("crm.redirect_uri", "http://localhost:8080/oauth/callback")
	v.SetDefault("crm.scopes", []string{"locations.readonly", "custom-menu-link.readonly", "custom-menu-link.write"})
	v.SetDefault("crm.menu_url", "http://localhost:3000/embed")
	v.SetDefault("crm.menu_title", "WhatsApp")
	v.SetDefault("crm.state_ttl", 10*time.Minute)
	v.SetDefault("crm.token_skew", time.Minute)

	v.SetDefault("evolution.base_url", "http://localhost:8081")
	v.SetDefault("evolution.webhook_url", "")

	v.SetDefault("n8n.base_url", "")
	v.SetDefault("n8n.forward_url", "")
	v.SetDefault("n8n.template_workflow_id", "")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.from", "no-reply@localhost")

	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", 2*time.Second)
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", 500*time.Millisecond)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.allowed_headers", []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"})

	v.SetDefault("worker.health_port", 8081)
	v.SetDefault("worker.instance_sync_spec", "*/30 * * * * *")
	v.SetDefault("worker.state_sweep_spec", "0 */5 * * * *")
	v.SetDefault("worker.trial_expiry_spec", "0 0 * * * *")
}

// LoadConfig reads config.yaml (optional), overlays environment variables and
// loads secrets. A local .env file is honoured when present.
func LoadConfig(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(secretsPrefix, &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &cfg, nil
}

// Validate fails fast on settings the API cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.Secrets.JWTSecret == "" {
		missing = append(missing, secretsPrefix+"_JWT_SECRET")
	}
	if c.Secrets.SSOSecret == "" {
		missing = append(missing, secretsPrefix+"_SSO_SECRET")
	}
	if c.Secrets.CRMClientSecret == "" {
		missing = append(missing, secretsPrefix+"_CRM_CLIENT_SECRET")
	}
	if c.Secrets.EvolutionAPIKey == "" {
		missing = append(missing, secretsPrefix+"_EVOLUTION_API_KEY")
	}
	if c.CRM.ClientID == "" {
		missing = append(missing, "crm.client_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
