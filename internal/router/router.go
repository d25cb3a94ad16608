package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/wa-connector/internal/middleware"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type PublicHandler interface {
	RegisterPublicRoutes(*gin.RouterGroup)
}

type APIHandler interface {
	RegisterAPIRoutes(*gin.RouterGroup)
}

type MetricsHandler interface {
	Middleware() gin.HandlerFunc
	Handler() gin.HandlerFunc
}

// Handlers groups every route owner the router mounts.
type Handlers struct {
	Health     Handler
	Metrics    MetricsHandler
	OAuth      Handler
	Auth       Handler
	Webhook    Handler
	Realtime   Handler
	Subaccount interface {
		Handler
		PublicHandler
	}
	Instance interface {
		Handler
		APIHandler
	}
	Billing  Handler
	ApiToken Handler
	Admin    Handler
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	CORSConfig       middleware.CORSConfig
	Logger           zerolog.Logger
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	handlers Handlers
	limiter  []gin.HandlerFunc
}

func NewRouter(auth *middleware.AuthMiddleware, handlers Handlers, config RouterConfig) *Router {
	engine := gin.New()
	middleware.RegisterValidators()

	r := &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
	}

	timeout := middleware.DefaultTimeoutConfig()
	if config.RequestTimeout > 0 {
		timeout.Duration = config.RequestTimeout
	}
	size := middleware.DefaultSizeLimitConfig()
	if config.MaxBodyBytes > 0 {
		size.MaxBodySize = config.MaxBodyBytes
	}

	engine.Use(
		middleware.RequestID(config.Logger),
		middleware.Logger(config.Logger),
		middleware.Recovery(config.Logger),
	)
	if handlers.Metrics != nil {
		engine.Use(handlers.Metrics.Middleware())
	}
	engine.Use(
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(size),
		middleware.Timeout(timeout),
		middleware.ErrorHandler(config.Logger),
	)

	if config.RateLimitEnabled {
		rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		r.limiter = []gin.HandlerFunc{rl.RateLimit()}
	}

	return r
}

// Setup mounts every route. Webhooks and health are never rate limited:
// their callers are infrastructure, not users.
func (r *Router) Setup() {
	root := r.engine.Group("")
	r.handlers.Health.RegisterRoutes(root)
	if r.handlers.Metrics != nil {
		r.engine.GET("/metrics", r.handlers.Metrics.Handler())
	}

	// Dashboards open one long-lived socket, so it skips the limiter too.
	realtime := r.engine.Group("", r.auth.AuthenticateQuery())
	r.handlers.Realtime.RegisterRoutes(realtime)

	webhooks := r.engine.Group("/api")
	r.handlers.Webhook.RegisterRoutes(webhooks)

	// Public onboarding.
	public := r.engine.Group("", r.limiter...)
	r.handlers.OAuth.RegisterRoutes(public)

	publicAPI := r.engine.Group("/api", r.limiter...)
	r.handlers.Auth.RegisterRoutes(publicAPI)
	r.handlers.Subaccount.RegisterPublicRoutes(publicAPI)

	// Dashboard session.
	session := r.engine.Group("/api", r.withLimiter(r.auth.Authenticate(), middleware.NoStore())...)
	r.handlers.Subaccount.RegisterRoutes(session)
	r.handlers.Instance.RegisterRoutes(session)
	r.handlers.Billing.RegisterRoutes(session)
	r.handlers.ApiToken.RegisterRoutes(session)

	admin := r.engine.Group("/api/admin", r.withLimiter(r.auth.Authenticate(), r.auth.RequireAdmin(), middleware.NoStore())...)
	r.handlers.Admin.RegisterRoutes(admin)

	// Programmatic access with subaccount API tokens.
	v1 := r.engine.Group("/api/v1", r.withLimiter(r.auth.APIToken(), middleware.NoStore())...)
	r.handlers.Instance.RegisterAPIRoutes(v1)
}

func (r *Router) withLimiter(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(r.limiter)+len(handlers))
	out = append(out, r.limiter...)
	return append(out, handlers...)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
