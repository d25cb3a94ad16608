package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	"github.com/jwalitptl/wa-connector/internal/model"
	"github.com/jwalitptl/wa-connector/pkg/logger"
)

type stubSessions struct{}

func (stubSessions) Validate(_ context.Context, token string) (*model.SessionClaims, error) {
	switch token {
	case "user-session":
		id := uuid.New()
		return &model.SessionClaims{Role: model.RoleUser, SubaccountID: &id}, nil
	case "admin-session":
		return &model.SessionClaims{Role: model.RoleSystemAdmin}, nil
	}
	return nil, errors.New("invalid session")
}

type stubTokens struct{}

func (stubTokens) Authenticate(context.Context, string) (*model.ApiToken, error) {
	return nil, errors.New("invalid api token")
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Nop()
	auth := middleware.NewAuthMiddleware(stubSessions{}, stubTokens{})
	handlers := Handlers{
		Health:     healthHandler.NewHandler(nil),
		Metrics:    promHandler.New("test", prometheus.NewRegistry()),
		OAuth:      oauthHandler.NewHandler(nil),
		Auth:       authHandler.NewHandler(nil, nil),
		Webhook:    webhookHandler.NewHandler(nil, log),
		Realtime:   realtimeHandler.NewHandler(http.NotFoundHandler()),
		Subaccount: subaccountHandler.NewHandler(nil),
		Instance:   instanceHandler.NewHandler(nil),
		Billing:    billingHandler.NewHandler(nil),
		ApiToken:   apitokenHandler.NewHandler(nil),
		Admin:      adminHandler.NewHandler(nil, nil, nil, nil),
	}

	r := NewRouter(auth, handlers, RouterConfig{
		CORSConfig: middleware.DefaultCORSConfig(),
		Logger:     log,
	})
	r.Setup()
	return r.Engine()
}

func TestRoutesRegistered(t *testing.T) {
	engine := newTestRouter(t)

	routes := map[string]bool{}
	for _, ri := range engine.Routes() {
		routes[ri.Method+" "+ri.Path] = true
	}

	for _, want := range []string{
		"GET /health/live",
		"GET /health/ready",
		"GET /metrics",
		"GET /ws",
		"GET /install/:token",
		"GET /oauth/install",
		"GET /oauth/callback",
		"POST /oauth/callback",
		"POST /api/sso/decrypt",
		"GET /api/subaccounts/verify-token/:token",
		"POST /api/webhook/message",
		"POST /api/webhook/evolution",
		"POST /api/webhook/billing",
		"POST /api/auth/login",
		"POST /api/auth/sso",
		"GET /api/subaccounts",
		"DELETE /api/subaccounts/:id",
		"POST /api/subaccounts/:id/instances",
		"POST /api/instances/:id/generate-qr",
		"GET /api/subaccounts/:id/subscription",
		"POST /api/subaccounts/:id/tokens",
		"DELETE /api/subaccounts/:id/tokens/:tokenId",
		"POST /api/admin/subaccounts/placeholder",
		"POST /api/admin/invoices/:id/status",
		"DELETE /api/admin/demo",
		"GET /api/v1/instances",
		"POST /api/v1/instances/:id/generate-qr",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestAuthBoundaries(t *testing.T) {
	engine := newTestRouter(t)

	cases := []struct {
		name   string
		method string
		path   string
		bearer string
		want   int
	}{
		{"api token required", http.MethodGet, "/api/v1/instances", "", http.StatusUnauthorized},
		{"session is not an api token", http.MethodGet, "/api/v1/instances", "admin-session", http.StatusUnauthorized},
		{"session required", http.MethodGet, "/api/subaccounts", "", http.StatusUnauthorized},
		{"admin required", http.MethodGet, "/api/admin/companies", "user-session", http.StatusForbidden},
		{"other subaccount", http.MethodGet, "/api/subaccounts/" + uuid.NewString(), "user-session", http.StatusForbidden},
		{"bad id", http.MethodGet, "/api/subaccounts/not-a-uuid", "user-session", http.StatusBadRequest},
		{"websocket requires a session", http.MethodGet, "/ws", "", http.StatusUnauthorized},
		{"websocket rejects api tokens", http.MethodGet, "/ws?token=wak_abc_def", "", http.StatusUnauthorized},
		{"websocket takes the session from the query", http.MethodGet, "/ws?token=user-session", "", http.StatusNotFound},
		{"liveness is public", http.MethodGet, "/health/live", "", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tc.bearer)
			}
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}
}

func TestMessageWebhookAlways200(t *testing.T) {
	engine := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/message", strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"queued":false`)
}
