package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/internal/model"
	apperrors "github.com/jwalitptl/wa-connector/pkg/errors"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
	"github.com/jwalitptl/wa-connector/pkg/logger"
	pkgvalidator "github.com/jwalitptl/wa-connector/pkg/validator"
)

type fakeSessions struct {
	claims map[string]*model.SessionClaims
}

func (f *fakeSessions) Validate(_ context.Context, token string) (*model.SessionClaims, error) {
	if c, ok := f.claims[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

type fakeTokens struct {
	valid string
}

func (f *fakeTokens) Authenticate(_ context.Context, bearer string) (*model.ApiToken, error) {
	if bearer == f.valid {
		return &model.ApiToken{ID: uuid.New(), SubaccountID: uuid.New()}, nil
	}
	return nil, errors.New("invalid api token")
}

type bindTarget struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Plan  string `json:"plan" binding:"omitempty,plan"`
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	RegisterValidators()

	log := logger.Nop()
	subID := uuid.New()
	auth := NewAuthMiddleware(
		&fakeSessions{claims: map[string]*model.SessionClaims{
			"user":  {Role: model.RoleUser, SubaccountID: &subID},
			"admin": {Role: model.RoleAdmin},
		}},
		&fakeTokens{valid: "wak_good"},
	)

	r := gin.New()
	r.Use(RequestID(log), Recovery(log), ErrorHandler(log))

	r.GET("/api/v1/instances", auth.APIToken(), func(c *gin.Context) {
		httputil.RespondWithSuccess(c, []string{})
	})

	admin := r.Group("/api/admin", auth.Authenticate(), auth.RequireAdmin())
	admin.GET("/companies", func(c *gin.Context) {
		httputil.RespondWithSuccess(c, []string{})
	})

	r.POST("/bind", func(c *gin.Context) {
		var req bindTarget
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(pkgvalidator.Bind(err))
			return
		}
		httputil.RespondWithSuccess(c, req)
	})
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFound("instance", errors.New("sql: no rows")))
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("db password=hunter2 refused"))
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body, bearer string) (*httptest.ResponseRecorder, httputil.Response) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp httputil.Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestAPIToken(t *testing.T) {
	r := setupRouter()

	t.Run("missing bearer", func(t *testing.T) {
		w, resp := do(t, r, http.MethodGet, "/api/v1/instances", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, httputil.StatusError, resp.Status)
		assert.Equal(t, "unauthorized", resp.Message)
	})

	t.Run("wrong token", func(t *testing.T) {
		w, _ := do(t, r, http.MethodGet, "/api/v1/instances", "", "wak_bad")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("session jwt is not an api token", func(t *testing.T) {
		w, _ := do(t, r, http.MethodGet, "/api/v1/instances", "", "admin")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAPITokenAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := NewAuthMiddleware(&fakeSessions{}, &fakeTokens{valid: "wak_good"})

	r := gin.New()
	r.GET("/api/v1/instances", auth.APIToken(), func(c *gin.Context) {
		tok, ok := APITokenFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		httputil.RespondWithSuccess(c, tok.SubaccountID)
	})

	w, resp := do(t, r, http.MethodGet, "/api/v1/instances", "", "wak_good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, httputil.StatusSuccess, resp.Status)
}

func TestRequireAdmin(t *testing.T) {
	r := setupRouter()

	w, _ := do(t, r, http.MethodGet, "/api/admin/companies", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, resp := do(t, r, http.MethodGet, "/api/admin/companies", "", "user")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", resp.Message)

	w, _ = do(t, r, http.MethodGet, "/api/admin/companies", "", "admin")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidationErrors(t *testing.T) {
	r := setupRouter()

	w, resp := do(t, r, http.MethodPost, "/bind", `{"email":"not-an-email","plan":"trial"}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation failed", resp.Message)

	fields := map[string]string{}
	for _, fe := range resp.Errors {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "is required", fields["name"])
	assert.Equal(t, "must be a valid email", fields["email"])
	assert.Contains(t, fields, "plan")
}

func TestValidationMalformedJSON(t *testing.T) {
	r := setupRouter()

	w, resp := do(t, r, http.MethodPost, "/bind", `{"name":`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, httputil.StatusError, resp.Status)
}

func TestValidationPasses(t *testing.T) {
	r := setupRouter()

	w, resp := do(t, r, http.MethodPost, "/bind", `{"name":"Acme","email":"ops@acme.test","plan":"pro"}`, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, httputil.StatusSuccess, resp.Status)
}

func TestErrorHandler(t *testing.T) {
	r := setupRouter()

	w, resp := do(t, r, http.MethodGet, "/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "instance not found", resp.Message)

	w, resp = do(t, r, http.MethodGet, "/boom", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", resp.Message)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestRecovery(t *testing.T) {
	r := setupRouter()

	w, resp := do(t, r, http.MethodGet, "/panic", "", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, httputil.StatusError, resp.Status)
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))
}

func TestRequestIDPropagates(t *testing.T) {
	r := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set(HeaderXRequestID, "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(HeaderXRequestID))
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.0001, Burst: 2})

	r := gin.New()
	r.GET("/", rl.RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "limits are per client ip")
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultCORSConfig()
	cfg.AllowOrigins = []string{"https://app.example.com"}

	r := gin.New()
	r.Use(CORS(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
