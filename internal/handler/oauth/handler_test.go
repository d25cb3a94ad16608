package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/internal/middleware"
	"github.com/jwalitptl/wa-connector/internal/model"
	oauthService "github.com/jwalitptl/wa-connector/internal/service/oauth"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
	"github.com/jwalitptl/wa-connector/pkg/logger"
	"github.com/jwalitptl/wa-connector/pkg/security"
)

type fakeOAuth struct {
	oauthService.OAuthServicer
	codec     *security.SSOCodec
	lastToken string
	callbacks map[string]bool
}

func (f *fakeOAuth) BeginInstall(_ context.Context, token string) (string, error) {
	f.lastToken = token
	if token == "spent" {
		return "", fmt.Errorf("%w: token already used", oauthService.ErrInvalidInstallToken)
	}
	return "https://crm.example.com/oauth/chooselocation?state=abc", nil
}

func (f *fakeOAuth) HandleCallback(_ context.Context, code, state string) (*model.InstallResult, error) {
	if f.callbacks[state] {
		return nil, oauthService.ErrInvalidState
	}
	f.callbacks[state] = true
	return &model.InstallResult{Subaccount: &model.Subaccount{LocationID: &code}}, nil
}

func (f *fakeOAuth) DecryptSSO(_ context.Context, key string) (*security.SSOPayload, error) {
	return f.codec.Decrypt(key)
}

func setup() (*gin.Engine, *fakeOAuth) {
	gin.SetMode(gin.TestMode)
	middleware.RegisterValidators()

	svc := &fakeOAuth{codec: security.NewSSOCodec("sso-secret"), callbacks: map[string]bool{}}
	r := gin.New()
	r.Use(middleware.ErrorHandler(logger.Nop()))
	NewHandler(svc).RegisterRoutes(r.Group(""))
	return r, svc
}

func TestInstallRedirects(t *testing.T) {
	r, svc := setup()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/install/tok123", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "https://crm.example.com/"))
	assert.Equal(t, "tok123", svc.lastToken)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/install", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Empty(t, svc.lastToken)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/install/spent", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallbackReplayRejected(t *testing.T) {
	r, _ := setup()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=LOC_1&state=s1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	form := url.Values{"code": {"LOC_1"}, "state": {"s1"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCallbackMissingState(t *testing.T) {
	r, _ := setup()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"state"`)
}

func TestDecryptSSO(t *testing.T) {
	r, svc := setup()

	key, err := svc.codec.Encrypt(&security.SSOPayload{LocationID: "LOC_1", UserID: "u1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/sso/decrypt", strings.NewReader(`{"ssoKey":"`+key+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"locationId":"LOC_1"`)

	req = httptest.NewRequest(http.MethodPost, "/api/sso/decrypt", strings.NewReader(`{"ssoKey":"garbage"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Hint, "reinstall")
}
