package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/wa-connector/internal/model"
	apperrors "github.com/jwalitptl/wa-connector/pkg/errors"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
)

const (
	ContextClaims   = "session_claims"
	ContextAPIToken = "api_token"

	// QueryToken carries the session JWT for browser websockets, which
	// cannot set headers on the upgrade request.
	QueryToken = "token"
)

var (
	errMissingBearer = errors.New("missing bearer token")
	errNotAdmin      = errors.New("admin role required")
)

type SessionValidator interface {
	Validate(ctx context.Context, token string) (*model.SessionClaims, error)
}

type TokenAuthenticator interface {
	Authenticate(ctx context.Context, bearer string) (*model.ApiToken, error)
}

type AuthMiddleware struct {
	sessions SessionValidator
	tokens   TokenAuthenticator
}

func NewAuthMiddleware(sessions SessionValidator, tokens TokenAuthenticator) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		tokens:   tokens,
	}
}

// Authenticate requires a dashboard session JWT and stores its claims.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c)
		m.session(c, raw, ok)
	}
}

// AuthenticateQuery is Authenticate that also takes the JWT from the token
// query parameter when no Authorization header is sent.
func (m *AuthMiddleware) AuthenticateQuery() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c)
		if !ok {
			raw = c.Query(QueryToken)
			ok = raw != ""
		}
		m.session(c, raw, ok)
	}
}

func (m *AuthMiddleware) session(c *gin.Context, raw string, ok bool) {
	if !ok {
		httputil.AbortWithError(c, apperrors.Unauthorized(errMissingBearer))
		return
	}

	claims, err := m.sessions.Validate(c.Request.Context(), raw)
	if err != nil {
		httputil.AbortWithError(c, apperrors.Unauthorized(err))
		return
	}

	c.Set(ContextClaims, claims)
	c.Next()
}

// RequireAdmin must run after Authenticate.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			httputil.AbortWithError(c, apperrors.Unauthorized(errMissingBearer))
			return
		}
		if !claims.Role.IsAdmin() {
			httputil.AbortWithError(c, apperrors.Forbidden(errNotAdmin))
			return
		}
		c.Next()
	}
}

// APIToken guards the /api/v1 surface with a subaccount API token.
func (m *AuthMiddleware) APIToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c)
		if !ok {
			httputil.AbortWithError(c, apperrors.Unauthorized(errMissingBearer))
			return
		}

		token, err := m.tokens.Authenticate(c.Request.Context(), raw)
		if err != nil {
			httputil.AbortWithError(c, apperrors.Unauthorized(err))
			return
		}

		c.Set(ContextAPIToken, token)
		c.Next()
	}
}

// Claims returns the session claims set by Authenticate.
func Claims(c *gin.Context) (*model.SessionClaims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*model.SessionClaims)
	return claims, ok
}

// APITokenFrom returns the token set by APIToken.
func APITokenFrom(c *gin.Context) (*model.ApiToken, bool) {
	v, ok := c.Get(ContextAPIToken)
	if !ok {
		return nil, false
	}
	token, ok := v.(*model.ApiToken)
	return token, ok
}

func bearer(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
