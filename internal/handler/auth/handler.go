package auth

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/wa-connector/internal/handler"
	"github.com/jwalitptl/wa-connector/internal/model"
	authService "github.com/jwalitptl/wa-connector/internal/service/auth"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
	"github.com/jwalitptl/wa-connector/pkg/security"
)

// SSODecrypter opens the encrypted context the CRM hands the embedded app.
type SSODecrypter interface {
	DecryptSSO(ctx context.Context, ssoKey string) (*security.SSOPayload, error)
}

type Handler struct {
	service authService.AuthServicer
	sso     SSODecrypter
}

func NewHandler(service authService.AuthServicer, sso SSODecrypter) *Handler {
	return &Handler{service: service, sso: sso}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/sso", h.SSO)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	resp, err := h.service.Login(c.Request.Context(), &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, resp)
}

// SSO exchanges the CRM's encrypted user context for a session bound to the
// location's subaccount.
func (h *Handler) SSO(c *gin.Context) {
	var req model.SSORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	payload, err := h.sso.DecryptSSO(c.Request.Context(), req.SSOKey)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	resp, err := h.service.IssueForSSO(c.Request.Context(), payload)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, resp)
}
