package oauth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/wa-connector/internal/handler"
	"github.com/jwalitptl/wa-connector/internal/model"
	oauthService "github.com/jwalitptl/wa-connector/internal/service/oauth"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
)

type Handler struct {
	service oauthService.OAuthServicer
}

func NewHandler(service oauthService.OAuthServicer) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the public onboarding routes on the engine root.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/install/:token", h.InstallWithToken)

	oauth := r.Group("/oauth")
	{
		oauth.GET("/install", h.Install)
		oauth.GET("/callback", h.Callback)
		oauth.POST("/callback", h.Callback)
	}

	r.POST("/api/sso/decrypt", h.DecryptSSO)
}

func (h *Handler) Install(c *gin.Context) {
	h.redirect(c, c.Query("token"))
}

func (h *Handler) InstallWithToken(c *gin.Context) {
	h.redirect(c, c.Param("token"))
}

func (h *Handler) redirect(c *gin.Context, token string) {
	authorizeURL, err := h.service.BeginInstall(c.Request.Context(), token)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.Redirect(http.StatusFound, authorizeURL)
}

// Callback accepts the code and state as query parameters (GET redirect) or
// as a form or JSON body (POST).
func (h *Handler) Callback(c *gin.Context) {
	var req model.OAuthCallbackRequest
	if err := c.ShouldBind(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	result, err := h.service.HandleCallback(c.Request.Context(), req.Code, req.State)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, result)
}

func (h *Handler) DecryptSSO(c *gin.Context) {
	var req model.SSORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	payload, err := h.service.DecryptSSO(c.Request.Context(), req.SSOKey)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, payload)
}
