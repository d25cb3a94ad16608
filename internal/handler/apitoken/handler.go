package apitoken

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/wa-connector/internal/handler"
	"github.com/jwalitptl/wa-connector/internal/model"
	apitokenService "github.com/jwalitptl/wa-connector/internal/service/apitoken"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
)

type Handler struct {
	service apitokenService.ApiTokenServicer
}

func NewHandler(service apitokenService.ApiTokenServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	tokens := r.Group("/subaccounts/:id/tokens")
	{
		tokens.POST("", h.CreateToken)
		tokens.GET("", h.ListTokens)
		tokens.DELETE("/:tokenId", h.RevokeToken)
	}
}

// CreateToken is the only response that ever contains the plaintext token.
func (h *Handler) CreateToken(c *gin.Context) {
	subaccountID, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, subaccountID) {
		return
	}

	var req model.CreateApiTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	created, err := h.service.Create(c.Request.Context(), subaccountID, req.Name)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithCreated(c, created)
}

func (h *Handler) ListTokens(c *gin.Context) {
	subaccountID, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, subaccountID) {
		return
	}

	tokens, err := h.service.List(c.Request.Context(), subaccountID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tokens)
}

func (h *Handler) RevokeToken(c *gin.Context) {
	subaccountID, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, subaccountID) {
		return
	}
	tokenID, ok := handler.ParseID(c, "tokenId")
	if !ok {
		return
	}

	if err := h.service.Revoke(c.Request.Context(), subaccountID, tokenID); err != nil {
		handler.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
