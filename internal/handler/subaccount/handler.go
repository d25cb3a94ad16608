package subaccount

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/wa-connector/internal/handler"
	"github.com/jwalitptl/wa-connector/internal/model"
	subaccountService "github.com/jwalitptl/wa-connector/internal/service/subaccount"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
)

type Handler struct {
	service subaccountService.SubaccountServicer
}

func NewHandler(service subaccountService.SubaccountServicer) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes mounts the unauthenticated install-token check.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/subaccounts/verify-token/:token", h.VerifyToken)
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	subaccounts := r.Group("/subaccounts")
	{
		subaccounts.GET("", h.ListSubaccounts)
		subaccounts.GET("/:id", h.GetSubaccount)
		subaccounts.DELETE("/:id", h.DeleteSubaccount)
	}
}

// ListSubaccounts returns every active subaccount to admins and only the
// session's own subaccount to everyone else.
func (h *Handler) ListSubaccounts(c *gin.Context) {
	claims := handler.Session(c)

	if !claims.Role.IsAdmin() {
		if claims.SubaccountID == nil {
			httputil.RespondWithSuccess(c, []*model.Subaccount{})
			return
		}
		sub, err := h.service.Get(c.Request.Context(), *claims.SubaccountID)
		if err != nil {
			handler.Fail(c, err)
			return
		}
		subs := []*model.Subaccount{}
		if sub.IsActive() {
			subs = append(subs, sub)
		}
		httputil.RespondWithSuccess(c, subs)
		return
	}

	subs, err := h.service.ListActive(c.Request.Context(), nil)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, subs)
}

func (h *Handler) GetSubaccount(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, id) {
		return
	}

	sub, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sub)
}

// DeleteSubaccount is a soft delete: the row stays for invoices and audit.
func (h *Handler) DeleteSubaccount(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, id) {
		return
	}

	if err := h.service.Uninstall(c.Request.Context(), id); err != nil {
		handler.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// VerifyToken answers with the bare {valid, subaccount?, error?} object the
// install page expects, not the usual envelope.
func (h *Handler) VerifyToken(c *gin.Context) {
	resp, err := h.service.VerifyInstallToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
