package billing

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/wa-connector/internal/handler"
	"github.com/jwalitptl/wa-connector/internal/model"
	billingService "github.com/jwalitptl/wa-connector/internal/service/billing"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
)

type Handler struct {
	service billingService.BillingServicer
}

func NewHandler(service billingService.BillingServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sub := r.Group("/subaccounts/:id")
	{
		sub.GET("/subscription", h.GetSubscription)
		sub.POST("/subscription/plan", h.ChangePlan)
		sub.GET("/invoices", h.ListInvoices)
	}
}

func (h *Handler) GetSubscription(c *gin.Context) {
	subaccountID, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, subaccountID) {
		return
	}

	subscription, err := h.service.GetSubscription(c.Request.Context(), subaccountID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, subscription)
}

// ChangePlan switches the plan and opens a pending invoice for it.
func (h *Handler) ChangePlan(c *gin.Context) {
	subaccountID, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, subaccountID) {
		return
	}

	var req model.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	subscription, invoice, err := h.service.ChangePlan(c.Request.Context(), subaccountID, model.Plan(req.Plan), req.ExtraSlots)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{
		"subscription": subscription,
		"invoice":      invoice,
	})
}

func (h *Handler) ListInvoices(c *gin.Context) {
	subaccountID, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, subaccountID) {
		return
	}

	invoices, err := h.service.ListInvoices(c.Request.Context(), subaccountID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, invoices)
}
