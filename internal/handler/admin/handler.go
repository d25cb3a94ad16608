package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/wa-connector/internal/handler"
	"github.com/jwalitptl/wa-connector/internal/model"
	billingService "github.com/jwalitptl/wa-connector/internal/service/billing"
	companyService "github.com/jwalitptl/wa-connector/internal/service/company"
	instanceService "github.com/jwalitptl/wa-connector/internal/service/instance"
	subaccountService "github.com/jwalitptl/wa-connector/internal/service/subaccount"
	apperrors "github.com/jwalitptl/wa-connector/pkg/errors"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Handler struct {
	companies   companyService.CompanyServicer
	subaccounts subaccountService.SubaccountServicer
	instances   instanceService.InstanceServicer
	billing     billingService.BillingServicer
}

func NewHandler(
	companies companyService.CompanyServicer,
	subaccounts subaccountService.SubaccountServicer,
	instances instanceService.InstanceServicer,
	billing billingService.BillingServicer,
) *Handler {
	return &Handler{
		companies:   companies,
		subaccounts: subaccounts,
		instances:   instances,
		billing:     billing,
	}
}

// RegisterRoutes mounts the admin surface. r must already require an admin session.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	companies := r.Group("/companies")
	{
		companies.GET("", h.ListCompanies)
		companies.POST("", h.CreateCompany)
		companies.PATCH("/:id", h.UpdateCompany)
	}

	subaccounts := r.Group("/subaccounts")
	{
		subaccounts.GET("", h.ListSubaccounts)
		subaccounts.POST("/placeholder", h.CreatePlaceholder)
		subaccounts.PATCH("/:id", h.UpdateSubaccount)
	}

	r.GET("/instances", h.ListInstances)

	invoices := r.Group("/invoices")
	{
		invoices.GET("", h.ListInvoices)
		invoices.POST("/:id/status", h.SetInvoiceStatus)
	}

	r.POST("/demo", h.SeedDemo)
	r.DELETE("/demo", h.CleanupDemo)
}

func (h *Handler) ListCompanies(c *gin.Context) {
	companies, err := h.companies.List(c.Request.Context())
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, companies)
}

func (h *Handler) CreateCompany(c *gin.Context) {
	var req model.CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	company, err := h.companies.Create(c.Request.Context(), &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithCreated(c, company)
}

func (h *Handler) UpdateCompany(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	company, err := h.companies.Update(c.Request.Context(), id, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, company)
}

// ListSubaccounts includes uninstalled rows. ?company_id= narrows the list.
func (h *Handler) ListSubaccounts(c *gin.Context) {
	var companyID *uuid.UUID
	if raw := c.Query("company_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			handler.Fail(c, apperrors.NewValidation([]apperrors.FieldError{{Field: "company_id", Message: "must be a valid uuid"}}))
			return
		}
		companyID = &id
	}

	subs, err := h.subaccounts.ListAll(c.Request.Context(), companyID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, subs)
}

// CreatePlaceholder is the sell flow: a pending subaccount plus a single-use
// install link for the buyer.
func (h *Handler) CreatePlaceholder(c *gin.Context) {
	var req model.CreatePlaceholderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	var createdBy *uuid.UUID
	if sub, err := handler.Session(c).GetSubject(); err == nil {
		if id, err := uuid.Parse(sub); err == nil {
			createdBy = &id
		}
	}

	resp, err := h.subaccounts.CreatePlaceholder(c.Request.Context(), &req, createdBy)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithCreated(c, resp)
}

func (h *Handler) UpdateSubaccount(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateSubaccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	sub, err := h.subaccounts.Update(c.Request.Context(), id, &req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, sub)
}

func (h *Handler) ListInstances(c *gin.Context) {
	instances, err := h.instances.ListAll(c.Request.Context())
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, instances)
}

type pageQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=200"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

func (h *Handler) ListInvoices(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handler.BindFailed(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}

	invoices, err := h.billing.ListAllInvoices(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, invoices)
}

// SetInvoiceStatus settles a pending invoice by hand.
func (h *Handler) SetInvoiceStatus(c *gin.Context) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return
	}

	var req model.InvoiceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.BindFailed(c, err)
		return
	}

	invoice, err := h.billing.MarkInvoice(c.Request.Context(), id, model.InvoiceStatus(req.Status), req.ExternalID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, invoice)
}

func (h *Handler) SeedDemo(c *gin.Context) {
	sub, err := h.subaccounts.SeedDemo(c.Request.Context())
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithCreated(c, sub)
}

// CleanupDemo is best effort and reports how many subaccounts it removed.
func (h *Handler) CleanupDemo(c *gin.Context) {
	removed, err := h.subaccounts.CleanupDemo(c.Request.Context())
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"removed": removed})
}
