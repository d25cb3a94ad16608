package instance

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/wa-connector/internal/handler"
	"github.com/jwalitptl/wa-connector/internal/middleware"
	"github.com/jwalitptl/wa-connector/internal/model"
	instanceService "github.com/jwalitptl/wa-connector/internal/service/instance"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
)

type Handler struct {
	service instanceService.InstanceServicer
}

func NewHandler(service instanceService.InstanceServicer) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the session routes. r must already require a session.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/subaccounts/:id/instances", h.CreateInstance)
	r.GET("/subaccounts/:id/instances", h.ListInstances)

	instances := r.Group("/instances")
	{
		instances.GET("/:id", h.GetInstance)
		instances.POST("/:id/generate-qr", h.GenerateQR)
		instances.POST("/:id/sync", h.SyncInstance)
		instances.DELETE("/:id", h.DeleteInstance)
	}
}

// RegisterAPIRoutes mounts the API token surface. r must already require a token.
func (h *Handler) RegisterAPIRoutes(r *gin.RouterGroup) {
	instances := r.Group("/instances")
	{
		instances.GET("", h.ListTokenInstances)
		instances.GET("/:id", h.GetTokenInstance)
		instances.POST("/:id/generate-qr", h.GenerateTokenQR)
	}
}

func (h *Handler) CreateInstance(c *gin.Context) {
	subaccountID, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, subaccountID) {
		return
	}

	inst, err := h.service.Create(c.Request.Context(), subaccountID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithCreated(c, inst)
}

func (h *Handler) ListInstances(c *gin.Context) {
	subaccountID, ok := handler.ParseID(c, "id")
	if !ok || !handler.Authorize(c, subaccountID) {
		return
	}

	instances, err := h.service.List(c.Request.Context(), subaccountID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, instances)
}

// GetInstance is the endpoint the pairing screen polls. A qr_generated
// instance is checked against the provider so polling alone can converge.
func (h *Handler) GetInstance(c *gin.Context) {
	inst, ok := h.owned(c)
	if !ok {
		return
	}

	inst, err := h.service.Status(c.Request.Context(), inst.ID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, inst)
}

func (h *Handler) GenerateQR(c *gin.Context) {
	inst, ok := h.owned(c)
	if !ok {
		return
	}
	h.generate(c, inst.ID)
}

func (h *Handler) SyncInstance(c *gin.Context) {
	inst, ok := h.owned(c)
	if !ok {
		return
	}

	inst, err := h.service.Sync(c.Request.Context(), inst.ID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, inst)
}

func (h *Handler) DeleteInstance(c *gin.Context) {
	inst, ok := h.owned(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), inst.ID); err != nil {
		handler.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListTokenInstances(c *gin.Context) {
	token, _ := middleware.APITokenFrom(c)

	instances, err := h.service.List(c.Request.Context(), token.SubaccountID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, instances)
}

func (h *Handler) GetTokenInstance(c *gin.Context) {
	inst, ok := h.tokenOwned(c)
	if !ok {
		return
	}

	inst, err := h.service.Status(c.Request.Context(), inst.ID)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, inst)
}

func (h *Handler) GenerateTokenQR(c *gin.Context) {
	inst, ok := h.tokenOwned(c)
	if !ok {
		return
	}
	h.generate(c, inst.ID)
}

func (h *Handler) generate(c *gin.Context, id uuid.UUID) {
	inst, err := h.service.GenerateQR(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	qr := ""
	if inst.QRCode != nil {
		qr = *inst.QRCode
	}
	httputil.RespondWithSuccess(c, model.QRCodeResponse{QRCode: qr})
}

// owned loads the instance and checks the session may act on its subaccount.
func (h *Handler) owned(c *gin.Context) (*model.WhatsappInstance, bool) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return nil, false
	}

	inst, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return nil, false
	}
	if !handler.Authorize(c, inst.SubaccountID) {
		return nil, false
	}
	return inst, true
}

// tokenOwned hides instances of other subaccounts behind a 404.
func (h *Handler) tokenOwned(c *gin.Context) (*model.WhatsappInstance, bool) {
	id, ok := handler.ParseID(c, "id")
	if !ok {
		return nil, false
	}
	token, _ := middleware.APITokenFrom(c)

	inst, err := h.service.Get(c.Request.Context(), id)
	if err == nil && token != nil && inst.SubaccountID != token.SubaccountID {
		err = instanceService.ErrInstanceNotFound
	}
	if err != nil {
		handler.Fail(c, err)
		return nil, false
	}
	return inst, true
}
