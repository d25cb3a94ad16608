package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/internal/handler"
	"github.com/jwalitptl/wa-connector/internal/model"
	webhookService "github.com/jwalitptl/wa-connector/internal/service/webhook"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
)

const (
	HeaderSignature = "X-Signature"

	// Evolution events can carry a base64 QR code.
	maxWebhookBody = 4 << 20
)

type Handler struct {
	service webhookService.WebhookServicer
	logger  zerolog.Logger
}

func NewHandler(service webhookService.WebhookServicer, logger zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger.With().Str("component", "webhook_handler").Logger(),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	webhooks := r.Group("/webhook")
	{
		webhooks.POST("/message", h.Message)
		webhooks.POST("/evolution", h.Evolution)
		webhooks.POST("/billing", h.Billing)
	}
}

// Message always acknowledges with 200. The sender does not retry and a
// rejected message would only be lost sooner.
func (h *Handler) Message(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)

	var msg model.MessageWebhook
	if err := c.ShouldBindJSON(&msg); err != nil {
		h.logger.Warn().Err(err).Msg("invalid message webhook body")
		httputil.RespondWithSuccess(c, gin.H{"queued": false})
		return
	}

	if err := h.service.EnqueueMessage(c.Request.Context(), &msg); err != nil {
		h.logger.Error().Err(err).
			Str("location_id", msg.LocationID).
			Str("instance", msg.InstanceName).
			Msg("failed to enqueue message")
		httputil.RespondWithSuccess(c, gin.H{"queued": false})
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"queued": true})
}

// Evolution ingests provider events and always answers 200.
func (h *Handler) Evolution(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)

	var ev model.EvolutionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		h.logger.Warn().Err(err).Msg("invalid evolution webhook body")
		httputil.RespondWithSuccess(c, nil)
		return
	}

	if err := h.service.HandleEvolution(c.Request.Context(), &ev); err != nil {
		h.logger.Warn().Err(err).
			Str("event", ev.Event).
			Str("instance", ev.Instance).
			Msg("evolution event not applied")
	}
	httputil.RespondWithSuccess(c, nil)
}

// Billing verifies the HMAC over the raw body before decoding it.
func (h *Handler) Billing(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		handler.BindFailed(c, err)
		return
	}

	if err := h.service.VerifyBillingSignature(body, c.GetHeader(HeaderSignature)); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.NewErrorResponse("unauthorized"))
		return
	}

	var ev model.BillingWebhook
	if err := binding.JSON.BindBody(body, &ev); err != nil {
		handler.BindFailed(c, err)
		return
	}

	if err := h.service.HandleBilling(c.Request.Context(), &ev); err != nil {
		handler.Fail(c, err)
		return
	}
	httputil.RespondWithSuccess(c, nil)
}
