package realtime

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/wa-connector/internal/middleware"
	"github.com/jwalitptl/wa-connector/internal/realtime"
	apperrors "github.com/jwalitptl/wa-connector/pkg/errors"
	"github.com/jwalitptl/wa-connector/pkg/httputil"
)

var errNoSession = errors.New("missing session")

type Handler struct {
	hub http.Handler
}

// NewHandler mounts the websocket hub; hub upgrades the connection itself.
func NewHandler(hub http.Handler) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes expects r to run AuthenticateQuery.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws", h.Serve)
}

func (h *Handler) Serve(c *gin.Context) {
	claims, ok := middleware.Claims(c)
	if !ok {
		httputil.AbortWithError(c, apperrors.Unauthorized(errNoSession))
		return
	}
	h.hub.ServeHTTP(c.Writer, c.Request.WithContext(realtime.WithClaims(c.Request.Context(), claims)))
}
