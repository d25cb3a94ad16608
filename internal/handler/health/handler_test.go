package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r.Group(""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestReadiness(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	w, body := serve(NewHandler(map[string]Pinger{"database": up, "redis": up}), "/health/ready")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "UP", body["status"])

	w, body = serve(NewHandler(map[string]Pinger{"database": up, "redis": down}), "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "DOWN", body["status"])
	assert.Equal(t, map[string]interface{}{"database": "UP", "redis": "DOWN"}, body["checks"])
}

func TestLiveness(t *testing.T) {
	down := PingFunc(func(context.Context) error { return errors.New("down") })
	w, _ := serve(NewHandler(map[string]Pinger{"database": down}), "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
}
