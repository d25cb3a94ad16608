package instance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/internal/middleware"
	"github.com/jwalitptl/wa-connector/internal/model"
	instanceService "github.com/jwalitptl/wa-connector/internal/service/instance"
	"github.com/jwalitptl/wa-connector/pkg/logger"
)

type fakeInstances struct {
	instanceService.InstanceServicer
	byID     map[uuid.UUID]*model.WhatsappInstance
	qrErr    error
	statuses int
}

func (f *fakeInstances) Get(_ context.Context, id uuid.UUID) (*model.WhatsappInstance, error) {
	if inst, ok := f.byID[id]; ok {
		return inst, nil
	}
	return nil, instanceService.ErrInstanceNotFound
}

func (f *fakeInstances) Status(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error) {
	f.statuses++
	return f.Get(ctx, id)
}

func (f *fakeInstances) GenerateQR(ctx context.Context, id uuid.UUID) (*model.WhatsappInstance, error) {
	if f.qrErr != nil {
		return nil, f.qrErr
	}
	inst, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	code := "data:image/png;base64,QR"
	inst.QRCode = &code
	inst.Status = model.InstanceStatusQRGenerated
	return inst, nil
}

func (f *fakeInstances) List(_ context.Context, subaccountID uuid.UUID) ([]*model.WhatsappInstance, error) {
	var out []*model.WhatsappInstance
	for _, inst := range f.byID {
		if inst.SubaccountID == subaccountID {
			out = append(out, inst)
		}
	}
	return out, nil
}

type tokenAuth struct {
	subaccountID uuid.UUID
}

func (a tokenAuth) Authenticate(context.Context, string) (*model.ApiToken, error) {
	return &model.ApiToken{ID: uuid.New(), SubaccountID: a.subaccountID}, nil
}

type sessionAuth struct {
	claims *model.SessionClaims
}

func (a sessionAuth) Validate(context.Context, string) (*model.SessionClaims, error) {
	return a.claims, nil
}

func setup(t *testing.T, svc *fakeInstances, claims *model.SessionClaims, tokenSub uuid.UUID) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Nop()
	auth := middleware.NewAuthMiddleware(sessionAuth{claims: claims}, tokenAuth{subaccountID: tokenSub})
	h := NewHandler(svc)

	r := gin.New()
	r.Use(middleware.ErrorHandler(log))
	h.RegisterRoutes(r.Group("/api", auth.Authenticate()))
	h.RegisterAPIRoutes(r.Group("/api/v1", auth.APIToken()))
	return r
}

func call(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer x")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetInstancePollsStatus(t *testing.T) {
	subID := uuid.New()
	inst := &model.WhatsappInstance{SubaccountID: subID, Status: model.InstanceStatusQRGenerated}
	inst.ID = uuid.New()
	svc := &fakeInstances{byID: map[uuid.UUID]*model.WhatsappInstance{inst.ID: inst}}

	r := setup(t, svc, &model.SessionClaims{Role: model.RoleUser, SubaccountID: &subID}, subID)

	w := call(r, http.MethodGet, "/api/instances/"+inst.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.statuses)
}

func TestSessionCannotReachOtherSubaccount(t *testing.T) {
	inst := &model.WhatsappInstance{SubaccountID: uuid.New()}
	inst.ID = uuid.New()
	svc := &fakeInstances{byID: map[uuid.UUID]*model.WhatsappInstance{inst.ID: inst}}

	mine := uuid.New()
	r := setup(t, svc, &model.SessionClaims{Role: model.RoleUser, SubaccountID: &mine}, mine)

	w := call(r, http.MethodPost, "/api/instances/"+inst.ID.String()+"/generate-qr")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Nil(t, inst.QRCode)
}

func TestGenerateQR(t *testing.T) {
	subID := uuid.New()
	inst := &model.WhatsappInstance{SubaccountID: subID, Status: model.InstanceStatusCreated}
	inst.ID = uuid.New()
	svc := &fakeInstances{byID: map[uuid.UUID]*model.WhatsappInstance{inst.ID: inst}}

	r := setup(t, svc, &model.SessionClaims{Role: model.RoleAdmin}, subID)

	w := call(r, http.MethodPost, "/api/instances/"+inst.ID.String()+"/generate-qr")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string               `json:"status"`
		Data   model.QRCodeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, "data:image/png;base64,QR", body.Data.QRCode)
}

func TestGenerateQRProviderFailureIsGeneric502(t *testing.T) {
	subID := uuid.New()
	inst := &model.WhatsappInstance{SubaccountID: subID}
	inst.ID = uuid.New()
	svc := &fakeInstances{
		byID:  map[uuid.UUID]*model.WhatsappInstance{inst.ID: inst},
		qrErr: fmt.Errorf("%w: dial tcp 10.0.0.7:8080: connection refused", instanceService.ErrProvider),
	}

	r := setup(t, svc, &model.SessionClaims{Role: model.RoleAdmin}, subID)

	w := call(r, http.MethodPost, "/api/instances/"+inst.ID.String()+"/generate-qr")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "upstream service unavailable")
	assert.NotContains(t, w.Body.String(), "10.0.0.7")
}

func TestAPITokenScopedToItsSubaccount(t *testing.T) {
	owner := uuid.New()
	inst := &model.WhatsappInstance{SubaccountID: owner}
	inst.ID = uuid.New()
	svc := &fakeInstances{byID: map[uuid.UUID]*model.WhatsappInstance{inst.ID: inst}}

	r := setup(t, svc, nil, uuid.New())
	w := call(r, http.MethodGet, "/api/v1/instances/"+inst.ID.String())
	assert.Equal(t, http.StatusNotFound, w.Code)

	r = setup(t, svc, nil, owner)
	w = call(r, http.MethodGet, "/api/v1/instances/"+inst.ID.String())
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(r, http.MethodGet, "/api/v1/instances")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), inst.ID.String())
}
