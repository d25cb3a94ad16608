package evolution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/internal/client"
	"github.com/jwalitptl/wa-connector/pkg/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "key"}, client.Options{Logger: logger.Nop()})
}

func TestConnect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("apikey"))
		assert.Equal(t, "/instance/connect/wa-LOC_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"base64":"data:image/png;base64,AAA","code":"2@abc"}`))
	})

	qr, err := c.Connect(context.Background(), "wa-LOC_1")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAA", qr.Value())
}

func TestConnectionState_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.ConnectionState(context.Background(), "wa-missing")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestCreateInstance_AlreadyExists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "wa-LOC_1", body["instanceName"])
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"response":{"message":["This name \"wa-LOC_1\" is already in use."]}}`))
	})

	err := c.CreateInstance(context.Background(), "wa-LOC_1")
	assert.ErrorIs(t, err, ErrInstanceExists)
}

func TestFetchInstance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wa-LOC_1", r.URL.Query().Get("instanceName"))
		_, _ = w.Write([]byte(`[{"name":"wa-LOC_1","connectionStatus":"open","ownerJid":"15551234567@s.whatsapp.net"}]`))
	})

	inst, err := c.FetchInstance(context.Background(), "wa-LOC_1")
	require.NoError(t, err)
	assert.Equal(t, StateOpen, inst.ConnectionStatus)
	assert.Equal(t, "+15551234567", inst.Phone())
}

func TestServerErrorIsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Connect(context.Background(), "wa-LOC_1")
	var se *client.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestPhoneFromJID(t *testing.T) {
	assert.Equal(t, "+15551234567", PhoneFromJID("15551234567:12@s.whatsapp.net"))
	assert.Equal(t, "", PhoneFromJID(""))
	assert.Equal(t, "", PhoneFromJID("@s.whatsapp.net"))
}
