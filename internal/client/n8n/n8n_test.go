package n8n

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/internal/client"
	"github.com/jwalitptl/wa-connector/pkg/logger"
)

func TestForwardMessage(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{}, client.Options{Logger: logger.Nop()})
	err := c.ForwardMessage(context.Background(), srv.URL+"/webhook/abc", json.RawMessage(`{"from":"+1555"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"+1555"}`, string(got))
}

func TestForwardMessage_NoURL(t *testing.T) {
	c := New(Config{}, client.Options{Logger: logger.Nop()})
	assert.ErrorIs(t, c.ForwardMessage(context.Background(), "", nil), ErrNotConfigured)
}

func TestDuplicateWorkflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-N8N-API-KEY"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/workflows/tpl":
			_, _ = w.Write([]byte(`{"id":"tpl","name":"Template","nodes":[{"name":"Start"}],"connections":{}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/workflows":
			var wf Workflow
			require.NoError(t, json.NewDecoder(r.Body).Decode(&wf))
			assert.Equal(t, "WhatsApp LOC_1", wf.Name)
			assert.JSONEq(t, `[{"name":"Start"}]`, string(wf.Nodes))
			_, _ = w.Write([]byte(`{"id":"wf-2"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"}, client.Options{Logger: logger.Nop()})
	id, err := c.DuplicateWorkflow(context.Background(), "tpl", "WhatsApp LOC_1")
	require.NoError(t, err)
	assert.Equal(t, "wf-2", id)
}
