package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/wa-connector/pkg/circuitbreaker"
	"github.com/jwalitptl/wa-connector/pkg/logger"
	"github.com/jwalitptl/wa-connector/pkg/metrics"
)

func TestBase_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	b := NewBase(Options{Name: "test", BaseURL: srv.URL, Logger: logger.Nop(), Metrics: metrics.New("test", nil)})
	for i := 0; i < 10; i++ {
		err := b.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
		assert.True(t, IsStatus(err, http.StatusBadRequest))
	}
	assert.Equal(t, int32(10), atomic.LoadInt32(&hits))
}

func TestBase_ServerErrorsOpenBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b := NewBase(Options{Name: "test", BaseURL: srv.URL, Logger: logger.Nop()})
	for i := 0; i < 5; i++ {
		_ = b.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	}

	err := b.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	require.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}
