// Package client holds the HTTP plumbing shared by the third-party API clients.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/wa-connector/pkg/circuitbreaker"
	"github.com/jwalitptl/wa-connector/pkg/metrics"
)

const (
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}

type Options struct {
	Name       string
	BaseURL    string
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Base performs JSON requests against one upstream. It does not retry.
type Base struct {
	name    string
	baseURL string
	http    *http.Client
	cb      *circuitbreaker.CircuitBreaker
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewBase(opts Options) *Base {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Base{
		name:    opts.Name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    opts.HTTPClient,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        opts.Name,
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			IsFailure:   countsAsOutage,
		}),
		logger:  opts.Logger.With().Str("client", opts.Name).Logger(),
		metrics: opts.Metrics,
	}
}

// countsAsOutage keeps 4xx answers from tripping the breaker.
func countsAsOutage(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return true
}

// Request describes one upstream call. URL overrides BaseURL+Path when set.
type Request struct {
	Method string
	Path   string
	URL    string
	Header http.Header
	JSON   interface{}
	Form   url.Values
}

// Do executes req and decodes a JSON response into out when out is non-nil.
func (b *Base) Do(ctx context.Context, req Request, out interface{}) error {
	return b.cb.Execute(func() error {
		return b.do(ctx, req, out)
	})
}

func (b *Base) do(ctx context.Context, req Request, out interface{}) error {
	target := req.URL
	if target == "" {
		target = b.baseURL + req.Path
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := b.http.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		b.observe("error", latency)
		b.logger.Warn().Err(err).Str("method", req.Method).Str("path", req.Path).Msg("upstream request failed")
		return fmt.Errorf("%s request failed: %w", b.name, err)
	}
	defer resp.Body.Close()

	b.observe(strconv.Itoa(resp.StatusCode), latency)
	b.logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Dur("latency", latency).
		Msg("upstream request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		b.logger.Warn().
			Str("method", req.Method).
			Str("path", req.Path).
			Int("status", resp.StatusCode).
			Str("body", string(raw)).
			Msg("upstream rejected request")
		return &StatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode %s response: %w", b.name, err)
	}
	return nil
}

func (b *Base) observe(status string, latency time.Duration) {
	if b.metrics == nil {
		return
	}
	b.metrics.UpstreamRequests.WithLabelValues(b.name, status).Inc()
	b.metrics.UpstreamLatency.WithLabelValues(b.name).Observe(latency.Seconds())
}

func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.Form != nil:
		return strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	case req.JSON != nil:
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request: %w", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	}
	return nil, "", nil
}
