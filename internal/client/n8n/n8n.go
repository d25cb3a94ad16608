// Package n8n forwards inbound messages to n8n and clones workflow templates.
package n8n

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/jwalitptl/wa-connector/internal/client"
)

var ErrNotConfigured = errors.New("n8n is not configured")

type Config struct {
	BaseURL string
	APIKey  string
}

type Workflow struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Nodes       json.RawMessage `json:"nodes"`
	Connections json.RawMessage `json:"connections"`
	Settings    json.RawMessage `json:"settings,omitempty"`
}

type Client struct {
	base       *client.Base
	apiKey     string
	configured bool
}

func New(cfg Config, opts client.Options) *Client {
	opts.Name = "n8n"
	opts.BaseURL = cfg.BaseURL
	return &Client{
		base:       client.NewBase(opts),
		apiKey:     cfg.APIKey,
		configured: cfg.BaseURL != "" && cfg.APIKey != "",
	}
}

// ForwardMessage posts payload as-is to a webhook URL.
func (c *Client) ForwardMessage(ctx context.Context, webhookURL string, payload json.RawMessage) error {
	if webhookURL == "" {
		return ErrNotConfigured
	}
	return c.base.Do(ctx, client.Request{Method: http.MethodPost, URL: webhookURL, JSON: payload}, nil)
}

// DuplicateWorkflow copies the template workflow under a new name and
// returns the new workflow id.
func (c *Client) DuplicateWorkflow(ctx context.Context, templateID, name string) (string, error) {
	if !c.configured || templateID == "" {
		return "", ErrNotConfigured
	}

	var tpl Workflow
	get := client.Request{Method: http.MethodGet, Path: "/api/v1/workflows/" + url.PathEscape(templateID), Header: c.header()}
	if err := c.base.Do(ctx, get, &tpl); err != nil {
		return "", err
	}

	clone := Workflow{
		Name:        name,
		Nodes:       tpl.Nodes,
		Connections: tpl.Connections,
		Settings:    tpl.Settings,
	}
	if len(clone.Settings) == 0 {
		clone.Settings = json.RawMessage(`{}`)
	}

	var created Workflow
	post := client.Request{Method: http.MethodPost, Path: "/api/v1/workflows", Header: c.header(), JSON: clone}
	if err := c.base.Do(ctx, post, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("X-N8N-API-KEY", c.apiKey)
	return h
}
