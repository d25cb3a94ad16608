// Package evolution is a thin client for the Evolution WhatsApp API.
package evolution

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/jwalitptl/wa-connector/internal/client"
)

var (
	ErrInstanceNotFound = errors.New("instance not found in evolution")
	ErrInstanceExists   = errors.New("instance already exists in evolution")
)

// Connection states reported by the provider.
const (
	StateOpen       = "open"
	StateClose      = "close"
	StateConnecting = "connecting"
)

// Webhook events we ask the provider to push.
var DefaultWebhookEvents = []string{"CONNECTION_UPDATE", "QRCODE_UPDATED", "MESSAGES_UPSERT"}

type Config struct {
	BaseURL string
	APIKey  string
}

type QRCode struct {
	Base64      string `json:"base64"`
	Code        string `json:"code"`
	PairingCode string `json:"pairingCode"`
}

// Value is what we store and hand to the browser: the image when the
// provider rendered one, the raw pairing string otherwise.
func (q *QRCode) Value() string {
	if q.Base64 != "" {
		return q.Base64
	}
	return q.Code
}

type ConnectionState struct {
	InstanceName string `json:"instanceName"`
	State        string `json:"state"`
}

type Instance struct {
	Name             string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
	OwnerJID         string `json:"ownerJid"`
	Number           string `json:"number"`
}

// Phone derives an E.164 number from the owner jid ("15551234567@s.whatsapp.net").
func (i *Instance) Phone() string {
	return PhoneFromJID(i.OwnerJID)
}

func PhoneFromJID(jid string) string {
	if jid == "" {
		return ""
	}
	user := jid
	if at := strings.IndexByte(user, '@'); at >= 0 {
		user = user[:at]
	}
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		user = user[:colon]
	}
	if user == "" {
		return ""
	}
	return "+" + strings.TrimPrefix(user, "+")
}

type Client struct {
	base   *client.Base
	apiKey string
}

func New(cfg Config, opts client.Options) *Client {
	opts.Name = "evolution"
	opts.BaseURL = cfg.BaseURL
	return &Client{base: client.NewBase(opts), apiKey: cfg.APIKey}
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("apikey", c.apiKey)
	return h
}

func (c *Client) CreateInstance(ctx context.Context, name string) error {
	req := client.Request{
		Method: http.MethodPost,
		Path:   "/instance/create",
		Header: c.header(),
		JSON: map[string]interface{}{
			"instanceName": name,
			"qrcode":       true,
			"integration":  "WHATSAPP-BAILEYS",
		},
	}
	err := c.base.Do(ctx, req, nil)
	if client.IsStatus(err, http.StatusForbidden) || client.IsStatus(err, http.StatusConflict) {
		return ErrInstanceExists
	}
	return err
}

func (c *Client) Connect(ctx context.Context, name string) (*QRCode, error) {
	var out QRCode
	req := client.Request{Method: http.MethodGet, Path: "/instance/connect/" + url.PathEscape(name), Header: c.header()}
	if err := c.base.Do(ctx, req, &out); err != nil {
		return nil, mapNotFound(err)
	}
	return &out, nil
}

func (c *Client) ConnectionState(ctx context.Context, name string) (*ConnectionState, error) {
	var out struct {
		Instance ConnectionState `json:"instance"`
	}
	req := client.Request{Method: http.MethodGet, Path: "/instance/connectionState/" + url.PathEscape(name), Header: c.header()}
	if err := c.base.Do(ctx, req, &out); err != nil {
		return nil, mapNotFound(err)
	}
	return &out.Instance, nil
}

func (c *Client) FetchInstance(ctx context.Context, name string) (*Instance, error) {
	var out []Instance
	req := client.Request{Method: http.MethodGet, Path: "/instance/fetchInstances?instanceName=" + url.QueryEscape(name), Header: c.header()}
	if err := c.base.Do(ctx, req, &out); err != nil {
		return nil, mapNotFound(err)
	}
	for i := range out {
		if out[i].Name == name {
			return &out[i], nil
		}
	}
	return nil, ErrInstanceNotFound
}

func (c *Client) Logout(ctx context.Context, name string) error {
	req := client.Request{Method: http.MethodDelete, Path: "/instance/logout/" + url.PathEscape(name), Header: c.header()}
	return mapNotFound(c.base.Do(ctx, req, nil))
}

func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	req := client.Request{Method: http.MethodDelete, Path: "/instance/delete/" + url.PathEscape(name), Header: c.header()}
	return mapNotFound(c.base.Do(ctx, req, nil))
}

// SetWebhook points the provider's event push for one instance at webhookURL.
func (c *Client) SetWebhook(ctx context.Context, name, webhookURL string, events []string) error {
	req := client.Request{
		Method: http.MethodPost,
		Path:   "/webhook/set/" + url.PathEscape(name),
		Header: c.header(),
		JSON: map[string]interface{}{
			"webhook": map[string]interface{}{
				"enabled":  true,
				"url":      webhookURL,
				"events":   events,
				"byEvents": false,
				"base64":   true,
			},
		},
	}
	return mapNotFound(c.base.Do(ctx, req, nil))
}

func mapNotFound(err error) error {
	if client.IsStatus(err, http.StatusNotFound) {
		return ErrInstanceNotFound
	}
	return err
}
