// Package crm is a thin client for the GoHighLevel OAuth and location APIs.
package crm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jwalitptl/wa-connector/internal/client"
)

const apiVersion = "2021-07-28"

var (
	ErrTokenExchange = errors.New("token exchange failed")
	ErrTokenRefresh  = errors.New("token refresh failed")
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	UserType     string `json:"userType"`
	LocationID   string `json:"locationId"`
	CompanyID    string `json:"companyId"`
	UserID       string `json:"userId"`
}

// ExpiresAt converts the relative lifetime into an absolute deadline.
func (t *TokenResponse) ExpiresAt(now time.Time) time.Time {
	return now.Add(time.Duration(t.ExpiresIn) * time.Second)
}

type Location struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	CompanyID string `json:"companyId"`
}

type CustomMenu struct {
	ID              string   `json:"id,omitempty"`
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	Icon            string   `json:"icon,omitempty"`
	ShowOnCompany   bool     `json:"showOnCompany"`
	ShowOnLocation  bool     `json:"showOnLocation"`
	OpenMode        string   `json:"openMode,omitempty"`
	Locations       []string `json:"locations,omitempty"`
	UserRole        string   `json:"userRole,omitempty"`
	AllowCamera     bool     `json:"allowCamera"`
	AllowMicrophone bool     `json:"allowMicrophone"`
}

type Client struct {
	base         *client.Base
	clientID     string
	clientSecret string
}

func New(cfg Config, opts client.Options) *Client {
	opts.Name = "crm"
	opts.BaseURL = cfg.BaseURL
	return &Client{
		base:         client.NewBase(opts),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}
}

// ExchangeCode trades an authorization code for a token pair. A rejection is
// terminal for the flow and is never retried.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"user_type":     {"Location"},
	}

	var out TokenResponse
	if err := c.base.Do(ctx, client.Request{Method: http.MethodPost, Path: "/oauth/token", Form: form}, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenExchange, err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrTokenExchange)
	}
	return &out, nil
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"user_type":     {"Location"},
	}

	var out TokenResponse
	if err := c.base.Do(ctx, client.Request{Method: http.MethodPost, Path: "/oauth/token", Form: form}, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrTokenRefresh)
	}
	return &out, nil
}

func (c *Client) GetLocation(ctx context.Context, accessToken, locationID string) (*Location, error) {
	var out struct {
		Location Location `json:"location"`
	}
	req := client.Request{
		Method: http.MethodGet,
		Path:   "/locations/" + url.PathEscape(locationID),
		Header: authHeader(accessToken),
	}
	if err := c.base.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out.Location, nil
}

func (c *Client) ListCustomMenus(ctx context.Context, accessToken, locationID string) ([]CustomMenu, error) {
	var out struct {
		CustomMenus []CustomMenu `json:"customMenus"`
	}
	req := client.Request{
		Method: http.MethodGet,
		Path:   "/custom-menus/?locationId=" + url.QueryEscape(locationID),
		Header: authHeader(accessToken),
	}
	if err := c.base.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out.CustomMenus, nil
}

func (c *Client) CreateCustomMenu(ctx context.Context, accessToken string, menu CustomMenu) (*CustomMenu, error) {
	var out struct {
		CustomMenu CustomMenu `json:"customMenu"`
	}
	req := client.Request{
		Method: http.MethodPost,
		Path:   "/custom-menus/",
		Header: authHeader(accessToken),
		JSON:   menu,
	}
	if err := c.base.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out.CustomMenu, nil
}

func authHeader(accessToken string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	h.Set("Version", apiVersion)
	return h
}
