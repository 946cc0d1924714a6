// Package panelapi fetches panel records from the platform's REST API.
package panelapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/panelstages/internal/domain"
)

var (
	ErrNotFound     = errors.New("panel not found upstream")
	ErrUnauthorized = errors.New("upstream rejected credentials")
)

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

const maxErrorBody = 512

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for baseURL authenticating with a bearer token.
// An empty token sends no Authorization header.
func New(baseURL, token string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base url %q: must be absolute", baseURL)
	}
	c := &Client{
		baseURL: u.String(),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetPanel fetches GET /panel/{id}.
func (c *Client) GetPanel(ctx context.Context, id string) (domain.Panel, error) {
	var p domain.Panel
	if err := c.getJSON(ctx, "/panel/"+url.PathEscape(id), &p); err != nil {
		return domain.Panel{}, err
	}
	if p.ID == "" {
		p.ID = id
	}
	return p, nil
}

// ListPanels fetches GET /panel.
func (c *Client) ListPanels(ctx context.Context) ([]domain.Panel, error) {
	var ps []domain.Panel
	if err := c.getJSON(ctx, "/panel", &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
