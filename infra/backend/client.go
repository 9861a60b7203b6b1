// Package backend is the REST client for the dispatch lifecycle endpoints
// of the fleet backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fleetlive/auth"
	"github.com/kilianp07/fleetlive/core/model"
	"github.com/kilianp07/fleetlive/infra/logger"
)

// ErrNotFound is returned when the backend answers 404.
var ErrNotFound = errors.New("backend: not found")

// StatusError is returned for unexpected HTTP status codes.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// Config defines how to reach the backend.
type Config struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"token"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	// OAuth replaces the static token with client-credentials tokens.
	OAuth auth.Conf `json:"oauth"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	return c.OAuth.Validate()
}

// Client calls the dispatch log endpoints.
type Client struct {
	base   string
	token  string
	creds  *auth.ClientCred
	client *http.Client
	log    logger.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config) *Client {
	cfg.SetDefaults()
	c := &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		token:  cfg.Token,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		log:    logger.New("backend-client"),
	}
	if cfg.OAuth.Enabled() {
		c.creds = auth.NewClientCred(cfg.OAuth)
	}
	return c
}

// StartAlley opens a dispatch log in the alley state for an assignment and
// returns the created dispatch log.
func (c *Client) StartAlley(ctx context.Context, vehicleAssignmentID string) (model.DispatchLog, error) {
	var out model.DispatchLog
	body := map[string]string{"vehicle_assignment_id": vehicleAssignmentID}
	err := c.do(ctx, http.MethodPost, "/dispatch-logs/alley/start", body, &out)
	return out, err
}

// EndAlley closes the alley phase of a dispatch log.
func (c *Client) EndAlley(ctx context.Context, dispatchLogID string) error {
	return c.do(ctx, http.MethodPost, "/dispatch-logs/"+url.PathEscape(dispatchLogID)+"/alley/end", nil, nil)
}

// StartDispatch moves a dispatch log on road.
func (c *Client) StartDispatch(ctx context.Context, dispatchLogID string) error {
	return c.do(ctx, http.MethodPost, "/dispatch-logs/"+url.PathEscape(dispatchLogID)+"/dispatch/start", nil, nil)
}

// EndDispatch closes an on-road dispatch. A 409 answer means the dispatch
// was already ended and is treated as success.
func (c *Client) EndDispatch(ctx context.Context, dispatchLogID string) error {
	err := c.do(ctx, http.MethodPost, "/dispatch-logs/"+url.PathEscape(dispatchLogID)+"/dispatch/end", nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		c.log.Debugf("dispatch %s already ended", dispatchLogID)
		return nil
	}
	return err
}

// DeleteDispatchLog removes a dispatch log record.
func (c *Client) DeleteDispatchLog(ctx context.Context, dispatchLogID string) error {
	return c.do(ctx, http.MethodDelete, "/dispatch-logs/"+url.PathEscape(dispatchLogID), nil, nil)
}

// ListAssignments returns the current vehicle assignments.
func (c *Client) ListAssignments(ctx context.Context) ([]model.Assignment, error) {
	var out []model.Assignment
	if err := c.do(ctx, http.MethodGet, "/vehicle-assignments", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}
	resp, err := c.send(ctx, method, path, payload)
	if err == nil && resp.StatusCode == http.StatusUnauthorized && c.creds != nil {
		_ = resp.Body.Close()
		if _, err = c.creds.ForceRefresh(ctx); err != nil {
			return fmt.Errorf("backend %s %s: %w", method, path, err)
		}
		resp, err = c.send(ctx, method, path, payload)
	}
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.creds != nil:
		if err := c.creds.SetAuthHeader(req); err != nil {
			return nil, err
		}
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.client.Do(req)
}
