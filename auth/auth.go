// Package auth obtains bearer tokens for outbound backend calls.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCred caches an OAuth2 client-credentials token and refreshes it once
// it expires. It is safe for concurrent use by the vehicle lanes.
type ClientCred struct {
	conf clientcredentials.Config

	mu    sync.Mutex
	token *oauth2.Token
}

func NewClientCred(conf Conf) *ClientCred {
	return &ClientCred{conf: conf.toOauth2Config()}
}

// GetToken returns the cached access token, requesting a new one when the
// cache is empty or expired.
func (c *ClientCred) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.token.Valid() {
		return c.token.AccessToken, nil
	}
	if err := c.fetch(ctx); err != nil {
		return "", err
	}
	return c.token.AccessToken, nil
}

// ForceRefresh drops the cached token and requests a new one. The backend
// client calls it after a 401.
func (c *ClientCred) ForceRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fetch(ctx); err != nil {
		return "", err
	}
	return c.token.AccessToken, nil
}

// SetAuthHeader sets the Authorization header of r.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	if _, err := c.GetToken(r.Context()); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token.SetAuthHeader(r)
	return nil
}

func (c *ClientCred) fetch(ctx context.Context) error {
	tok, err := c.conf.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	c.token = tok
	return nil
}
