package auth

import (
	"fmt"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf holds the OAuth2 client credentials used to call the fleet backend.
// An empty TokenURL disables the flow.
type Conf struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	TokenURL     string   `json:"token_url"`
	Scopes       []string `json:"scopes"`
}

// Enabled reports whether client credentials are configured.
func (c Conf) Enabled() bool { return c.TokenURL != "" }

// Validate checks that an enabled flow has its credentials.
func (c Conf) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("oauth: client_id and client_secret are required with token_url")
	}
	return nil
}

func (c *Conf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
		Scopes:       c.Scopes,
	}
}
