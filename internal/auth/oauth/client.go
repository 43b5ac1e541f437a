// Package oauth drives token exchanges against the external identity issuer:
// authorization-code + PKCE login, refresh-token renewal, and a
// client-credentials grant used for server-to-server anonymous identity
// minting.
package oauth

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
)

// ErrNotConfigured is returned when an OAuth flow is requested but no issuer
// has been configured.
var ErrNotConfigured = errors.New("oauth issuer not configured")

// TokenResponse is the issuer's reply to any grant.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	IDToken      string
	RefreshToken string
	ExpiresIn    int64
	Raw          map[string]any
}

// Client coordinates flows against a single configured issuer.
type Client struct {
	config Config
	client *http.Client
}

// Option customises the OAuth client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for token exchanges.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// NewClient constructs an OAuth client for the provided issuer configuration.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := &Client{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// Config returns the issuer configuration backing this client.
func (c *Client) Config() Config { return c.config }

// AuthorizeURL builds the issuer authorization URL for a login attempt. The
// provider hint narrows the upstream login method ("google", "apple"); an
// empty hint lets the issuer offer all of them.
func (c *Client) AuthorizeURL(state, pkceChallenge, loginHint, providerHint string) (string, error) {
	parsed, err := url.Parse(c.config.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("parse authorize url: %w", err)
	}
	query := parsed.Query()
	query.Set("response_type", "code")
	query.Set("client_id", c.config.ClientID)
	query.Set("redirect_uri", c.config.RedirectURL)
	scopes := c.config.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid"}
	}
	query.Set("scope", strings.Join(scopes, " "))
	query.Set("state", state)
	query.Set("code_challenge", pkceChallenge)
	query.Set("code_challenge_method", "S256")
	if loginHint != "" {
		query.Set("login_hint", loginHint)
	}
	if providerHint != "" {
		query.Set("provider", providerHint)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// ExchangeCode redeems an authorization code with its PKCE verifier.
func (c *Client) ExchangeCode(ctx context.Context, code, pkceVerifier string) (TokenResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return TokenResponse{}, fmt.Errorf("authorization code is required")
	}
	payload := url.Values{}
	payload.Set("grant_type", "authorization_code")
	payload.Set("code", code)
	payload.Set("redirect_uri", c.config.RedirectURL)
	payload.Set("code_verifier", pkceVerifier)
	return c.requestToken(ctx, payload)
}

// ExchangeRefreshToken renews a session from a refresh token.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenResponse{}, fmt.Errorf("refresh token is required")
	}
	payload := url.Values{}
	payload.Set("grant_type", "refresh_token")
	payload.Set("refresh_token", refreshToken)
	return c.requestToken(ctx, payload)
}

// ExchangeClientCredentials mints a fresh anonymous identity server-to-server.
func (c *Client) ExchangeClientCredentials(ctx context.Context) (TokenResponse, error) {
	payload := url.Values{}
	payload.Set("grant_type", "client_credentials")
	return c.requestToken(ctx, payload)
}

func (c *Client) requestToken(ctx context.Context, payload url.Values) (TokenResponse, error) {
	payload.Set("client_id", c.config.ClientID)
	if c.config.ClientSecret != "" {
		payload.Set("client_secret", c.config.ClientSecret)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(payload.Encode()))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("create token request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Accept", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("exchange token: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("read token response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet := string(bytes.TrimSpace(body))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return TokenResponse{}, fmt.Errorf("token exchange failed: %s", snippet)
	}
	token, err := parseTokenResponse(body)
	if err != nil {
		return TokenResponse{}, err
	}
	if token.AccessToken == "" && token.IDToken == "" {
		return TokenResponse{}, fmt.Errorf("token response missing access_token")
	}
	return token, nil
}

func parseTokenResponse(body []byte) (TokenResponse, error) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return TokenResponse{}, fmt.Errorf("parse token response: %w", err)
	}
	token := TokenResponse{Raw: parsed}
	token.AccessToken = stringFromAny(parsed["access_token"])
	token.TokenType = stringFromAny(parsed["token_type"])
	token.IDToken = stringFromAny(parsed["id_token"])
	token.RefreshToken = stringFromAny(parsed["refresh_token"])
	if expires, ok := parsed["expires_in"].(float64); ok {
		token.ExpiresIn = int64(expires)
	}
	return token, nil
}

func stringFromAny(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
