package canisters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reelgate/internal/identity"
)

// HTTPClientConfig configures the HTTP/JSON canister gateway client.
type HTTPClientConfig struct {
	// BaseURL is the canister gateway root, e.g. https://gateway.example.com.
	BaseURL string
	Client  *http.Client
}

// HTTPClient talks to canisters through an HTTP/JSON gateway.
type HTTPClient struct {
	base   string
	client *http.Client
}

// NewHTTPClient validates the configuration and constructs a gateway client.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("canister gateway base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse canister gateway url: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{base: base, client: client}, nil
}

// GetIndividualCanisterByUserPrincipal resolves a user's canister principal.
func (c *HTTPClient) GetIndividualCanisterByUserPrincipal(ctx context.Context, user identity.Principal) (identity.Principal, bool, error) {
	var payload struct {
		CanisterID identity.Principal `json:"canister_id"`
		Found      bool               `json:"found"`
	}
	path := fmt.Sprintf("/users/%s/canister", url.PathEscape(user.String()))
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return "", false, err
	}
	return payload.CanisterID, payload.Found, nil
}

// GetProfileDetails fetches the profile stored on a user canister.
func (c *HTTPClient) GetProfileDetails(ctx context.Context, canister identity.Principal) (ProfileDetails, error) {
	var details ProfileDetails
	path := fmt.Sprintf("/canisters/%s/profile", url.PathEscape(canister.String()))
	if err := c.getJSON(ctx, path, &details); err != nil {
		return ProfileDetails{}, err
	}
	return details, nil
}

// GetSessionType reports the canister's session classification.
func (c *HTTPClient) GetSessionType(ctx context.Context, canister identity.Principal) (SessionType, error) {
	var payload struct {
		SessionType SessionType `json:"session_type"`
	}
	path := fmt.Sprintf("/canisters/%s/session_type", url.PathEscape(canister.String()))
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return "", err
	}
	return payload.SessionType, nil
}

// UpdateSessionType marks the canister's session and returns the prior value.
func (c *HTTPClient) UpdateSessionType(ctx context.Context, canister identity.Principal, session SessionType) (SessionType, error) {
	body, err := json.Marshal(map[string]SessionType{"session_type": session})
	if err != nil {
		return "", fmt.Errorf("encode session type: %w", err)
	}
	var payload struct {
		Previous SessionType `json:"previous"`
	}
	path := fmt.Sprintf("/canisters/%s/session_type", url.PathEscape(canister.String()))
	if err := c.postJSON(ctx, path, body, &payload); err != nil {
		return "", err
	}
	return payload.Previous, nil
}

// GetPostDetails hydrates a single post.
func (c *HTTPClient) GetPostDetails(ctx context.Context, id PostID, nsfwProbability float64) (PostDetails, error) {
	var details PostDetails
	path := fmt.Sprintf("/canisters/%s/posts/%s",
		url.PathEscape(id.CanisterID.String()), strconv.FormatUint(id.PostID, 10))
	if err := c.getJSON(ctx, path, &details); err != nil {
		return PostDetails{}, err
	}
	details.NSFWProbability = nsfwProbability
	return details, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, dest interface{}) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("create canister request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	return c.do(request, dest)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body []byte, dest interface{}) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create canister request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	return c.do(request, dest)
}

func (c *HTTPClient) do(request *http.Request, dest interface{}) error {
	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("canister request: %w", err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("read canister response: %w", err)
	}
	if response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("canister resource %s: %w", request.URL.Path, ErrNotFound)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		snippet := string(bytes.TrimSpace(body))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return fmt.Errorf("canister request failed (%d): %s", response.StatusCode, snippet)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode canister response: %w", err)
	}
	return nil
}
