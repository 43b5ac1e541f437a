package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Config describes the external identity issuer. The issuer implements a
// standard authorization-code + PKCE flow and additionally supports the
// refresh-token and client-credentials grants; its ID tokens carry a
// pre-delegated identity as a custom claim.
type Config struct {
	Issuer       string   `json:"issuer"`
	AuthorizeURL string   `json:"authorizeURL"`
	TokenURL     string   `json:"tokenURL"`
	ClientID     string   `json:"clientID"`
	ClientSecret string   `json:"clientSecret"`
	RedirectURL  string   `json:"redirectURL"`
	Scopes       []string `json:"scopes"`
}

// Validate checks that the fields required to drive token exchanges are set.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("oauth issuer is required")
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		return fmt.Errorf("oauth token url is required")
	}
	if strings.TrimSpace(c.AuthorizeURL) == "" {
		return fmt.Errorf("oauth authorize url is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("oauth client id is required")
	}
	return nil
}

// ParseConfig decodes a JSON payload into an issuer configuration.
func ParseConfig(data []byte) (Config, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Config{}, nil
	}
	var cfg Config
	if err := json.Unmarshal([]byte(trimmed), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode oauth config: %w", err)
	}
	return sanitizeConfig(cfg), nil
}

// LoadConfig loads the issuer configuration from a JSON string or file path.
func LoadConfig(source string) (Config, error) {
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		return Config{}, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		return ParseConfig([]byte(trimmed))
	}
	content, err := os.ReadFile(trimmed)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read oauth config file %s: %w", trimmed, err)
		}
		return Config{}, fmt.Errorf("read oauth config %s: %w", trimmed, err)
	}
	return ParseConfig(content)
}

// Enabled reports whether an issuer has been configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.TokenURL) != ""
}

func sanitizeConfig(cfg Config) Config {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.AuthorizeURL = strings.TrimSpace(cfg.AuthorizeURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.RedirectURL = strings.TrimSpace(cfg.RedirectURL)
	scopes := make([]string, 0, len(cfg.Scopes))
	for _, scope := range cfg.Scopes {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			scopes = append(scopes, trimmed)
		}
	}
	cfg.Scopes = scopes
	return cfg
}
