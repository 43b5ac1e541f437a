// Package session produces a valid, time-bounded delegated credential for
// every request: first-visit anonymous bootstrap, refresh-cookie resolution,
// logout re-identification, and (when configured) migration to the external
// OAuth issuer.
package session

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"reelgate/internal/auth/oauth"
	"reelgate/internal/canisters"
	"reelgate/internal/identity"
	"reelgate/internal/kv"
)

// ErrNoSession is returned by operations that need an existing session when
// the request carries none.
var ErrNoSession = errors.New("no session")

// AnonymousIdentity is the bootstrap result for a first-time visitor: a
// delegated identity plus the refresh token the caller must install as a
// cookie via SetAnonymousIdentityCookie.
type AnonymousIdentity struct {
	Identity     identity.DelegatedIdentityWire `json:"identity"`
	RefreshToken string                         `json:"refresh_token"`
}

// Config wires the manager's collaborators. SigningKey signs migration
// refresh JWTs (ES256) and is required when OAuth is configured.
type Config struct {
	KV           kv.Store
	Canisters    canisters.Client
	OAuth        *oauth.Client
	SigningKey   *ecdsa.PrivateKey
	CookieSecret string
	Logger       *slog.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRetryDelay overrides the backoff between migration lookup retries.
func WithRetryDelay(delay time.Duration) Option {
	return func(m *Manager) {
		if delay >= 0 {
			m.retryDelay = delay
		}
	}
}

// Manager coordinates identity issuance against the KV store and, when
// configured, the external OAuth issuer.
type Manager struct {
	kv         kv.Store
	canisters  canisters.Client
	oauth      *oauth.Client
	signingKey *ecdsa.PrivateKey
	codec      *cookieCodec
	logger     *slog.Logger
	now        func() time.Time
	retryDelay time.Duration
}

// NewManager constructs a Manager from the provided configuration.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.KV == nil {
		return nil, fmt.Errorf("kv store is required")
	}
	codec, err := newCookieCodec(cfg.CookieSecret)
	if err != nil {
		return nil, err
	}
	if cfg.OAuth != nil && cfg.SigningKey == nil {
		return nil, fmt.Errorf("oauth migration requires a signing key")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	manager := &Manager{
		kv:         cfg.KV,
		canisters:  cfg.Canisters,
		oauth:      cfg.OAuth,
		signingKey: cfg.SigningKey,
		codec:      codec,
		logger:     logger,
		now:        time.Now,
		retryDelay: 300 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager, nil
}

// OAuthEnabled reports whether the external issuer is configured.
func (m *Manager) OAuthEnabled() bool { return m.oauth != nil }

// GenerateAnonymousIdentityIfRequired bootstraps a first-time visitor. When
// the request already carries a refresh cookie the call is a no-op returning
// nil with zero KV writes.
func (m *Manager) GenerateAnonymousIdentityIfRequired(ctx context.Context, r *http.Request) (*AnonymousIdentity, error) {
	if m.oauth != nil {
		if _, err := m.refreshCookieValue(r); err == nil {
			return nil, nil
		}
		return m.mintAnonymousViaOAuth(ctx)
	}

	if _, ok := m.principalFromCookie(r); ok {
		return nil, nil
	}
	base, err := m.generateAndSaveIdentity(ctx)
	if err != nil {
		return nil, err
	}
	wire, err := identity.Delegate(base)
	if err != nil {
		return nil, err
	}
	refresh, err := m.newRefreshToken(base)
	if err != nil {
		return nil, err
	}
	return &AnonymousIdentity{Identity: wire, RefreshToken: refresh}, nil
}

func (m *Manager) mintAnonymousViaOAuth(ctx context.Context) (*AnonymousIdentity, error) {
	token, err := m.oauth.ExchangeClientCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("exchange client credentials: %w", err)
	}
	claims, err := oauth.DecodeIDToken(token.IDToken)
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("issuer returned no refresh token")
	}
	return &AnonymousIdentity{
		Identity:     claims.ExtDelegatedIdentity,
		RefreshToken: token.RefreshToken,
	}, nil
}

// SetAnonymousIdentityCookie installs the refresh token as a signed cookie.
// An empty token triggers the one-time legacy-to-OAuth migration path when
// the issuer is configured; without an issuer it is a no-op.
func (m *Manager) SetAnonymousIdentityCookie(ctx context.Context, w http.ResponseWriter, r *http.Request, refreshToken string) error {
	if refreshToken != "" {
		m.installRefreshCookie(w, refreshToken)
		return nil
	}
	if m.oauth == nil {
		return nil
	}
	token, ok := m.principalFromCookie(r)
	if !ok {
		return nil
	}
	connected := false
	if cookie, err := r.Cookie(accountConnectedCookie); err == nil {
		connected = cookie.Value == "true"
	}
	var userCanister identity.Principal
	if cookie, err := r.Cookie(userCanisterCookie); err == nil {
		if parsed, err := identity.ParsePrincipal(cookie.Value); err == nil {
			userCanister = parsed
		}
	}
	migrated, err := m.migrateIdentityToOAuth(ctx, token.Principal, userCanister, !connected)
	if err != nil {
		return err
	}
	m.installRefreshCookie(w, migrated)
	return nil
}

// ExtractIdentity resolves the request's session to a delegated identity.
// Legacy cookie resolution runs first; when it fails and the issuer is
// configured, the cookie value is exchanged as an OAuth refresh token. A
// request with no session at all yields (nil, nil).
func (m *Manager) ExtractIdentity(ctx context.Context, r *http.Request) (*identity.DelegatedIdentityWire, error) {
	raw, err := m.refreshCookieValue(r)
	if err != nil {
		return nil, nil
	}

	if token, ok := parseRefreshToken(raw); ok && !token.Expired(m.now()) {
		wire, err := m.delegateFromStore(ctx, token.Principal)
		if err == nil {
			return &wire, nil
		}
		if !errors.Is(err, ErrNoSession) {
			return nil, err
		}
	}

	if m.oauth == nil {
		return nil, nil
	}
	token, err := m.oauth.ExchangeRefreshToken(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("refresh token exchange: %w", err)
	}
	claims, err := oauth.DecodeIDToken(token.IDToken)
	if err != nil {
		return nil, err
	}
	return &claims.ExtDelegatedIdentity, nil
}

// LogoutIdentity discards the current session by minting a brand-new
// anonymous identity, installing its refresh cookie, and returning its
// delegation. The previous principal's key is left in the KV store.
func (m *Manager) LogoutIdentity(ctx context.Context, w http.ResponseWriter) (identity.DelegatedIdentityWire, error) {
	if m.oauth != nil {
		minted, err := m.mintAnonymousViaOAuth(ctx)
		if err != nil {
			return identity.DelegatedIdentityWire{}, err
		}
		m.installRefreshCookie(w, minted.RefreshToken)
		return minted.Identity, nil
	}

	base, err := m.generateAndSaveIdentity(ctx)
	if err != nil {
		return identity.DelegatedIdentityWire{}, err
	}
	refresh, err := m.newRefreshToken(base)
	if err != nil {
		return identity.DelegatedIdentityWire{}, err
	}
	m.installRefreshCookie(w, refresh)
	return identity.Delegate(base)
}

// ResolveUserCanister maps a user principal to its individual canister.
// The boolean reports whether the user has one provisioned.
func (m *Manager) ResolveUserCanister(ctx context.Context, principal identity.Principal) (identity.Principal, bool, error) {
	return m.canisters.GetIndividualCanisterByUserPrincipal(ctx, principal)
}

// DelegateShortLived issues a 24-hour credential from the request's current
// session, for signing a single operation. Nothing is persisted.
func (m *Manager) DelegateShortLived(ctx context.Context, r *http.Request) (identity.DelegatedIdentityWire, error) {
	wire, err := m.ExtractIdentity(ctx, r)
	if err != nil {
		return identity.DelegatedIdentityWire{}, err
	}
	if wire == nil {
		return identity.DelegatedIdentityWire{}, ErrNoSession
	}
	from, err := identity.FromWire(*wire)
	if err != nil {
		return identity.DelegatedIdentityWire{}, err
	}
	return identity.DelegateShortLived(from)
}

func (m *Manager) delegateFromStore(ctx context.Context, principal identity.Principal) (identity.DelegatedIdentityWire, error) {
	encoded, ok, err := m.kv.Read(ctx, principal.String())
	if err != nil {
		return identity.DelegatedIdentityWire{}, fmt.Errorf("read identity key: %w", err)
	}
	if !ok {
		return identity.DelegatedIdentityWire{}, ErrNoSession
	}
	var jwk identity.JWK
	if err := json.Unmarshal([]byte(encoded), &jwk); err != nil {
		return identity.DelegatedIdentityWire{}, fmt.Errorf("decode stored identity key: %w", err)
	}
	key, err := jwk.PrivateKey()
	if err != nil {
		return identity.DelegatedIdentityWire{}, fmt.Errorf("stored identity key: %w", err)
	}
	return identity.Delegate(identity.FromPrivateKey(key))
}

func (m *Manager) generateAndSaveIdentity(ctx context.Context) (*identity.Identity, error) {
	base, err := identity.NewIdentity()
	if err != nil {
		return nil, err
	}
	principal, err := base.Principal()
	if err != nil {
		return nil, err
	}
	jwk, err := json.Marshal(base.JWK())
	if err != nil {
		return nil, fmt.Errorf("encode identity key: %w", err)
	}
	if err := m.kv.Write(ctx, principal.String(), string(jwk)); err != nil {
		return nil, fmt.Errorf("persist identity key: %w", err)
	}
	return base, nil
}

func (m *Manager) newRefreshToken(base *identity.Identity) (string, error) {
	principal, err := base.Principal()
	if err != nil {
		return "", err
	}
	return marshalRefreshToken(RefreshToken{
		Principal:     principal,
		ExpiryEpochMs: m.now().Add(RefreshMaxAge).UnixMilli(),
	})
}

func (m *Manager) installRefreshCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, refreshCookie(m.codec.Encode(value), RefreshMaxAge))
}

func (m *Manager) refreshCookieValue(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil {
		return "", ErrNoSession
	}
	return m.codec.Decode(cookie.Value)
}

func (m *Manager) principalFromCookie(r *http.Request) (RefreshToken, bool) {
	raw, err := m.refreshCookieValue(r)
	if err != nil {
		return RefreshToken{}, false
	}
	token, ok := parseRefreshToken(raw)
	if !ok || token.Expired(m.now()) {
		return RefreshToken{}, false
	}
	return token, true
}
