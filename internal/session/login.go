package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"reelgate/internal/auth/oauth"
	"reelgate/internal/canisters"
	"reelgate/internal/identity"
)

// ErrLoginStateMismatch reports a completed OAuth redirect whose state does
// not match the one issued at the start of the handshake.
var ErrLoginStateMismatch = errors.New("oauth state mismatch")

// BeginOAuthLogin starts the authorization-code handshake: it mints the CSRF
// state and PKCE pair, parks both in short-lived handshake cookies, and
// returns the issuer URL to redirect the user to.
func (m *Manager) BeginOAuthLogin(w http.ResponseWriter, loginHint, providerHint string) (string, error) {
	if m.oauth == nil {
		return "", oauth.ErrNotConfigured
	}
	state, err := oauth.GenerateState()
	if err != nil {
		return "", err
	}
	pkceVerifier, pkceChallenge, err := oauth.GeneratePKCE()
	if err != nil {
		return "", err
	}
	redirect, err := m.oauth.AuthorizeURL(state, pkceChallenge, loginHint, providerHint)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, handshakeCookie(csrfTokenCookie, state))
	http.SetCookie(w, handshakeCookie(pkceVerifierCookie, pkceVerifier))
	return redirect, nil
}

// CompleteOAuthLogin redeems the redirect's authorization code. On success
// the handshake cookies are cleared, the issuer's refresh token replaces the
// session cookie, and the user's canister session is marked registered.
func (m *Manager) CompleteOAuthLogin(ctx context.Context, w http.ResponseWriter, r *http.Request, state, code string) (identity.DelegatedIdentityWire, error) {
	if m.oauth == nil {
		return identity.DelegatedIdentityWire{}, oauth.ErrNotConfigured
	}
	csrf, err := r.Cookie(csrfTokenCookie)
	if err != nil || csrf.Value == "" || csrf.Value != state {
		return identity.DelegatedIdentityWire{}, ErrLoginStateMismatch
	}
	verifier, err := r.Cookie(pkceVerifierCookie)
	if err != nil || verifier.Value == "" {
		return identity.DelegatedIdentityWire{}, fmt.Errorf("missing pkce verifier cookie")
	}

	token, err := m.oauth.ExchangeCode(ctx, code, verifier.Value)
	if err != nil {
		return identity.DelegatedIdentityWire{}, fmt.Errorf("redeem authorization code: %w", err)
	}
	claims, err := oauth.DecodeIDToken(token.IDToken)
	if err != nil {
		return identity.DelegatedIdentityWire{}, err
	}
	if token.RefreshToken == "" {
		return identity.DelegatedIdentityWire{}, fmt.Errorf("issuer returned no refresh token")
	}

	http.SetCookie(w, expiredCookie(csrfTokenCookie))
	http.SetCookie(w, expiredCookie(pkceVerifierCookie))
	m.installRefreshCookie(w, token.RefreshToken)

	if !claims.ExtIsAnonymous {
		m.markSessionRegistered(ctx, claims.ExtDelegatedIdentity)
	}
	return claims.ExtDelegatedIdentity, nil
}

// Registration marking is best effort: the login itself has already
// succeeded, and the canister flip is retried on the next login if it fails.
func (m *Manager) markSessionRegistered(ctx context.Context, wire identity.DelegatedIdentityWire) {
	if m.canisters == nil {
		return
	}
	principal, err := wire.Principal()
	if err != nil {
		m.logger.Warn("derive principal after login", "error", err)
		return
	}
	canister, found, err := m.canisters.GetIndividualCanisterByUserPrincipal(ctx, principal)
	if err != nil || !found {
		m.logger.Warn("resolve canister after login", "principal", principal.String(), "found", found, "error", err)
		return
	}
	if _, err := m.canisters.UpdateSessionType(ctx, canister, canisters.SessionTypeRegistered); err != nil {
		m.logger.Warn("mark session registered", "canister", canister.String(), "error", err)
	}
}
