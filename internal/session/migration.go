package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reelgate/internal/canisters"
	"reelgate/internal/identity"
)

// ErrPrincipalMismatch reports that the claimed session owner does not own
// the resolved user canister. This is treated as a potential attack: never
// retried, surfaced loudly.
var ErrPrincipalMismatch = errors.New("principal is not the owner of the user canister")

const migrationLookupAttempts = 5

// RefreshTokenClaims is the migration refresh JWT minted for the external
// issuer, signed ES256 with kid=default.
type RefreshTokenClaims struct {
	jwt.RegisteredClaims
	ExtIsAnonymous bool `json:"ext_is_anonymous"`
}

// migrateIdentityToOAuth mints an issuer-compatible refresh token for a
// legacy session. Connected accounts are verified against their canister
// before the anonymity flag is cleared.
func (m *Manager) migrateIdentityToOAuth(ctx context.Context, principal, userCanister identity.Principal, isAnonymous bool) (string, error) {
	if !isAnonymous {
		anonymous, err := m.verifyConnectedAccount(ctx, principal, userCanister)
		if err != nil {
			return "", err
		}
		isAnonymous = anonymous
	}

	now := m.now()
	claims := RefreshTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.oauth.Config().Issuer,
			Audience:  jwt.ClaimStrings{m.oauth.Config().ClientID},
			Subject:   principal.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RefreshMaxAge)),
		},
		ExtIsAnonymous: isAnonymous,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = "default"
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign migration refresh token: %w", err)
	}
	return signed, nil
}

func (m *Manager) verifyConnectedAccount(ctx context.Context, principal, userCanister identity.Principal) (bool, error) {
	if m.canisters == nil {
		return false, fmt.Errorf("canister client not configured")
	}
	if userCanister == "" {
		resolved, found, err := m.canisters.GetIndividualCanisterByUserPrincipal(ctx, principal)
		if err != nil {
			return false, fmt.Errorf("resolve user canister: %w", err)
		}
		if !found {
			return false, fmt.Errorf("user canister not found for %s", principal)
		}
		userCanister = resolved
	}

	// These lookups sit on the one-time migration path; transient canister
	// errors must not strand the user, so each is retried a bounded number
	// of times before the migration fails hard.
	var details canisters.ProfileDetails
	err := m.retryLookup(ctx, "profile details", userCanister, func() error {
		var err error
		details, err = m.canisters.GetProfileDetails(ctx, userCanister)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("lookup profile details for %s: %w", userCanister, err)
	}
	if details.PrincipalID != principal {
		m.logger.Error("session owner mismatch during migration",
			"claimed", principal.String(), "owner", details.PrincipalID.String(), "canister", userCanister.String())
		return false, ErrPrincipalMismatch
	}

	var sessionType canisters.SessionType
	err = m.retryLookup(ctx, "session type", userCanister, func() error {
		var err error
		sessionType, err = m.canisters.GetSessionType(ctx, userCanister)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("lookup session type for %s: %w", userCanister, err)
	}
	return sessionType != canisters.SessionTypeRegistered, nil
}

func (m *Manager) retryLookup(ctx context.Context, what string, canister identity.Principal, lookup func() error) error {
	var lastErr error
	for attempt := 0; attempt < migrationLookupAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = lookup()
		if lastErr == nil {
			return nil
		}
		m.logger.Warn("migration lookup failed, retrying",
			"lookup", what, "canister", canister.String(), "attempt", attempt+1, "error", lastErr)
		if attempt < migrationLookupAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}
	}
	return lastErr
}
