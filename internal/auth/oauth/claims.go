package oauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"reelgate/internal/identity"
)

// IdentityClaims are the claims carried by the issuer's ID tokens. Beyond the
// registered set, the issuer embeds the pre-delegated identity wire and an
// anonymity flag.
type IdentityClaims struct {
	jwt.RegisteredClaims
	ExtIsAnonymous       bool                           `json:"ext_is_anonymous"`
	ExtDelegatedIdentity identity.DelegatedIdentityWire `json:"ext_delegated_identity"`
}

// DecodeIDToken extracts the identity claims from an ID token and checks that
// the embedded delegated identity's principal matches the claim subject.
//
// TODO: verify the token signature against the issuer's JWKS once the issuer
// publishes one; today the token arrives over the issuer's TLS channel only.
func DecodeIDToken(idToken string) (IdentityClaims, error) {
	var claims IdentityClaims
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, &claims); err != nil {
		return IdentityClaims{}, fmt.Errorf("parse id token: %w", err)
	}
	principal, err := claims.ExtDelegatedIdentity.Principal()
	if err != nil {
		return IdentityClaims{}, fmt.Errorf("id token delegated identity: %w", err)
	}
	if claims.Subject != "" && claims.Subject != principal.String() {
		return IdentityClaims{}, fmt.Errorf("id token subject %s does not match delegated identity %s", claims.Subject, principal)
	}
	return claims, nil
}
