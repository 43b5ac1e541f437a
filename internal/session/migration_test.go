package session

import (
	"crypto/ecdsa"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"reelgate/internal/auth/oauth"
)

func newMigrationTestClient(t *testing.T) *oauth.Client {
	t.Helper()
	client, err := oauth.NewClient(oauth.Config{
		Issuer:       "https://issuer.example",
		AuthorizeURL: "https://issuer.example/authorize",
		TokenURL:     "https://issuer.example/token",
		ClientID:     "reelgate-test",
	})
	if err != nil {
		t.Fatalf("new oauth client: %v", err)
	}
	return client
}

func decodeMigrationClaims(t *testing.T, signed string, key *ecdsa.PublicKey) *RefreshTokenClaims {
	t.Helper()
	claims := &RefreshTokenClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(token *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		// The manager's clock is frozen by the tests, so exp/iat cannot be
		// checked against the real wall clock; the caller asserts them.
		jwt.WithoutClaimsValidation())
	if err != nil {
		t.Fatalf("parse migration token: %v", err)
	}
	if !token.Valid {
		t.Fatal("migration token invalid")
	}
	if kid, _ := token.Header["kid"].(string); kid != "default" {
		t.Fatalf("kid = %q, want %q", kid, "default")
	}
	return claims
}
