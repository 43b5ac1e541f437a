package session

import (
	"net/http"
	"time"
)

// Cookie names. The refresh cookie carries the signed session reference; the
// CSRF and PKCE cookies only live for the duration of one OAuth handshake.
// The connected/canister cookies are written by the client and read once
// during legacy-to-OAuth migration.
const (
	RefreshTokenCookie     = "reelgate-refresh"
	csrfTokenCookie        = "reelgate-oauth-csrf"
	pkceVerifierCookie     = "reelgate-oauth-pkce"
	accountConnectedCookie = "account-connected"
	userCanisterCookie     = "user-canister-id"
)

// RefreshMaxAge bounds how long a refresh cookie stays valid without a
// successful renewal.
const RefreshMaxAge = 29 * 24 * time.Hour

const handshakeCookieMaxAge = 10 * time.Minute

// The refresh cookie is cross-site by necessity (the app is embedded and
// served from multiple hosts), so SameSite=None with the Partitioned
// attribute keyed to the top-level site.
func refreshCookie(value string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:        RefreshTokenCookie,
		Value:       value,
		Path:        "/",
		MaxAge:      int(maxAge.Seconds()),
		HttpOnly:    true,
		Secure:      true,
		SameSite:    http.SameSiteNoneMode,
		Partitioned: true,
	}
}

func handshakeCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(handshakeCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}

func expiredCookie(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}
