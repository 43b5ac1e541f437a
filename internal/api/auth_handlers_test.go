package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reelgate/internal/identity"
	"reelgate/internal/session"
)

func TestAnonymousIdentityBootstrap(t *testing.T) {
	env := newTestEnv(t)
	anonymous, cookie := bootstrap(t, env)

	if anonymous.RefreshToken == "" {
		t.Fatal("bootstrap returned an empty refresh token")
	}
	if err := identity.VerifyChain(anonymous.Identity, time.Now()); err != nil {
		t.Fatalf("bootstrap delegation does not verify: %v", err)
	}
	if cookie.Value == "" {
		t.Fatal("refresh cookie has no value")
	}
}

func TestAnonymousIdentityIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := bootstrap(t, env)

	request := jsonRequest(t, http.MethodPost, "/api/auth/anonymous", nil)
	request.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	env.handler.AnonymousIdentity(recorder, request)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("repeat bootstrap status = %d, want %d", recorder.Code, http.StatusNoContent)
	}
}

func TestAnonymousIdentityRejectsGet(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.handler.AnonymousIdentity(recorder, httptest.NewRequest(http.MethodGet, "/api/auth/anonymous", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusMethodNotAllowed)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	anonymous, cookie := bootstrap(t, env)

	request := httptest.NewRequest(http.MethodGet, "/api/auth/identity", nil)
	request.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	env.handler.Identity(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", recorder.Code, http.StatusOK, recorder.Body.String())
	}

	var wire identity.DelegatedIdentityWire
	if err := json.Unmarshal(recorder.Body.Bytes(), &wire); err != nil {
		t.Fatalf("decode identity response: %v", err)
	}
	got, err := wire.Principal()
	if err != nil {
		t.Fatalf("extracted identity principal: %v", err)
	}
	want, err := anonymous.Identity.Principal()
	if err != nil {
		t.Fatalf("bootstrap identity principal: %v", err)
	}
	if got != want {
		t.Fatalf("extracted principal = %s, want %s", got, want)
	}
}

func TestIdentityWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.handler.Identity(recorder, httptest.NewRequest(http.MethodGet, "/api/auth/identity", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusNotFound)
	}
}

func TestSetCookieInstallsToken(t *testing.T) {
	env := newTestEnv(t)
	anonymous, _ := bootstrap(t, env)

	request := jsonRequest(t, http.MethodPost, "/api/auth/cookie", map[string]string{
		"refresh_token": anonymous.RefreshToken,
	})
	recorder := httptest.NewRecorder()
	env.handler.SetCookie(recorder, request)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d (%s)", recorder.Code, http.StatusNoContent, recorder.Body.String())
	}
	cookie := findCookie(t, recorder, session.RefreshTokenCookie)

	lookup := httptest.NewRequest(http.MethodGet, "/api/auth/identity", nil)
	lookup.AddCookie(cookie)
	lookupRecorder := httptest.NewRecorder()
	env.handler.Identity(lookupRecorder, lookup)
	if lookupRecorder.Code != http.StatusOK {
		t.Fatalf("identity after set-cookie status = %d, want %d", lookupRecorder.Code, http.StatusOK)
	}
}

func TestSetCookieRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	request := jsonRequest(t, http.MethodPost, "/api/auth/cookie", map[string]int{"unexpected": 1})
	recorder := httptest.NewRecorder()
	env.handler.SetCookie(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestLogoutMintsFreshIdentity(t *testing.T) {
	env := newTestEnv(t)
	anonymous, cookie := bootstrap(t, env)

	request := jsonRequest(t, http.MethodPost, "/api/auth/logout", nil)
	request.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	env.handler.Logout(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", recorder.Code, http.StatusOK, recorder.Body.String())
	}

	var wire identity.DelegatedIdentityWire
	if err := json.Unmarshal(recorder.Body.Bytes(), &wire); err != nil {
		t.Fatalf("decode logout response: %v", err)
	}
	fresh, err := wire.Principal()
	if err != nil {
		t.Fatalf("logout principal: %v", err)
	}
	old, err := anonymous.Identity.Principal()
	if err != nil {
		t.Fatalf("bootstrap principal: %v", err)
	}
	if fresh == old {
		t.Fatal("logout returned the previous principal")
	}
	findCookie(t, recorder, session.RefreshTokenCookie)
}

func TestDelegateShortLived(t *testing.T) {
	env := newTestEnv(t)
	_, cookie := bootstrap(t, env)

	request := jsonRequest(t, http.MethodPost, "/api/auth/delegate", nil)
	request.AddCookie(cookie)
	recorder := httptest.NewRecorder()
	env.handler.DelegateShortLived(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (%s)", recorder.Code, http.StatusOK, recorder.Body.String())
	}

	var wire identity.DelegatedIdentityWire
	if err := json.Unmarshal(recorder.Body.Bytes(), &wire); err != nil {
		t.Fatalf("decode delegation response: %v", err)
	}
	if err := identity.VerifyChain(wire, time.Now()); err != nil {
		t.Fatalf("short-lived delegation does not verify: %v", err)
	}
	if err := identity.VerifyChain(wire, time.Now().Add(25*time.Hour)); err == nil {
		t.Fatal("short-lived delegation still verifies after 25h")
	}
}

func TestDelegateShortLivedWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.handler.DelegateShortLived(recorder, jsonRequest(t, http.MethodPost, "/api/auth/delegate", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

func TestOAuthEndpointsWithoutIssuer(t *testing.T) {
	env := newTestEnv(t)

	recorder := httptest.NewRecorder()
	env.handler.OAuthBegin(recorder, jsonRequest(t, http.MethodPost, "/api/auth/oauth/begin", nil))
	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("begin status = %d, want %d", recorder.Code, http.StatusNotImplemented)
	}

	recorder = httptest.NewRecorder()
	env.handler.OAuthComplete(recorder, jsonRequest(t, http.MethodPost, "/api/auth/oauth/complete", map[string]string{
		"state": "s", "code": "c",
	}))
	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("complete status = %d, want %d", recorder.Code, http.StatusNotImplemented)
	}
}
