package session

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reelgate/internal/canisters"
	"reelgate/internal/identity"
	"reelgate/internal/kv"
)

type fakeCanisters struct {
	canister      identity.Principal
	owner         identity.Principal
	sessionType   canisters.SessionType
	profileErrs   int
	profileCalls  int
	sessionCalls  int
	updatedTo     canisters.SessionType
	updatedCalled bool
}

func (f *fakeCanisters) GetIndividualCanisterByUserPrincipal(ctx context.Context, user identity.Principal) (identity.Principal, bool, error) {
	if f.canister == "" {
		return "", false, nil
	}
	return f.canister, true, nil
}

func (f *fakeCanisters) GetProfileDetails(ctx context.Context, canister identity.Principal) (canisters.ProfileDetails, error) {
	f.profileCalls++
	if f.profileCalls <= f.profileErrs {
		return canisters.ProfileDetails{}, fmt.Errorf("transient canister error")
	}
	return canisters.ProfileDetails{PrincipalID: f.owner}, nil
}

func (f *fakeCanisters) GetSessionType(ctx context.Context, canister identity.Principal) (canisters.SessionType, error) {
	f.sessionCalls++
	return f.sessionType, nil
}

func (f *fakeCanisters) UpdateSessionType(ctx context.Context, canister identity.Principal, session canisters.SessionType) (canisters.SessionType, error) {
	f.updatedCalled = true
	previous := f.sessionType
	f.sessionType = session
	f.updatedTo = session
	return previous, nil
}

func (f *fakeCanisters) GetPostDetails(ctx context.Context, id canisters.PostID, nsfwProbability float64) (canisters.PostDetails, error) {
	return canisters.PostDetails{}, fmt.Errorf("not implemented")
}

func newTestManager(t *testing.T, store kv.Store) *Manager {
	t.Helper()
	manager, err := NewManager(Config{KV: store, CookieSecret: "test-cookie-secret"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func requestWithCookies(recorder *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, cookie := range recorder.Result().Cookies() {
		req.AddCookie(cookie)
	}
	return req
}

func TestGenerateAnonymousIdentity(t *testing.T) {
	store := kv.NewMemoryStore()
	manager := newTestManager(t, store)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	anon, err := manager.GenerateAnonymousIdentityIfRequired(context.Background(), req)
	if err != nil {
		t.Fatalf("generate anonymous identity: %v", err)
	}
	if anon == nil {
		t.Fatal("expected a fresh identity for a cookie-less request")
	}
	if anon.RefreshToken == "" {
		t.Fatal("expected a refresh token")
	}
	if store.Writes() != 1 {
		t.Fatalf("writes = %d, want 1", store.Writes())
	}
	if err := identity.VerifyChain(anon.Identity, time.Now()); err != nil {
		t.Fatalf("bootstrap delegation does not verify: %v", err)
	}
}

func TestGenerateAnonymousIdentityIsIdempotent(t *testing.T) {
	store := kv.NewMemoryStore()
	manager := newTestManager(t, store)

	recorder := httptest.NewRecorder()
	anon, err := manager.GenerateAnonymousIdentityIfRequired(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := manager.SetAnonymousIdentityCookie(context.Background(), recorder, httptest.NewRequest(http.MethodGet, "/", nil), anon.RefreshToken); err != nil {
		t.Fatalf("set cookie: %v", err)
	}
	writesAfterBootstrap := store.Writes()

	again, err := manager.GenerateAnonymousIdentityIfRequired(context.Background(), requestWithCookies(recorder))
	if err != nil {
		t.Fatalf("repeat bootstrap: %v", err)
	}
	if again != nil {
		t.Fatal("expected no-op when the refresh cookie is already present")
	}
	if store.Writes() != writesAfterBootstrap {
		t.Fatalf("writes = %d, want %d (no new keys on repeat visits)", store.Writes(), writesAfterBootstrap)
	}
}

func TestExtractIdentityRoundTrip(t *testing.T) {
	store := kv.NewMemoryStore()
	manager := newTestManager(t, store)

	recorder := httptest.NewRecorder()
	anon, err := manager.GenerateAnonymousIdentityIfRequired(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := manager.SetAnonymousIdentityCookie(context.Background(), recorder, httptest.NewRequest(http.MethodGet, "/", nil), anon.RefreshToken); err != nil {
		t.Fatalf("set cookie: %v", err)
	}

	wire, err := manager.ExtractIdentity(context.Background(), requestWithCookies(recorder))
	if err != nil {
		t.Fatalf("extract identity: %v", err)
	}
	if wire == nil {
		t.Fatal("expected an identity for a cookied request")
	}
	got, err := wire.Principal()
	if err != nil {
		t.Fatalf("principal from extracted wire: %v", err)
	}
	want, err := anon.Identity.Principal()
	if err != nil {
		t.Fatalf("principal from bootstrap wire: %v", err)
	}
	if got != want {
		t.Fatalf("extracted principal = %s, want %s", got, want)
	}
}

func TestExtractIdentityWithoutCookie(t *testing.T) {
	manager := newTestManager(t, kv.NewMemoryStore())

	wire, err := manager.ExtractIdentity(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("extract identity: %v", err)
	}
	if wire != nil {
		t.Fatal("expected nil identity for a cookie-less request")
	}
}

func TestExtractIdentityExpiredToken(t *testing.T) {
	store := kv.NewMemoryStore()
	past := time.Now().Add(-60 * 24 * time.Hour)
	manager, err := NewManager(Config{KV: store, CookieSecret: "test-cookie-secret"}, WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	recorder := httptest.NewRecorder()
	anon, err := manager.GenerateAnonymousIdentityIfRequired(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := manager.SetAnonymousIdentityCookie(context.Background(), recorder, httptest.NewRequest(http.MethodGet, "/", nil), anon.RefreshToken); err != nil {
		t.Fatalf("set cookie: %v", err)
	}

	current := newTestManager(t, store)
	wire, err := current.ExtractIdentity(context.Background(), requestWithCookies(recorder))
	if err != nil {
		t.Fatalf("extract identity: %v", err)
	}
	if wire != nil {
		t.Fatal("expected an expired refresh token to yield no identity")
	}
}

func TestLogoutMintsFreshIdentity(t *testing.T) {
	store := kv.NewMemoryStore()
	manager := newTestManager(t, store)

	first, err := manager.GenerateAnonymousIdentityIfRequired(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	firstPrincipal, err := first.Identity.Principal()
	if err != nil {
		t.Fatalf("first principal: %v", err)
	}

	recorder := httptest.NewRecorder()
	wire, err := manager.LogoutIdentity(context.Background(), recorder)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	second, err := wire.Principal()
	if err != nil {
		t.Fatalf("second principal: %v", err)
	}
	if second == firstPrincipal {
		t.Fatal("logout must mint a distinct principal")
	}
	// The previous key stays in the store so old delegations can still be
	// resolved until they expire.
	if _, ok, err := store.Read(context.Background(), firstPrincipal.String()); err != nil || !ok {
		t.Fatalf("previous key missing after logout: ok=%v err=%v", ok, err)
	}
	if len(recorder.Result().Cookies()) == 0 {
		t.Fatal("logout must install a new refresh cookie")
	}
}

func TestLogoutTwiceYieldsDistinctPrincipals(t *testing.T) {
	manager := newTestManager(t, kv.NewMemoryStore())

	a, err := manager.LogoutIdentity(context.Background(), httptest.NewRecorder())
	if err != nil {
		t.Fatalf("first logout: %v", err)
	}
	b, err := manager.LogoutIdentity(context.Background(), httptest.NewRecorder())
	if err != nil {
		t.Fatalf("second logout: %v", err)
	}
	pa, _ := a.Principal()
	pb, _ := b.Principal()
	if pa == pb {
		t.Fatal("consecutive logouts must not reuse a principal")
	}
}

func TestDelegateShortLived(t *testing.T) {
	store := kv.NewMemoryStore()
	manager := newTestManager(t, store)

	recorder := httptest.NewRecorder()
	anon, err := manager.GenerateAnonymousIdentityIfRequired(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := manager.SetAnonymousIdentityCookie(context.Background(), recorder, httptest.NewRequest(http.MethodGet, "/", nil), anon.RefreshToken); err != nil {
		t.Fatalf("set cookie: %v", err)
	}

	wire, err := manager.DelegateShortLived(context.Background(), requestWithCookies(recorder))
	if err != nil {
		t.Fatalf("short-lived delegation: %v", err)
	}
	if err := identity.VerifyChain(wire, time.Now()); err != nil {
		t.Fatalf("short-lived chain does not verify: %v", err)
	}
	if err := identity.VerifyChain(wire, time.Now().Add(25*time.Hour)); err == nil {
		t.Fatal("short-lived delegation must not outlive 24 hours")
	}
}

func TestDelegateShortLivedWithoutSession(t *testing.T) {
	manager := newTestManager(t, kv.NewMemoryStore())

	_, err := manager.DelegateShortLived(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestVerifyConnectedAccountRetriesTransientErrors(t *testing.T) {
	owner, err := identity.NewIdentity()
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	principal, err := owner.Principal()
	if err != nil {
		t.Fatalf("principal: %v", err)
	}
	canister := principal

	fake := &fakeCanisters{canister: canister, owner: principal, sessionType: canisters.SessionTypeRegistered, profileErrs: 2}
	manager, err := NewManager(Config{
		KV:           kv.NewMemoryStore(),
		Canisters:    fake,
		CookieSecret: "test-cookie-secret",
	}, WithRetryDelay(0))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	anonymous, err := manager.verifyConnectedAccount(context.Background(), principal, canister)
	if err != nil {
		t.Fatalf("verify connected account: %v", err)
	}
	if anonymous {
		t.Fatal("registered session must not be reported anonymous")
	}
	if fake.profileCalls != 3 {
		t.Fatalf("profile lookups = %d, want 3 (two transient failures then success)", fake.profileCalls)
	}
}

func TestVerifyConnectedAccountRejectsForeignPrincipal(t *testing.T) {
	owner, _ := identity.NewIdentity()
	intruder, _ := identity.NewIdentity()
	ownerPrincipal, _ := owner.Principal()
	intruderPrincipal, _ := intruder.Principal()

	fake := &fakeCanisters{canister: ownerPrincipal, owner: ownerPrincipal, sessionType: canisters.SessionTypeRegistered}
	manager, err := NewManager(Config{
		KV:           kv.NewMemoryStore(),
		Canisters:    fake,
		CookieSecret: "test-cookie-secret",
	}, WithRetryDelay(0))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	_, err = manager.verifyConnectedAccount(context.Background(), intruderPrincipal, ownerPrincipal)
	if !errors.Is(err, ErrPrincipalMismatch) {
		t.Fatalf("err = %v, want ErrPrincipalMismatch", err)
	}
	if fake.profileCalls != 1 {
		t.Fatalf("profile lookups = %d, want 1 (ownership failures never retry)", fake.profileCalls)
	}
}

func TestRefreshTokenCookieRoundTrip(t *testing.T) {
	codec, err := newCookieCodec("round-trip-secret")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	encoded := codec.Encode("payload")
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != "payload" {
		t.Fatalf("decoded = %q, want %q", decoded, "payload")
	}

	other, err := newCookieCodec("different-secret")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	if _, err := other.Decode(encoded); !errors.Is(err, ErrCookieSignature) {
		t.Fatalf("err = %v, want ErrCookieSignature", err)
	}
}

func TestMigrationRefreshTokenClaims(t *testing.T) {
	signingKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	base, _ := identity.NewIdentity()
	principal, _ := base.Principal()

	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manager := &Manager{
		oauth:      newMigrationTestClient(t),
		signingKey: signingKey,
		now:        func() time.Time { return issued },
	}

	signed, err := manager.migrateIdentityToOAuth(context.Background(), principal, "", true)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	claims := decodeMigrationClaims(t, signed, &signingKey.PublicKey)
	if claims.Subject != principal.String() {
		t.Fatalf("sub = %q, want %q", claims.Subject, principal)
	}
	if !claims.ExtIsAnonymous {
		t.Fatal("anonymous migration must carry ext_is_anonymous=true")
	}
	if got := claims.ExpiresAt.Time; !got.Equal(issued.Add(RefreshMaxAge)) {
		t.Fatalf("exp = %v, want %v", got, issued.Add(RefreshMaxAge))
	}
}
