package identity

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDelegateProducesVerifiableChain(t *testing.T) {
	base, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity returned error: %v", err)
	}
	wire, err := Delegate(base)
	if err != nil {
		t.Fatalf("Delegate returned error: %v", err)
	}
	if len(wire.DelegationChain) != 1 {
		t.Fatalf("expected chain of length 1, got %d", len(wire.DelegationChain))
	}
	if err := VerifyChain(wire, time.Now()); err != nil {
		t.Fatalf("VerifyChain returned error: %v", err)
	}

	wantExpiry := time.Now().Add(DelegationMaxAge)
	gotExpiry := time.Unix(0, int64(wire.DelegationChain[0].Delegation.Expiration))
	if diff := gotExpiry.Sub(wantExpiry); diff < -time.Second || diff > time.Second {
		t.Fatalf("expected expiry near %v, got %v", wantExpiry, gotExpiry)
	}
}

func TestDelegatePreservesRootPrincipal(t *testing.T) {
	base, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity returned error: %v", err)
	}
	basePrincipal, err := base.Principal()
	if err != nil {
		t.Fatalf("Principal returned error: %v", err)
	}
	wire, err := Delegate(base)
	if err != nil {
		t.Fatalf("Delegate returned error: %v", err)
	}
	wirePrincipal, err := wire.Principal()
	if err != nil {
		t.Fatalf("wire Principal returned error: %v", err)
	}
	if wirePrincipal != basePrincipal {
		t.Fatalf("expected principal %s, got %s", basePrincipal, wirePrincipal)
	}
}

func TestMultiHopDelegation(t *testing.T) {
	base, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity returned error: %v", err)
	}
	first, err := Delegate(base)
	if err != nil {
		t.Fatalf("Delegate returned error: %v", err)
	}
	middle, err := FromWire(first)
	if err != nil {
		t.Fatalf("FromWire returned error: %v", err)
	}
	second, err := DelegateShortLived(middle)
	if err != nil {
		t.Fatalf("DelegateShortLived returned error: %v", err)
	}
	if len(second.DelegationChain) != 2 {
		t.Fatalf("expected chain of length 2, got %d", len(second.DelegationChain))
	}
	if err := VerifyChain(second, time.Now()); err != nil {
		t.Fatalf("VerifyChain returned error: %v", err)
	}
	basePrincipal, _ := base.Principal()
	if got, _ := second.Principal(); got != basePrincipal {
		t.Fatalf("multi-hop chain changed principal: %s vs %s", got, basePrincipal)
	}
}

func TestVerifyChainRejectsTampering(t *testing.T) {
	base, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity returned error: %v", err)
	}
	other, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity returned error: %v", err)
	}
	wire, err := Delegate(base)
	if err != nil {
		t.Fatalf("Delegate returned error: %v", err)
	}

	// Swap in a different root key: the signature no longer verifies.
	tampered := wire
	tampered.FromKey = other.fromKey
	if err := VerifyChain(tampered, time.Now()); err == nil {
		t.Fatal("expected tampered chain to fail verification")
	}

	// Expired terminal link.
	expired := wire
	expired.DelegationChain = []SignedDelegation{{
		Delegation: Delegation{
			Pubkey:     wire.DelegationChain[0].Delegation.Pubkey,
			Expiration: uint64(time.Now().Add(-time.Hour).UnixNano()),
		},
		Signature: wire.DelegationChain[0].Signature,
	}}
	if err := VerifyChain(expired, time.Now()); err == nil {
		t.Fatal("expected expired chain to fail verification")
	}
}

func TestJWKRoundTrip(t *testing.T) {
	base, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity returned error: %v", err)
	}
	encoded, err := json.Marshal(base.JWK())
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	var decoded JWK
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal jwk: %v", err)
	}
	key, err := decoded.PrivateKey()
	if err != nil {
		t.Fatalf("PrivateKey returned error: %v", err)
	}
	restored := FromPrivateKey(key)
	wantPrincipal, _ := base.Principal()
	gotPrincipal, _ := restored.Principal()
	if gotPrincipal != wantPrincipal {
		t.Fatalf("expected principal %s after round trip, got %s", wantPrincipal, gotPrincipal)
	}
}

func TestParsePrincipal(t *testing.T) {
	base, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity returned error: %v", err)
	}
	principal, err := base.Principal()
	if err != nil {
		t.Fatalf("Principal returned error: %v", err)
	}
	parsed, err := ParsePrincipal(principal.String())
	if err != nil {
		t.Fatalf("ParsePrincipal returned error: %v", err)
	}
	if parsed != principal {
		t.Fatalf("expected %s, got %s", principal, parsed)
	}
	if _, err := ParsePrincipal("not-a-principal"); err == nil {
		t.Fatal("expected error for malformed principal")
	}
}
