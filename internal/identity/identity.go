// Package identity implements secp256k1 identities, self-authenticating
// principals, and the signed delegation chains handed to clients as
// short-lived credentials.
package identity

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Delegation lifetimes. The long form backs a browsing session, the short
// form signs a single operation (an upload or a bet) and is never persisted.
const (
	DelegationMaxAge           = 7 * 24 * time.Hour
	ShortLivedDelegationMaxAge = 24 * time.Hour
)

// Identity is a signing identity: a private key plus the delegation chain
// that links it back to a long-term-trusted root key. A freshly generated
// base identity has an empty chain and is its own root.
type Identity struct {
	key     *btcec.PrivateKey
	fromKey []byte
	chain   []SignedDelegation
}

// NewIdentity generates a fresh base identity.
func NewIdentity() (*Identity, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	return FromPrivateKey(key), nil
}

// FromPrivateKey wraps an existing base private key.
func FromPrivateKey(key *btcec.PrivateKey) *Identity {
	return &Identity{key: key, fromKey: key.PubKey().SerializeCompressed()}
}

// FromWire reconstructs a signing identity from its wire form. The returned
// identity signs with the ephemeral key but answers to the root principal.
func FromWire(w DelegatedIdentityWire) (*Identity, error) {
	key, err := w.ToSecret.PrivateKey()
	if err != nil {
		return nil, err
	}
	chain := make([]SignedDelegation, len(w.DelegationChain))
	copy(chain, w.DelegationChain)
	return &Identity{key: key, fromKey: w.FromKey, chain: chain}, nil
}

// Principal returns the principal of the chain's root key.
func (id *Identity) Principal() (Principal, error) {
	pub, err := btcec.ParsePubKey(id.fromKey)
	if err != nil {
		return "", fmt.Errorf("parse root key: %w", err)
	}
	return PrincipalFromPublicKey(pub), nil
}

// JWK exports the identity's private key for persistence.
func (id *Identity) JWK() JWK {
	return JWKFromPrivateKey(id.key)
}

// Delegate issues a 7-day delegated identity signed by this identity.
func Delegate(from *Identity) (DelegatedIdentityWire, error) {
	return delegateWithMaxAge(from, DelegationMaxAge)
}

// DelegateShortLived issues a 24-hour delegated identity for one-shot
// signing operations.
func DelegateShortLived(from *Identity) (DelegatedIdentityWire, error) {
	return delegateWithMaxAge(from, ShortLivedDelegationMaxAge)
}

func delegateWithMaxAge(from *Identity, maxAge time.Duration) (DelegatedIdentityWire, error) {
	toSecret, err := btcec.NewPrivateKey()
	if err != nil {
		return DelegatedIdentityWire{}, fmt.Errorf("generate ephemeral key: %w", err)
	}
	expiry := time.Now().Add(maxAge)
	delegation := Delegation{
		Pubkey:     toSecret.PubKey().SerializeCompressed(),
		Expiration: uint64(expiry.UnixNano()),
	}
	// The signature comes from this identity's current key, never the new
	// ephemeral one. For a base identity that is the root key itself; for a
	// delegated identity it is the previous chain target, extending the hop.
	signed := signDelegation(from.key, delegation)

	chain := make([]SignedDelegation, 0, len(from.chain)+1)
	chain = append(chain, from.chain...)
	chain = append(chain, signed)

	return DelegatedIdentityWire{
		FromKey:         append([]byte(nil), from.fromKey...),
		ToSecret:        JWKFromPrivateKey(toSecret),
		DelegationChain: chain,
	}, nil
}
