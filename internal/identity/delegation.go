package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Delegation authorises a new ephemeral key to act on behalf of a longer-lived
// key until the expiration timestamp (nanoseconds since the Unix epoch).
type Delegation struct {
	Pubkey     []byte      `json:"pubkey"`
	Expiration uint64      `json:"expiration"`
	Targets    []Principal `json:"targets,omitempty"`
}

// SignedDelegation pairs a delegation with the DER signature produced by the
// key it delegates from.
type SignedDelegation struct {
	Delegation Delegation `json:"delegation"`
	Signature  []byte     `json:"signature"`
}

// DelegatedIdentityWire is the transferable form of a delegated identity:
// the root public key, the ephemeral private key, and the full chain so any
// verifier can walk it back to the root.
type DelegatedIdentityWire struct {
	FromKey         []byte             `json:"from_key"`
	ToSecret        JWK                `json:"to_secret"`
	DelegationChain []SignedDelegation `json:"delegation_chain"`
}

// Principal returns the principal the wire identity acts as, derived from the
// root key of the chain.
func (w DelegatedIdentityWire) Principal() (Principal, error) {
	pub, err := btcec.ParsePubKey(w.FromKey)
	if err != nil {
		return "", fmt.Errorf("parse from_key: %w", err)
	}
	return PrincipalFromPublicKey(pub), nil
}

var (
	// ErrChainEmpty reports a wire identity without a single delegation.
	ErrChainEmpty = errors.New("delegation chain is empty")
	// ErrChainExpired reports a chain whose terminal link has lapsed.
	ErrChainExpired = errors.New("delegation chain expired")
	// ErrBadSignature reports a link that does not verify against the
	// preceding key in the chain.
	ErrBadSignature = errors.New("delegation signature invalid")
)

// delegationDomainSep prefixes every signed delegation digest so signatures
// cannot be replayed as signatures over other request types.
const delegationDomainSep = "\x1areelgate-auth-delegation"

func (d Delegation) digest() [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(delegationDomainSep))
	h.Write(d.Pubkey)
	var expiry [8]byte
	binary.BigEndian.PutUint64(expiry[:], d.Expiration)
	h.Write(expiry[:])
	for _, target := range d.Targets {
		h.Write([]byte(target))
	}
	var digest [sha256.Size]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

func signDelegation(key *btcec.PrivateKey, d Delegation) SignedDelegation {
	digest := d.digest()
	sig := btcecdsa.Sign(key, digest[:])
	return SignedDelegation{Delegation: d, Signature: sig.Serialize()}
}

// VerifyChain walks the delegation chain from the root key, checking every
// link's signature against the preceding key, that the terminal link has not
// expired, and that the chain terminates in the wire's ephemeral key.
func VerifyChain(w DelegatedIdentityWire, now time.Time) error {
	if len(w.DelegationChain) == 0 {
		return ErrChainEmpty
	}
	current, err := btcec.ParsePubKey(w.FromKey)
	if err != nil {
		return fmt.Errorf("parse from_key: %w", err)
	}
	for i, link := range w.DelegationChain {
		digest := link.Delegation.digest()
		sig, err := btcecdsa.ParseDERSignature(link.Signature)
		if err != nil {
			return fmt.Errorf("parse signature of link %d: %w", i, err)
		}
		if !sig.Verify(digest[:], current) {
			return fmt.Errorf("link %d: %w", i, ErrBadSignature)
		}
		current, err = btcec.ParsePubKey(link.Delegation.Pubkey)
		if err != nil {
			return fmt.Errorf("parse pubkey of link %d: %w", i, err)
		}
	}
	terminal := w.DelegationChain[len(w.DelegationChain)-1].Delegation
	if terminal.Expiration <= uint64(now.UnixNano()) {
		return ErrChainExpired
	}
	toKey, err := w.ToSecret.PrivateKey()
	if err != nil {
		return fmt.Errorf("decode to_secret: %w", err)
	}
	if !toKey.PubKey().IsEqual(current) {
		return fmt.Errorf("to_secret does not match terminal delegation: %w", ErrBadSignature)
	}
	return nil
}
