package identity

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"
)

// selfAuthenticatingTag terminates the digest of a principal derived from a
// public key, distinguishing it from opaque (registry-assigned) principals.
const selfAuthenticatingTag = 0x02

const principalRawLen = sha256.Size224 + 1

// Principal is the self-authenticating fingerprint of a public key. The text
// form (base58 of the tagged SHA-224 digest) is used as the KV key for stored
// identity material and as the subject of refresh tokens.
type Principal string

// PrincipalFromPublicKey derives the principal owned by the holder of the
// corresponding private key.
func PrincipalFromPublicKey(pub *btcec.PublicKey) Principal {
	digest := sha256.Sum224(pub.SerializeCompressed())
	raw := make([]byte, 0, principalRawLen)
	raw = append(raw, digest[:]...)
	raw = append(raw, selfAuthenticatingTag)
	return Principal(base58.Encode(raw))
}

// ParsePrincipal validates the text representation of a principal.
func ParsePrincipal(text string) (Principal, error) {
	raw, err := base58.Decode(text)
	if err != nil {
		return "", fmt.Errorf("decode principal: %w", err)
	}
	if len(raw) != principalRawLen {
		return "", fmt.Errorf("principal has %d bytes, want %d", len(raw), principalRawLen)
	}
	if raw[len(raw)-1] != selfAuthenticatingTag {
		return "", fmt.Errorf("principal is not self-authenticating")
	}
	return Principal(text), nil
}

func (p Principal) String() string { return string(p) }
