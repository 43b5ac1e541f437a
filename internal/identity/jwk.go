package identity

import (
	"encoding/base64"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// JWK is the JSON Web Key encoding of a secp256k1 keypair. Private keys are
// stored in the KV store in this form so they survive process restarts and
// can be handed to delegated-identity consumers on the wire.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	D   string `json:"d,omitempty"`
}

const (
	jwkKeyType = "EC"
	jwkCurve   = "secp256k1"

	coordinateLen = 32
)

// JWKFromPrivateKey encodes the private key, including the private scalar.
func JWKFromPrivateKey(key *btcec.PrivateKey) JWK {
	pub := key.PubKey()
	return JWK{
		Kty: jwkKeyType,
		Crv: jwkCurve,
		X:   encodeCoordinate(pub.X().Bytes()),
		Y:   encodeCoordinate(pub.Y().Bytes()),
		D:   encodeCoordinate(key.Serialize()),
	}
}

// PrivateKey decodes the private scalar carried by the JWK.
func (j JWK) PrivateKey() (*btcec.PrivateKey, error) {
	if j.Kty != jwkKeyType || j.Crv != jwkCurve {
		return nil, fmt.Errorf("unsupported jwk key type %s/%s", j.Kty, j.Crv)
	}
	if j.D == "" {
		return nil, fmt.Errorf("jwk carries no private scalar")
	}
	scalar, err := base64.RawURLEncoding.DecodeString(j.D)
	if err != nil {
		return nil, fmt.Errorf("decode jwk scalar: %w", err)
	}
	if len(scalar) != coordinateLen {
		return nil, fmt.Errorf("jwk scalar has %d bytes, want %d", len(scalar), coordinateLen)
	}
	key, _ := btcec.PrivKeyFromBytes(scalar)
	return key, nil
}

func encodeCoordinate(value []byte) string {
	padded := make([]byte, coordinateLen)
	copy(padded[coordinateLen-len(value):], value)
	return base64.RawURLEncoding.EncodeToString(padded)
}
