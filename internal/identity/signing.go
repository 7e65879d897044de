// Package identity provides per-replica Dilithium-3 signing keys and
// JWT-backed capability tokens, the EXPANDED identity layer of §4.5/§4.4.
package identity

import (
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// KeyPair is a replica's post-quantum signing identity, used to sign every
// outbound protocol envelope and to verify inbound ones (spec §4.5).
type KeyPair struct {
	PublicKey  sign.PublicKey
	PrivateKey sign.PrivateKey
	scheme     sign.Scheme
}

// GenerateKeyPair creates a new Dilithium-3 key pair for a replica.
func GenerateKeyPair() (*KeyPair, error) {
	scheme := mode3.Scheme()
	pub, priv, err := scheme.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: pub, PrivateKey: priv, scheme: scheme}, nil
}

// Sign produces a detached signature over an envelope's payload bytes.
func (kp *KeyPair) Sign(payload []byte) []byte {
	return kp.scheme.Sign(kp.PrivateKey, payload, nil)
}

// Verify checks a detached signature against a public key, independent of
// any particular KeyPair instance (used when verifying a peer's envelope).
func Verify(pub sign.PublicKey, payload, signature []byte) bool {
	return mode3.Scheme().Verify(pub, payload, signature, nil)
}

// MarshalPublicKey renders the public key for inclusion in a Hello envelope.
func (kp *KeyPair) MarshalPublicKey() ([]byte, error) {
	return kp.PublicKey.MarshalBinary()
}

// UnmarshalPublicKey parses a public key received in a Hello envelope.
func UnmarshalPublicKey(data []byte) (sign.PublicKey, error) {
	return mode3.Scheme().UnmarshalBinaryPublicKey(data)
}
