// Package clockhash implements the fixed hash function H that binds a
// SecureClock to the value it stamps (spec §3.2, §4.2). Every replica must
// compute the same hash for the same (counter, value) pair, so the key is
// fixed module-wide rather than per-replica.
package clockhash

import (
	"encoding/binary"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

// moduleKey is not a secret: it exists only so every replica derives the
// same blake2b instance, not to keep the hash confidential. Secrecy is not
// the property SecureClock needs; cross-replica agreement is.
var moduleKey = []byte("shelfcrdt/secure-clock/v1")

// H hashes (counter, value) down to 64 bits, matching spec §3.2's
// `H((counter, value))`. value is passed pre-serialized (its stable JSON
// wire form) so the hash is defined purely in terms of bytes, not of any
// particular in-memory representation.
func H(counter uint64, valueJSON []byte) uint64 {
	mac, err := blake2b.New256(moduleKey)
	if err != nil {
		// moduleKey's length is always valid for blake2b-256 keys (<=64 bytes).
		panic(err)
	}
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)
	mac.Write(counterBytes[:])
	mac.Write(valueJSON)
	sum := mac.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// HashMarshaler is implemented by anything whose canonical wire form can be
// hashed directly, avoiding a round-trip through interface{}.
type HashMarshaler interface {
	MarshalJSON() ([]byte, error)
}

// HashOf hashes any JSON-marshalable payload under H.
func HashOf(counter uint64, payload HashMarshaler) (uint64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	return H(counter, b), nil
}
