package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/shelfcrdt/shelf/internal/identity"
)

// MessageType enumerates the wire envelope's tagged union (spec §6).
type MessageType string

const (
	MsgHello       MessageType = "hello"
	MsgStateVector MessageType = "state_vector"
	MsgDelta       MessageType = "delta"
	MsgTerminate   MessageType = "terminate"
)

// Envelope is the one wire message shape every variant rides in. Payload
// holds the variant-specific body (a shelf.StateVector, a shelf.Shelf
// delta, a HelloPayload, or nothing for Terminate); Signature is a
// detached Dilithium signature over Payload, added by the EXPANDED
// identity layer of spec §4.5.
type Envelope struct {
	Type      MessageType `json:"type"`
	Sender    string      `json:"sender"`
	Recipient string      `json:"recipient,omitempty"`
	Network   string      `json:"network,omitempty"`
	Payload   []byte      `json:"payload,omitempty"`
	Signature []byte      `json:"signature,omitempty"`
}

// HelloPayload is exchanged once per newly observed peer so recipients can
// cache the sender's Dilithium public key for later signature verification.
type HelloPayload struct {
	PublicKey []byte `json:"public_key"`
}

// Seal signs payload with signer and wraps it in an Envelope ready to hand
// to a Transport.
func Seal(typ MessageType, sender, recipient string, payload []byte, signer *identity.KeyPair) Envelope {
	return Envelope{
		Type:      typ,
		Sender:    sender,
		Recipient: recipient,
		Payload:   payload,
		Signature: signer.Sign(payload),
	}
}

// Marshal and ParseEnvelope round-trip an Envelope across a Transport.
func Marshal(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal envelope: %w", err)
	}
	return data, nil
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: %w: %v", ErrDecode, err)
	}
	return env, nil
}
