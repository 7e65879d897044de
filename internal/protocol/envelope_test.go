package protocol

import (
	"errors"
	"testing"

	"github.com/shelfcrdt/shelf/internal/identity"
)

func TestSealMarshalParseRoundTrip(t *testing.T) {
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	env := Seal(MsgDelta, "replica-a", "replica-b", []byte("payload"), kp)

	data, err := Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if got.Type != MsgDelta || got.Sender != "replica-a" || got.Recipient != "replica-b" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if string(got.Payload) != "payload" {
		t.Fatalf("payload mismatch: %q", got.Payload)
	}

	pub, err := kp.MarshalPublicKey()
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubKey, err := identity.UnmarshalPublicKey(pub)
	if err != nil {
		t.Fatalf("unmarshal public key: %v", err)
	}
	if !identity.Verify(pubKey, got.Payload, got.Signature) {
		t.Fatal("expected the round-tripped signature to verify")
	}
}

func TestParseEnvelopeRejectsMalformedJSON(t *testing.T) {
	_, err := ParseEnvelope([]byte("{not json"))
	if err == nil {
		t.Fatal("expected an error decoding malformed JSON")
	}
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestSealedEnvelopeFailsVerificationWithWrongKey(t *testing.T) {
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	other, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate other key pair: %v", err)
	}

	env := Seal(MsgHello, "replica-a", "", []byte("hello-payload"), kp)

	otherPub, err := other.MarshalPublicKey()
	if err != nil {
		t.Fatalf("marshal other public key: %v", err)
	}
	wrongKey, err := identity.UnmarshalPublicKey(otherPub)
	if err != nil {
		t.Fatalf("unmarshal other public key: %v", err)
	}

	if identity.Verify(wrongKey, env.Payload, env.Signature) {
		t.Fatal("expected verification to fail against an unrelated key")
	}
}

func TestSealedEnvelopeFailsVerificationWhenPayloadTampered(t *testing.T) {
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	env := Seal(MsgStateVector, "replica-a", "", []byte("original"), kp)

	pub, err := kp.MarshalPublicKey()
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubKey, err := identity.UnmarshalPublicKey(pub)
	if err != nil {
		t.Fatalf("unmarshal public key: %v", err)
	}

	tampered := append([]byte(nil), "tampered!"...)
	if identity.Verify(pubKey, tampered, env.Signature) {
		t.Fatal("expected verification to fail once the payload is tampered with")
	}
}
