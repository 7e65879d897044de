package identity

import (
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	payload := []byte("state-vector-envelope")
	sig := kp.Sign(payload)
	if !Verify(kp.PublicKey, payload, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(kp.PublicKey, []byte("tampered"), sig) {
		t.Fatal("expected signature over different payload to fail")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	raw, err := kp.MarshalPublicKey()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	pub, err := UnmarshalPublicKey(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	payload := []byte("hello")
	sig := kp.Sign(payload)
	if !Verify(pub, payload, sig) {
		t.Fatal("round-tripped public key should still verify")
	}
}

func TestAuthorizerAcceptsScopedToken(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue("replica-1", "replica-1/")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	authz := NewAuthorizer("test-secret")
	if err := authz.Authorize(token, "replica-1", []string{"replica-1", "cursor"}); err != nil {
		t.Fatalf("expected authorization to succeed: %v", err)
	}
}

func TestAuthorizerRejectsWrongReplica(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue("replica-1", "replica-1/")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	authz := NewAuthorizer("test-secret")
	if err := authz.Authorize(token, "replica-2", []string{"replica-2", "cursor"}); err == nil {
		t.Fatal("expected authorization to fail for a different replica")
	}
}

func TestAuthorizerRejectsOutsidePathPrefix(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue("replica-1", "replica-1/cursor")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	authz := NewAuthorizer("test-secret")
	if err := authz.Authorize(token, "replica-1", []string{"replica-1", "profile"}); err == nil {
		t.Fatal("expected authorization to fail outside the scoped prefix")
	}
}
