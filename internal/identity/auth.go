package identity

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims scopes a capability token to a single replica and a path prefix it
// may write under (spec §4.4's identity-gated writes).
type Claims struct {
	ReplicaID  string `json:"replica_id"`
	PathPrefix string `json:"path_prefix"`
	jwt.RegisteredClaims
}

// TokenIssuer mints capability tokens for local Awareness.SetWithToken
// calls. Grounded on the teacher's HMAC-signed JWT session tokens, scoped
// here to a replica id and a Shelf path prefix instead of a user/wallet.
type TokenIssuer struct {
	secretKey []byte
	ttl       time.Duration
}

func NewTokenIssuer(secretKey string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secretKey: []byte(secretKey), ttl: ttl}
}

// Issue mints a token authorizing replicaID to write under pathPrefix.
func (ti *TokenIssuer) Issue(replicaID, pathPrefix string) (string, error) {
	claims := Claims{
		ReplicaID:  replicaID,
		PathPrefix: pathPrefix,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ti.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secretKey)
}

// Authorizer validates capability tokens, satisfying
// awareness.SessionAuthorizer without awareness needing to import this
// package (the interface lives on the consumer side, Go-idiomatically).
type Authorizer struct {
	secretKey []byte
}

func NewAuthorizer(secretKey string) *Authorizer {
	return &Authorizer{secretKey: []byte(secretKey)}
}

// Authorize parses token and checks that its replica id matches replicaID
// and its path prefix is a prefix of path, joined with "/".
func (a *Authorizer) Authorize(token string, replicaID string, path []string) error {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return fmt.Errorf("identity: parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return fmt.Errorf("identity: invalid token")
	}
	if claims.ReplicaID != replicaID {
		return fmt.Errorf("identity: token scoped to replica %q, not %q", claims.ReplicaID, replicaID)
	}
	joined := strings.Join(path, "/")
	if !strings.HasPrefix(joined, claims.PathPrefix) {
		return fmt.Errorf("identity: token scoped to prefix %q does not cover %q", claims.PathPrefix, joined)
	}
	return nil
}
