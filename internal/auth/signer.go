package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer issues tokens accepted by a JWTVerifier configured with the
// matching algorithm and key.
type Signer struct {
	method jwt.SigningMethod
	key    any
	now    func() time.Time
}

// NewSigner builds a signer. For HMAC algorithms keyMaterial is the shared
// secret; otherwise it is a PEM encoded private key.
func NewSigner(algorithm string, keyMaterial []byte) (*Signer, error) {
	method, err := signingMethod(algorithm)
	if err != nil {
		return nil, err
	}
	key, err := signingKey(method, keyMaterial)
	if err != nil {
		return nil, err
	}
	return &Signer{method: method, key: key, now: time.Now}, nil
}

// Sign issues a token for subject. A zero ttl produces a token without
// expiry, matching tokens that are only revoked through the directory.
func (s *Signer) Sign(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("sign token: empty subject")
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
