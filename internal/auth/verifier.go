// Package auth validates the bearer tokens peers present during the relay
// handshake and issues them for operators.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrVerification is matched by every token verification failure.
var ErrVerification = errors.New("token verification failed")

var errAlgorithm = errors.New("unexpected signing algorithm")

// Reason classifies a verification failure for server-side logs. It is never
// sent to the remote peer.
type Reason string

// Verification failure reasons.
const (
	ReasonMalformed      Reason = "malformed"
	ReasonSignature      Reason = "signature"
	ReasonExpired        Reason = "expired"
	ReasonNotYetValid    Reason = "not_yet_valid"
	ReasonAlgorithm      Reason = "algorithm"
	ReasonMissingSubject Reason = "missing_subject"
	ReasonInvalid        Reason = "invalid"
)

// VerificationError is the single failure value returned by a Verifier.
type VerificationError struct {
	Reason Reason
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token verification failed: %s", e.Reason)
	}
	return fmt.Sprintf("token verification failed: %s: %v", e.Reason, e.Err)
}

// Is makes errors.Is(err, ErrVerification) hold for every VerificationError.
func (e *VerificationError) Is(target error) bool {
	return target == ErrVerification
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Verifier checks a credential and returns the identity it was issued to.
type Verifier interface {
	Verify(token string) (string, error)
}

// JWTVerifier verifies JSON Web Tokens signed with one pinned algorithm.
type JWTVerifier struct {
	method jwt.SigningMethod
	key    any
	parser *jwt.Parser
}

// NewJWTVerifier builds a verifier for the given algorithm. For HMAC
// algorithms keyMaterial is the shared secret; otherwise it is a PEM encoded
// public key.
func NewJWTVerifier(algorithm string, keyMaterial []byte) (*JWTVerifier, error) {
	method, err := signingMethod(algorithm)
	if err != nil {
		return nil, err
	}
	key, err := verificationKey(method, keyMaterial)
	if err != nil {
		return nil, err
	}

	return &JWTVerifier{
		method: method,
		key:    key,
		parser: jwt.NewParser(),
	}, nil
}

// Algorithm returns the pinned algorithm name.
func (v *JWTVerifier) Algorithm() string {
	return v.method.Alg()
}

// Verify validates signature, algorithm and time claims and returns the
// subject. Expiry and not-before are only enforced when present.
func (v *JWTVerifier) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		return "", &VerificationError{Reason: classify(err), Err: err}
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", &VerificationError{Reason: ReasonMissingSubject}
	}
	return subject, nil
}

func (v *JWTVerifier) keyFunc(token *jwt.Token) (any, error) {
	if token.Method == nil || token.Method.Alg() != v.method.Alg() {
		return nil, errAlgorithm
	}
	return v.key, nil
}

func classify(err error) Reason {
	switch {
	case errors.Is(err, errAlgorithm):
		return ReasonAlgorithm
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ReasonSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ReasonNotYetValid
	default:
		return ReasonInvalid
	}
}
