package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("relay-test-secret")

func newHS256(t *testing.T) (*Signer, *JWTVerifier) {
	t.Helper()
	signer, err := NewSigner("HS256", testSecret)
	require.NoError(t, err)
	verifier, err := NewJWTVerifier("HS256", testSecret)
	require.NoError(t, err)
	return signer, verifier
}

func requireReason(t *testing.T, err error, reason Reason) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVerification), "expected ErrVerification, got %v", err)

	var verr *VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, reason, verr.Reason)
}

func TestVerifyReturnsSubject(t *testing.T) {
	signer, verifier := newHS256(t)

	token, err := signer.Sign("lobby", time.Hour)
	require.NoError(t, err)

	subject, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "lobby", subject)
}

func TestVerifyWithoutExpiry(t *testing.T) {
	signer, verifier := newHS256(t)

	token, err := signer.Sign("survival", 0)
	require.NoError(t, err)

	subject, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "survival", subject)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	signer, verifier := newHS256(t)
	signer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := signer.Sign("lobby", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	requireReason(t, err, ReasonExpired)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	_, verifier := newHS256(t)
	other, err := NewSigner("HS256", []byte("another-secret"))
	require.NoError(t, err)

	token, err := other.Sign("lobby", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	requireReason(t, err, ReasonSignature)
}

func TestVerifyRejectsOtherAlgorithm(t *testing.T) {
	_, verifier := newHS256(t)
	other, err := NewSigner("HS512", testSecret)
	require.NoError(t, err)

	token, err := other.Sign("lobby", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	requireReason(t, err, ReasonAlgorithm)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	_, verifier := newHS256(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "lobby"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	requireReason(t, err, ReasonAlgorithm)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	_, verifier := newHS256(t)

	for _, token := range []string{"", "abc", "a.b", "a.b.c"} {
		_, err := verifier.Verify(token)
		requireReason(t, err, ReasonMalformed)
	}
}

func TestVerifyRequiresSubject(t *testing.T) {
	_, verifier := newHS256(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	requireReason(t, err, ReasonMissingSubject)
}

func TestVerifyRejectsNotYetValid(t *testing.T) {
	_, verifier := newHS256(t)

	claims := jwt.RegisteredClaims{
		Subject:   "lobby",
		NotBefore: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	requireReason(t, err, ReasonNotYetValid)
}

func TestEd25519KeyPair(t *testing.T) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	privateDER, err := x509.MarshalPKCS8PrivateKey(private)
	require.NoError(t, err)
	publicDER, err := x509.MarshalPKIXPublicKey(public)
	require.NoError(t, err)

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	signer, err := NewSigner("eddsa", privatePEM)
	require.NoError(t, err)
	verifier, err := NewJWTVerifier("EdDSA", publicPEM)
	require.NoError(t, err)
	assert.Equal(t, "EdDSA", verifier.Algorithm())

	token, err := signer.Sign("hub", time.Minute)
	require.NoError(t, err)

	subject, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "hub", subject)
}

func TestConstructorErrors(t *testing.T) {
	_, err := NewJWTVerifier("XX999", testSecret)
	assert.Error(t, err)

	_, err = NewJWTVerifier("HS256", nil)
	assert.Error(t, err)

	_, err = NewJWTVerifier("RS256", []byte("not a pem"))
	assert.Error(t, err)

	_, err = NewSigner("ES256", []byte("not a pem"))
	assert.Error(t, err)
}

func TestIsHMAC(t *testing.T) {
	assert.True(t, IsHMAC("hs256"))
	assert.True(t, IsHMAC("HS512"))
	assert.False(t, IsHMAC("RS256"))
	assert.False(t, IsHMAC("bogus"))
}
