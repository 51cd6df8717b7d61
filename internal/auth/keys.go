package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SupportedAlgorithms lists the algorithm names accepted in configuration.
var SupportedAlgorithms = []string{
	"HS256", "HS384", "HS512",
	"RS256", "RS384", "RS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

func signingMethod(algorithm string) (jwt.SigningMethod, error) {
	name := strings.TrimSpace(algorithm)
	if strings.EqualFold(name, "eddsa") {
		name = "EdDSA"
	} else {
		name = strings.ToUpper(name)
	}

	for _, supported := range SupportedAlgorithms {
		if supported == name {
			return jwt.GetSigningMethod(name), nil
		}
	}
	return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
}

// IsHMAC reports whether algorithm uses a shared secret.
func IsHMAC(algorithm string) bool {
	method, err := signingMethod(algorithm)
	if err != nil {
		return false
	}
	_, ok := method.(*jwt.SigningMethodHMAC)
	return ok
}

func verificationKey(method jwt.SigningMethod, material []byte) (any, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("missing key material for %s", method.Alg())
	}

	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		return material, nil
	case *jwt.SigningMethodRSA:
		key, err := jwt.ParseRSAPublicKeyFromPEM(material)
		if err != nil {
			return nil, fmt.Errorf("parse RSA public key: %w", err)
		}
		return key, nil
	case *jwt.SigningMethodECDSA:
		key, err := jwt.ParseECPublicKeyFromPEM(material)
		if err != nil {
			return nil, fmt.Errorf("parse EC public key: %w", err)
		}
		return key, nil
	case *jwt.SigningMethodEd25519:
		key, err := jwt.ParseEdPublicKeyFromPEM(material)
		if err != nil {
			return nil, fmt.Errorf("parse Ed25519 public key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", method.Alg())
	}
}

func signingKey(method jwt.SigningMethod, material []byte) (any, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("missing key material for %s", method.Alg())
	}

	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		return material, nil
	case *jwt.SigningMethodRSA:
		key, err := jwt.ParseRSAPrivateKeyFromPEM(material)
		if err != nil {
			return nil, fmt.Errorf("parse RSA private key: %w", err)
		}
		return key, nil
	case *jwt.SigningMethodECDSA:
		key, err := jwt.ParseECPrivateKeyFromPEM(material)
		if err != nil {
			return nil, fmt.Errorf("parse EC private key: %w", err)
		}
		return key, nil
	case *jwt.SigningMethodEd25519:
		key, err := jwt.ParseEdPrivateKeyFromPEM(material)
		if err != nil {
			return nil, fmt.Errorf("parse Ed25519 private key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", method.Alg())
	}
}
