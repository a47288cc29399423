//go:generate mockgen -destination=./signer_mock.go -package=gtoken -source=signer.go
package gtoken

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

const AlgorithmRS256 = "RS256"

// Header is the JOSE header of the assertion.
type Header struct {
	Algorithm string `json:"alg"`
}

// Signer creates a compact JWS from the given header and payload, signed with the PEM-encoded private key.
type Signer interface {
	Sign(header Header, payload map[string]interface{}, secret string) (string, error)
}

var _ Signer = RS256Signer{}

// RS256Signer signs assertions using RSASSA-PKCS1-v1_5 with SHA-256.
type RS256Signer struct{}

func (RS256Signer) Sign(header Header, payload map[string]interface{}, secret string) (string, error) {
	if header.Algorithm != jwt.SigningMethodRS256.Alg() {
		return "", fmt.Errorf("unsupported signing algorithm: %s", header.Algorithm)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("invalid private key: %w", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(payload))
	// Only alg, no typ
	token.Header = map[string]interface{}{
		"alg": header.Algorithm,
	}
	return token.SignedString(privateKey)
}
