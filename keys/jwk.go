package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// FromJWK reads an RSA private key from a JWK and returns it PEM-encoded (PKCS #8).
func FromJWK(data []byte) (*Credentials, error) {
	jwkKey, err := jwk.ParseKey(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JWK file: %w", err)
	}
	if jwkKey.KeyType() != jwa.RSA {
		return nil, fmt.Errorf("unsupported JWK key type: %s", jwkKey.KeyType())
	}
	if alg := jwkKey.Algorithm().String(); alg != "" && alg != jwa.RS256.String() {
		return nil, fmt.Errorf("unsupported JWK signing algorithm: %s", alg)
	}
	var privateKey rsa.PrivateKey
	if err := jwkKey.Raw(&privateKey); err != nil {
		return nil, errors.New("JWK file does not contain a private key")
	}
	der, err := x509.MarshalPKCS8PrivateKey(&privateKey)
	if err != nil {
		return nil, fmt.Errorf("unable to encode private key: %w", err)
	}
	return &Credentials{
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	}, nil
}
