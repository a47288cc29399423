package keys

import (
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials holds the private key and, if known, the e-mail address of a service account.
type Credentials struct {
	// PrivateKey is the PEM-encoded private key.
	PrivateKey  string
	ClientEmail string
}

// Load reads credentials from a file. The format is derived from the file extension:
//   - .json: Google service account key file, or a JWK if it doesn't contain a private_key
//   - .jwk: JWK (RSA private key)
//   - anything else: PEM-encoded private key
func Load(keyFile string) (*Credentials, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read key file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(keyFile)) {
	case ".json":
		credentials, err := FromServiceAccountJSON(data)
		if errors.Is(err, errNoPrivateKey) {
			return FromJWK(data)
		}
		return credentials, err
	case ".jwk":
		return FromJWK(data)
	default:
		return FromPEM(data)
	}
}

var errNoPrivateKey = errors.New("service account key file does not contain a private key")

type serviceAccountKey struct {
	Type        string `json:"type"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
}

// FromServiceAccountJSON parses a Google service account key file.
func FromServiceAccountJSON(data []byte) (*Credentials, error) {
	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("invalid service account key file: %w", err)
	}
	if key.PrivateKey == "" {
		return nil, errNoPrivateKey
	}
	if _, err := FromPEM([]byte(key.PrivateKey)); err != nil {
		return nil, err
	}
	return &Credentials{
		PrivateKey:  key.PrivateKey,
		ClientEmail: key.ClientEmail,
	}, nil
}

// FromPEM checks that data contains a PEM-encoded RSA private key.
func FromPEM(data []byte) (*Credentials, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("key file does not contain a PEM block")
	}
	if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
		return nil, fmt.Errorf("PEM block is not a private key: %s", block.Type)
	}
	if _, err := jwt.ParseRSAPrivateKeyFromPEM(data); err != nil {
		return nil, fmt.Errorf("invalid RSA private key: %w", err)
	}
	return &Credentials{PrivateKey: string(data)}, nil
}
