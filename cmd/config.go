package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/SanteonNL/orca/gtoken/gtoken"
	"github.com/SanteonNL/orca/gtoken/keys"
	"github.com/SanteonNL/orca/gtoken/otel"
	"github.com/SanteonNL/orca/gtoken/transport"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

const envPrefix = "GTOKEN_"

type Config struct {
	// Credentials holds the service account identity and the claims of the JWT assertion.
	Credentials CredentialsConfig `koanf:"credentials"`
	// Endpoints holds the URLs of the token and revocation endpoints.
	Endpoints EndpointsConfig `koanf:"endpoints"`
	// Proxy holds the configuration of the reverse proxy.
	Proxy ProxyConfig `koanf:"proxy"`
	// HTTPTimeout is the timeout of requests to the token and revocation endpoints.
	HTTPTimeout time.Duration `koanf:"httptimeout"`
	// SingleFlight makes concurrent requests share a single token request when the token has expired.
	SingleFlight bool          `koanf:"singleflight"`
	LogLevel     zerolog.Level `koanf:"loglevel"`
	// OpenTelemetry holds the configuration for observability
	OpenTelemetry otel.Config `koanf:"opentelemetry"`
}

type CredentialsConfig struct {
	// KeyFile is the path to a PEM private key, Google service account key file (.json) or JWK (.jwk).
	KeyFile string `koanf:"keyfile"`
	// Email is the service account e-mail address (issuer of the assertion).
	// When not set, the client_email of the service account key file is used.
	Email   string `koanf:"email"`
	Subject string `koanf:"subject"`
	// Scope holds the requested scopes, comma-separated in the environment.
	Scope []string `koanf:"scope"`
	// Claims holds additional claims for the assertion as name=value pairs, comma-separated in the environment.
	// They overwrite the standard claims with the same name.
	Claims []string `koanf:"claims"`
}

// AdditionalClaims parses Claims.
func (c CredentialsConfig) AdditionalClaims() (map[string]interface{}, error) {
	if len(c.Claims) == 0 {
		return nil, nil
	}
	result := make(map[string]interface{}, len(c.Claims))
	for _, claim := range c.Claims {
		name, value, ok := strings.Cut(claim, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid claim (expected name=value): %s", claim)
		}
		result[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return result, nil
}

// TokenOptions returns the TokenManager options for the given key.
// The configured e-mail address takes precedence over the one of the key file.
func (c CredentialsConfig) TokenOptions(credentials keys.Credentials) (gtoken.Options, error) {
	additionalClaims, err := c.AdditionalClaims()
	if err != nil {
		return gtoken.Options{}, err
	}
	email := c.Email
	if email == "" {
		email = credentials.ClientEmail
	}
	return gtoken.Options{
		Key:              credentials.PrivateKey,
		Email:            email,
		Sub:              c.Subject,
		Scopes:           c.Scope,
		AdditionalClaims: additionalClaims,
	}, nil
}

type EndpointsConfig struct {
	Token  string `koanf:"token"`
	Revoke string `koanf:"revoke"`
}

type ProxyConfig struct {
	// Address holds the address to listen on.
	Address string `koanf:"address"`
	// UpstreamURL is the base URL requests are proxied to.
	UpstreamURL string `koanf:"upstreamurl"`
}

func (c Config) Validate() error {
	if c.Credentials.KeyFile == "" {
		return errors.New("credentials key file is not configured")
	}
	if _, err := c.Credentials.AdditionalClaims(); err != nil {
		return err
	}
	if err := validateURL(c.Endpoints.Token); err != nil {
		return fmt.Errorf("invalid token endpoint: %w", err)
	}
	if err := validateURL(c.Endpoints.Revoke); err != nil {
		return fmt.Errorf("invalid revocation endpoint: %w", err)
	}
	if err := c.OpenTelemetry.Validate(); err != nil {
		return fmt.Errorf("invalid OpenTelemetry configuration: %w", err)
	}
	return nil
}

// ValidateProxy validates the configuration needed to run the reverse proxy.
func (c Config) ValidateProxy() error {
	if c.Proxy.UpstreamURL == "" {
		return errors.New("proxy upstream URL is not configured")
	}
	if err := validateURL(c.Proxy.UpstreamURL); err != nil {
		return fmt.Errorf("invalid proxy upstream URL: %w", err)
	}
	return nil
}

func validateURL(value string) error {
	if value == "" {
		return errors.New("not configured")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsed.Scheme)
	}
	return nil
}

// ManagerOptions returns the TokenManager options for this configuration.
func (c Config) ManagerOptions() []gtoken.ManagerOption {
	result := []gtoken.ManagerOption{
		gtoken.WithTokenURL(c.Endpoints.Token),
		gtoken.WithRevokeURL(c.Endpoints.Revoke),
		gtoken.WithTransport(transport.NewHTTPClient(c.HTTPTimeout)),
	}
	if c.SingleFlight {
		result = append(result, gtoken.WithSingleFlight())
	}
	return result
}

// LoadConfig loads the configuration from the environment.
func LoadConfig() (*Config, error) {
	result := DefaultConfig()
	err := loadConfigInto(&result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func loadConfigInto(target any) error {
	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key string, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".", -1)
		if len(value) == 0 {
			return key, nil
		}
		sliceValues := splitWithEscaping(value, ",", "\\")
		for i, s := range sliceValues {
			sliceValues[i] = strings.TrimSpace(s)
		}
		var parsedValue any = sliceValues
		if len(sliceValues) == 1 {
			parsedValue = sliceValues[0]
		}
		return key, parsedValue
	}), nil)
	if err != nil {
		return err
	}
	return k.Unmarshal("", target)
}

func splitWithEscaping(s, separator, escape string) []string {
	s = strings.ReplaceAll(s, escape+separator, "\x00")
	tokens := strings.Split(s, separator)
	for i, token := range tokens {
		tokens[i] = strings.ReplaceAll(token, "\x00", separator)
	}
	return tokens
}

// DefaultConfig returns sensible, but not complete, default configuration values.
func DefaultConfig() Config {
	return Config{
		LogLevel:     zerolog.InfoLevel,
		HTTPTimeout:  transport.DefaultTimeout,
		SingleFlight: true,
		Endpoints: EndpointsConfig{
			Token:  gtoken.GoogleTokenURL,
			Revoke: gtoken.GoogleRevokeTokenURL,
		},
		Proxy: ProxyConfig{
			Address: ":8080",
		},
		OpenTelemetry: otel.DefaultConfig(),
	}
}
