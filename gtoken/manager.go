package gtoken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/SanteonNL/orca/gtoken/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	GoogleTokenURL       = "https://www.googleapis.com/oauth2/v4/token"
	GoogleRevokeTokenURL = "https://accounts.google.com/o/oauth2/revoke?token="
)

const jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Options configures the identity and claims of a TokenManager.
type Options struct {
	// Key is the PEM-encoded private key used to sign the JWT assertion.
	Key string
	// Email is the service account e-mail address. It takes precedence over Iss.
	Email string
	Iss   string
	Sub   string
	// Scope is a space-delimited list of scopes, stored verbatim.
	Scope string
	// Scopes, when not empty, takes precedence over Scope and is joined with single spaces.
	Scopes []string
	// AdditionalClaims are added to the assertion after the standard claims, overwriting them on collision.
	AdditionalClaims map[string]interface{}
}

// TokenResponse is the response of the token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	ExpiresIn    *int64 `json:"expires_in,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	// Raw holds all fields of the response, including the ones not mapped above.
	Raw map[string]interface{} `json:"-"`
}

// TokenManager acquires access tokens for a service account using the JWT-bearer grant and caches them until they expire.
// Tokens are only fetched when requested through GetToken; there is no background refresh.
// It is safe for concurrent use, but concurrent GetToken calls on an expired token each fetch a new token,
// unless the manager was created WithSingleFlight.
type TokenManager struct {
	mux sync.Mutex

	key              string
	issuer           string
	subject          string
	scope            string
	additionalClaims map[string]interface{}

	accessToken string
	// expiresAt is the expiry of accessToken in milliseconds since the Unix epoch, nil if unknown.
	expiresAt *int64
	rawToken  *TokenResponse

	tokenURL  string
	revokeURL string
	transport transport.Client
	signer    Signer
	now       func() time.Time
	flight    *singleflight.Group
}

// ManagerOption is a function that configures a TokenManager
type ManagerOption func(*TokenManager)

// WithTokenURL sets the token endpoint, which is also used as audience of the assertion.
func WithTokenURL(tokenURL string) ManagerOption {
	return func(m *TokenManager) {
		m.tokenURL = tokenURL
	}
}

// WithRevokeURL sets the revocation endpoint. The token to revoke is appended to it.
func WithRevokeURL(revokeURL string) ManagerOption {
	return func(m *TokenManager) {
		m.revokeURL = revokeURL
	}
}

func WithTransport(client transport.Client) ManagerOption {
	return func(m *TokenManager) {
		m.transport = client
	}
}

func WithSigner(signer Signer) ManagerOption {
	return func(m *TokenManager) {
		m.signer = signer
	}
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithSingleFlight makes concurrent GetToken calls share a single in-flight token request.
func WithSingleFlight() ManagerOption {
	return func(m *TokenManager) {
		m.flight = &singleflight.Group{}
	}
}

// New creates a TokenManager for the given identity. No token is fetched until GetToken is called.
func New(options Options, managerOptions ...ManagerOption) *TokenManager {
	result := &TokenManager{
		tokenURL:  GoogleTokenURL,
		revokeURL: GoogleRevokeTokenURL,
		signer:    RS256Signer{},
		now:       time.Now,
	}
	for _, option := range managerOptions {
		option(result)
	}
	if result.transport == nil {
		result.transport = transport.NewHTTPClient(transport.DefaultTimeout)
	}
	result.configure(options)
	return result
}

// Configure replaces the identity and claims configuration and discards the cached token.
func (m *TokenManager) Configure(options Options) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.configure(options)
}

func (m *TokenManager) configure(options Options) {
	m.key = options.Key
	m.accessToken = ""
	m.expiresAt = nil
	m.rawToken = nil
	m.issuer = options.Email
	if m.issuer == "" {
		m.issuer = options.Iss
	}
	m.subject = options.Sub
	m.additionalClaims = options.AdditionalClaims
	if len(options.Scopes) > 0 {
		m.scope = strings.Join(options.Scopes, " ")
	} else {
		m.scope = options.Scope
	}
}

// HasExpired returns whether a new token must be fetched: true if there is no token,
// its expiry is unknown, or the expiry has been reached.
func (m *TokenManager) HasExpired() bool {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.hasExpired()
}

func (m *TokenManager) hasExpired() bool {
	if m.accessToken != "" && m.expiresAt != nil {
		return m.now().UnixMilli() >= *m.expiresAt
	}
	return true
}

// GetToken returns the cached access token, or requests a new one from the token endpoint if it has expired.
func (m *TokenManager) GetToken(ctx context.Context) (string, error) {
	m.mux.Lock()
	if !m.hasExpired() {
		accessToken := m.accessToken
		m.mux.Unlock()
		return accessToken, nil
	}
	if m.key == "" {
		m.mux.Unlock()
		return "", ErrMissingKey
	}
	flight := m.flight
	m.mux.Unlock()

	if flight == nil {
		return m.requestToken(ctx)
	}
	// The shared request outlives the caller that started it, so cancelling one caller doesn't fail the others.
	results := flight.DoChan("token", func() (interface{}, error) {
		// A flight that completed since the check above might have left a valid token.
		m.mux.Lock()
		if !m.hasExpired() {
			accessToken := m.accessToken
			m.mux.Unlock()
			return accessToken, nil
		}
		m.mux.Unlock()
		return m.requestToken(context.WithoutCancel(ctx))
	})
	select {
	case result := <-results:
		if result.Err != nil {
			return "", result.Err
		}
		return result.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *TokenManager) requestToken(ctx context.Context) (string, error) {
	log.Debug().Msg("Refreshing OAuth2 access token")
	m.mux.Lock()
	issuedAt := m.now().Unix()
	payload := m.claims(issuedAt)
	key := m.key
	tokenURL := m.tokenURL
	m.mux.Unlock()

	assertion, err := m.signer.Sign(Header{Algorithm: AlgorithmRS256}, payload, key)
	if err != nil {
		m.clearToken()
		return "", fmt.Errorf("failed to sign JWT assertion: %w", err)
	}
	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)
	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	response, err := m.transport.Post(ctx, tokenURL, []byte(form.Encode()), headers)
	if err != nil {
		m.clearToken()
		return "", normalizeTokenError(err)
	}
	tokenResponse, err := parseTokenResponse(response)
	if err != nil {
		m.clearToken()
		return "", err
	}

	m.mux.Lock()
	defer m.mux.Unlock()
	m.rawToken = tokenResponse
	m.accessToken = tokenResponse.AccessToken
	if tokenResponse.ExpiresIn != nil {
		expiresAt := (issuedAt + *tokenResponse.ExpiresIn) * 1000
		m.expiresAt = &expiresAt
	} else {
		m.expiresAt = nil
	}
	return m.accessToken, nil
}

func (m *TokenManager) clearToken() {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.accessToken = ""
	m.expiresAt = nil
}

// UnmarshalJSON accepts expires_in as a JSON number (fractional seconds are truncated) or a numeric string.
func (t *TokenResponse) UnmarshalJSON(data []byte) error {
	type tokenResponse TokenResponse
	aux := struct {
		*tokenResponse
		ExpiresIn *json.Number `json:"expires_in,omitempty"`
	}{tokenResponse: (*tokenResponse)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.ExpiresIn = nil
	if aux.ExpiresIn == nil || *aux.ExpiresIn == "" {
		return nil
	}
	expiresIn, err := aux.ExpiresIn.Int64()
	if err != nil {
		seconds, err := aux.ExpiresIn.Float64()
		if err != nil {
			return fmt.Errorf("invalid expires_in: %w", err)
		}
		expiresIn = int64(seconds)
	}
	t.ExpiresIn = &expiresIn
	return nil
}

func parseTokenResponse(response *transport.Response) (*TokenResponse, error) {
	var result TokenResponse
	if err := json.Unmarshal(response.Body, &result); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}
	result.Raw = response.Data
	return &result, nil
}

// RevokeToken revokes the cached token at the revocation endpoint and resets the manager to its configuration.
// If the revocation request fails, the manager is left unchanged.
func (m *TokenManager) RevokeToken(ctx context.Context) error {
	m.mux.Lock()
	accessToken := m.accessToken
	revokeURL := m.revokeURL
	m.mux.Unlock()
	if accessToken == "" {
		return ErrNoToken
	}
	if _, err := m.transport.Get(ctx, revokeURL+url.QueryEscape(accessToken)); err != nil {
		return err
	}
	log.Info().Msg("OAuth2 access token revoked")

	m.mux.Lock()
	defer m.mux.Unlock()
	m.configure(Options{
		Email:            m.issuer,
		Sub:              m.subject,
		Key:              m.key,
		Scope:            m.scope,
		AdditionalClaims: m.additionalClaims,
	})
	return nil
}

func (m *TokenManager) Issuer() string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.issuer
}

func (m *TokenManager) Subject() string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.subject
}

func (m *TokenManager) Scope() string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.scope
}

func (m *TokenManager) Key() string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.key
}

func (m *TokenManager) AdditionalClaims() map[string]interface{} {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.additionalClaims
}

// RawToken returns the last successful token endpoint response, or nil if there is none.
func (m *TokenManager) RawToken() *TokenResponse {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.rawToken
}

// ExpiresAt returns when the cached token expires. It returns false if there's no token or its expiry is unknown.
func (m *TokenManager) ExpiresAt() (time.Time, bool) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.accessToken == "" || m.expiresAt == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*m.expiresAt), true
}
