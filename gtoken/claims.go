package gtoken

// assertionValidity is the lifetime of a signed assertion, in seconds.
const assertionValidity = 3600

// claims builds the assertion payload. Must be called with m.mux held.
// Unset issuer, subject and scope are left out of the payload.
func (m *TokenManager) claims(issuedAt int64) map[string]interface{} {
	payload := map[string]interface{}{
		"aud": m.tokenURL,
		"exp": issuedAt + assertionValidity,
		"iat": issuedAt,
	}
	if m.issuer != "" {
		payload["iss"] = m.issuer
	}
	if m.scope != "" {
		payload["scope"] = m.scope
	}
	if m.subject != "" {
		payload["sub"] = m.subject
	}
	for name, value := range m.additionalClaims {
		payload[name] = value
	}
	return payload
}
