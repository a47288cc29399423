package gtoken

import (
	"context"

	"golang.org/x/oauth2"
)

var _ oauth2.TokenSource = &TokenSource{}

// TokenSource is an oauth2.TokenSource backed by a TokenManager.
// Don't wrap it in oauth2.ReuseTokenSource: tokens without a known expiry would then be reused forever,
// while the TokenManager refreshes them on every call.
type TokenSource struct {
	ctx     context.Context
	manager *TokenManager
}

// TokenSource returns an oauth2.TokenSource that fetches tokens using ctx.
func (m *TokenManager) TokenSource(ctx context.Context) *TokenSource {
	return &TokenSource{
		ctx:     ctx,
		manager: m,
	}
}

func (s *TokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := s.manager.GetToken(s.ctx)
	if err != nil {
		return nil, err
	}
	result := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}
	if rawToken := s.manager.RawToken(); rawToken != nil && rawToken.TokenType != "" {
		result.TokenType = rawToken.TokenType
	}
	if expiresAt, ok := s.manager.ExpiresAt(); ok {
		result.Expiry = expiresAt
	}
	return result, nil
}
