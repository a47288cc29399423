package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/SanteonNL/orca/gtoken/gtoken"
	"github.com/SanteonNL/orca/gtoken/keys"
	"github.com/SanteonNL/orca/gtoken/proxy"
	"github.com/rs/zerolog/log"
)

const (
	CommandProxy  = "proxy"
	CommandToken  = "token"
	CommandRevoke = "revoke"
)

const shutdownTimeout = 10 * time.Second

// NewTokenManager loads the service account key and creates the TokenManager.
func NewTokenManager(config Config) (*gtoken.TokenManager, error) {
	credentials, err := keys.Load(config.Credentials.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load service account key: %w", err)
	}
	options, err := config.Credentials.TokenOptions(*credentials)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("Service account: %s", options.Email)
	return gtoken.New(options, config.ManagerOptions()...), nil
}

// Run executes the given command.
func Run(ctx context.Context, config Config, command string, out io.Writer) error {
	switch command {
	case "", CommandProxy:
		if err := config.ValidateProxy(); err != nil {
			return err
		}
		manager, err := NewTokenManager(config)
		if err != nil {
			return err
		}
		return Start(ctx, config, manager)
	case CommandToken:
		manager, err := NewTokenManager(config)
		if err != nil {
			return err
		}
		return PrintToken(ctx, manager, out)
	case CommandRevoke:
		manager, err := NewTokenManager(config)
		if err != nil {
			return err
		}
		return Revoke(ctx, manager)
	default:
		return fmt.Errorf("unknown command: %s (supported: %s, %s, %s)", command, CommandProxy, CommandToken, CommandRevoke)
	}
}

// Start runs the reverse proxy until the context is cancelled.
func Start(ctx context.Context, config Config, manager *gtoken.TokenManager) error {
	upstreamURL, err := url.Parse(config.Proxy.UpstreamURL)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:    config.Proxy.Address,
		Handler: proxy.New(manager.TokenSource(ctx), upstreamURL),
	}
	log.Info().Msgf("Listening on: %s", config.Proxy.Address)
	log.Info().Msgf("Proxying to: %s", redactURL(upstreamURL))

	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()
	select {
	case err = <-errs:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = server.Shutdown(shutdownCtx)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

func redactURL(u *url.URL) string {
	result := *u
	result.User = nil
	result.RawQuery = ""
	return result.String()
}

type tokenOutput struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// PrintToken requests an access token and writes it as JSON.
func PrintToken(ctx context.Context, manager *gtoken.TokenManager, out io.Writer) error {
	accessToken, err := manager.GetToken(ctx)
	if err != nil {
		return err
	}
	output := tokenOutput{AccessToken: accessToken}
	if raw := manager.RawToken(); raw != nil {
		output.TokenType = raw.TokenType
	}
	if expiresAt, ok := manager.ExpiresAt(); ok {
		output.ExpiresAt = &expiresAt
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// Revoke requests an access token and revokes it.
func Revoke(ctx context.Context, manager *gtoken.TokenManager) error {
	if _, err := manager.GetToken(ctx); err != nil {
		return err
	}
	return manager.RevokeToken(ctx)
}
