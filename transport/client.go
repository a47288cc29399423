//go:generate mockgen -destination=./client_mock.go -package=transport -source=client.go
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout is the timeout of the HTTP client created by NewHTTPClient when none is given.
const DefaultTimeout = 30 * time.Second

// maxResponseSize limits how much of a response body is read (1mb).
const maxResponseSize = 1024 * 1024

// Response is the result of an HTTP exchange that completed with a 2xx status code.
type Response struct {
	StatusCode int
	Body       []byte
	// Data holds Body parsed as a JSON object, or nil if it isn't one.
	Data map[string]interface{}
}

// Client performs the HTTP exchanges with the token and revocation endpoints.
// Exchanges that complete with a non-2xx status code return an *Error.
type Client interface {
	Post(ctx context.Context, requestURL string, body []byte, headers http.Header) (*Response, error)
	Get(ctx context.Context, requestURL string) (*Response, error)
}

type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ Client = &HTTPClient{}

// HTTPClient is a Client backed by net/http.
type HTTPClient struct {
	Doer HttpRequestDoer
}

// NewHTTPClient creates an HTTPClient of which every request is traced with OpenTelemetry.
// A zero timeout means DefaultTimeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		Doer: &http.Client{
			Timeout:   timeout,
			Transport: NewTracingTransport(http.DefaultTransport),
		},
	}
}

func (c HTTPClient) Post(ctx context.Context, requestURL string, body []byte, headers http.Header) (*Response, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for name, values := range headers {
		for _, value := range values {
			httpRequest.Header.Add(name, value)
		}
	}
	return c.do(httpRequest)
}

func (c HTTPClient) Get(ctx context.Context, requestURL string) (*Response, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(httpRequest)
}

func (c HTTPClient) do(httpRequest *http.Request) (*Response, error) {
	httpResponse, err := c.Doer.Do(httpRequest)
	if err != nil {
		// The revocation URL carries the access token in its query, which must not end up in error messages.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = SanitizeURL(httpRequest.URL).String()
		}
		log.Warn().Err(err).Msgf("HTTP request failed: %s %s", httpRequest.Method, SanitizeURL(httpRequest.URL))
		return nil, err
	}
	defer httpResponse.Body.Close()
	body, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}
	log.Debug().Msgf("HTTP %s %s: %d", httpRequest.Method, SanitizeURL(httpRequest.URL), httpResponse.StatusCode)
	data := parseJSONObject(body)
	if c := httpResponse.StatusCode; c < 200 || c > 299 {
		return nil, &Error{
			StatusCode: httpResponse.StatusCode,
			Body:       body,
			Data:       data,
		}
	}
	return &Response{
		StatusCode: httpResponse.StatusCode,
		Body:       body,
		Data:       data,
	}, nil
}

func parseJSONObject(data []byte) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// SanitizeURL returns a copy of the given URL without its query.
// Queries might contain credentials (e.g. the token being revoked), so they're never logged.
func SanitizeURL(requestURL *url.URL) *url.URL {
	requestURLWithoutQuery := *requestURL
	requestURLWithoutQuery.RawQuery = ""
	return &requestURLWithoutQuery
}
