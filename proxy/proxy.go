package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/SanteonNL/orca/gtoken/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const requestIDHeader = "X-Request-Id"

// New creates a reverse proxy that forwards requests to the upstream URL,
// authenticated with access tokens from the given token source.
// The token source is used as-is: it decides itself when a new token has to be requested.
func New(tokenSource oauth2.TokenSource, upstreamURL *url.URL) *httputil.ReverseProxy {
	reverseProxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(upstreamURL)
			cleanHeaders(r.Out.Header)
			if r.Out.Header.Get(requestIDHeader) == "" {
				r.Out.Header.Set(requestIDHeader, uuid.NewString())
			}
		},
	}
	reverseProxy.Transport = LoggingTransportDecorator{
		RoundTripper: &oauth2.Transport{
			Source: tokenSource,
			Base:   transport.NewTracingTransport(http.DefaultTransport),
		},
	}
	reverseProxy.ErrorHandler = func(responseWriter http.ResponseWriter, request *http.Request, err error) {
		log.Warn().Err(err).Msgf("Proxy error: %s", transport.SanitizeURL(request.URL).String())
		responseWriter.Header().Set("Content-Type", "application/json")
		responseWriter.WriteHeader(http.StatusBadGateway)
		data, _ := json.Marshal(ErrorResponse{
			Error: "The system tried to proxy the request, but an error occurred.",
		})
		_, _ = responseWriter.Write(data)
	}
	return reverseProxy
}

// ErrorResponse is returned to the caller when the request could not be proxied.
type ErrorResponse struct {
	Error string `json:"error"`
}

// cleanHeaders removes all headers the upstream doesn't need, including the caller's credentials.
func cleanHeaders(header http.Header) {
	for name := range header {
		switch name {
		case "Content-Type":
			continue
		case "Accept":
			continue
		case "Accept-Encoding":
			continue
		case "User-Agent":
			continue
		case requestIDHeader:
			// useful for tracing
			continue
		default:
			header.Del(name)
		}
	}
}

type LoggingTransportDecorator struct {
	RoundTripper http.RoundTripper
}

func (d LoggingTransportDecorator) RoundTrip(request *http.Request) (*http.Response, error) {
	response, err := d.RoundTripper.RoundTrip(request)
	if err != nil {
		log.Warn().Str("request_id", request.Header.Get(requestIDHeader)).
			Msgf("Proxy request failed: %s", transport.SanitizeURL(request.URL).String())
	} else {
		log.Info().Str("request_id", request.Header.Get(requestIDHeader)).
			Msgf("Proxied request: %s (status: %d)", transport.SanitizeURL(request.URL).String(), response.StatusCode)
	}
	return response, err
}
