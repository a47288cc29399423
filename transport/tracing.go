package transport

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/SanteonNL/orca/gtoken/transport"

// NewTracingTransport returns a RoundTripper that traces every request with OpenTelemetry.
// otelhttp records the full request URL, so requests with a query (e.g. the token being revoked)
// get a client span that only carries the URL without query.
func NewTracingTransport(base http.RoundTripper) http.RoundTripper {
	return tracingTransport{
		traced: otelhttp.NewTransport(base),
		base:   base,
	}
}

type tracingTransport struct {
	traced http.RoundTripper
	base   http.RoundTripper
}

func (t tracingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	if request.URL.RawQuery == "" {
		return t.traced.RoundTrip(request)
	}
	ctx, span := otel.GetTracerProvider().Tracer(tracerName).Start(request.Context(), "HTTP "+request.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(request.Method),
			semconv.URLFull(SanitizeURL(request.URL).String()),
			semconv.ServerAddress(request.URL.Hostname()),
		),
	)
	defer span.End()

	outgoing := request.Clone(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(outgoing.Header))
	response, err := t.base.RoundTrip(outgoing)
	if err != nil {
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(response.StatusCode))
	if response.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(response.StatusCode))
	}
	return response, nil
}
