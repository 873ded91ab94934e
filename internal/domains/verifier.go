package domains

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrChallengeUnavailable marks a non-2xx answer from the domain's web
// server. It is a normal negative verification result, not a fault.
var ErrChallengeUnavailable = errors.New("challenge unavailable")

// ChallengeFetcher retrieves the verification challenge a domain published
// at its well-known URL.
type ChallengeFetcher interface {
	Fetch(ctx context.Context, domain, verifyKey string) (string, error)
}

// HTTPFetcher fetches the challenge over plain HTTPS GET with a bounded
// timeout so a stalled registrant server cannot pin a request handler.
type HTTPFetcher struct {
	client *http.Client
	urlFor func(domain, verifyKey string) string
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		urlFor: func(domain, verifyKey string) string {
			return "https://" + domain + "/.well-known/" + verifyKey
		},
	}
}

var tracer = otel.Tracer("walias/internal/domains")

func (f *HTTPFetcher) Fetch(ctx context.Context, domain, verifyKey string) (string, error) {
	ctx, span := tracer.Start(ctx, "domains.verify.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("walias.domain", domain)),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.urlFor(domain, verifyKey), nil)
	if err != nil {
		return "", fmt.Errorf("build challenge request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("fetch challenge: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", ErrChallengeUnavailable
	}

	// The challenge is a 32-char token; anything bigger is garbage.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("read challenge body: %w", err)
	}
	return string(body), nil
}
