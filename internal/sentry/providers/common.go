package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/i474232898/orbital-sentry/internal/common"
	"github.com/i474232898/orbital-sentry/internal/sentry"
)

// maxImageBytes caps a single provider payload.
const maxImageBytes = 64 << 20

// HTTPClientConfig bundles the HTTP client and its circuit breaker.
type HTTPClientConfig struct {
	Client  *http.Client
	Circuit *gobreaker.CircuitBreaker
}

var (
	errNoHTTPClient = errors.New("http client not configured")
	errTooLarge     = errors.New("image payload exceeds size limit")
)

// payload is a successful image response.
type payload struct {
	body        []byte
	contentType string
}

// doImageRequest executes a single request through the circuit breaker and
// classifies every failure as a *sentry.FetchError. There are no retries; a
// failed key simply waits for the next run.
func doImageRequest(ctx context.Context, cfg HTTPClientConfig, key sentry.Key, req *http.Request) (payload, error) {
	if cfg.Client == nil {
		return payload{}, &sentry.FetchError{Key: key, Kind: sentry.FetchTransport, Err: errNoHTTPClient}
	}

	req = req.WithContext(ctx)

	exec := func() (interface{}, error) {
		resp, err := cfg.Client.Do(req)
		if err != nil {
			kind := sentry.FetchTransport
			if ctx.Err() != nil {
				kind = sentry.FetchCanceled
			}
			return nil, &sentry.FetchError{Key: key, Kind: kind, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return nil, &sentry.FetchError{Key: key, Kind: sentry.FetchStatus, StatusCode: resp.StatusCode}
		}

		ct := resp.Header.Get("Content-Type")
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
		if err != nil {
			return nil, &sentry.FetchError{Key: key, Kind: sentry.FetchTransport, Err: err}
		}
		if len(body) > maxImageBytes {
			return nil, &sentry.FetchError{Key: key, Kind: sentry.FetchProvider, Err: errTooLarge}
		}

		// WMS servers report request errors as an XML document with status 200.
		if common.HasAny(ct, "xml", "html", "text/") {
			return nil, &sentry.FetchError{Key: key, Kind: sentry.FetchProvider, StatusCode: resp.StatusCode,
				Err: fmt.Errorf("service exception (%s): %s", ct, snippet(body))}
		}
		if len(body) == 0 {
			return nil, &sentry.FetchError{Key: key, Kind: sentry.FetchEmpty, StatusCode: resp.StatusCode}
		}

		return payload{body: body, contentType: ct}, nil
	}

	if cfg.Circuit == nil {
		res, err := exec()
		if err != nil {
			return payload{}, err
		}
		return res.(payload), nil
	}

	res, err := cfg.Circuit.Execute(exec)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return payload{}, &sentry.FetchError{Key: key, Kind: sentry.FetchCircuitOpen, Err: err}
		}
		return payload{}, err
	}

	p, ok := res.(payload)
	if !ok {
		return payload{}, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return p, nil
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
