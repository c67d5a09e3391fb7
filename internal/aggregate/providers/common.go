package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"airhealth-data-api/internal/aggregate"
)

// Upstream payloads are small JSON/ascii documents; cap reads defensively.
const maxBodyBytes = 4 << 20

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errUnexpected  = errors.New("unexpected status code")
)

// newBreaker returns the circuit breaker shared settings for provider clients.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// doRequest executes exactly one HTTP request through the circuit breaker and
// returns the response body. Failures come back as typed FetchErrors; the
// aggregator owns the retry policy, so there is no retry loop here.
func doRequest(
	ctx context.Context,
	client *http.Client,
	cb *gobreaker.CircuitBreaker,
	provider string,
	buildRequest func() (*http.Request, error),
) ([]byte, error) {
	req, err := buildRequest()
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if readErr != nil {
			return nil, readErr
		}

		if err := classifyStatus(resp.StatusCode); err != nil {
			return nil, err
		}
		return body, nil
	})
	if err != nil {
		return nil, classify(provider, err)
	}

	body, ok := result.([]byte)
	if !ok {
		return nil, &aggregate.FetchError{
			Provider: provider,
			Kind:     aggregate.FetchUpstreamError,
			Err:      errors.New("unexpected result type from circuit breaker"),
		}
	}
	return body, nil
}

// headResult is the metadata of a HEAD probe against an upstream artifact.
type headResult struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
}

// doHead issues a HEAD request through the circuit breaker and returns the
// response metadata. Used for artifact endpoints whose bodies are imagery.
func doHead(ctx context.Context, client *http.Client, cb *gobreaker.CircuitBreaker, provider, url string) (*headResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		resp.Body.Close()

		if err := classifyStatus(resp.StatusCode); err != nil {
			return nil, err
		}
		return &headResult{
			StatusCode:    resp.StatusCode,
			ContentType:   resp.Header.Get("Content-Type"),
			ContentLength: resp.ContentLength,
		}, nil
	})
	if err != nil {
		return nil, classify(provider, err)
	}
	return result.(*headResult), nil
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return errRateLimited
	case code >= 500:
		return fmt.Errorf("%w: %d", errServerError, code)
	case code < 200 || code >= 300:
		return fmt.Errorf("%w: %d", errUnexpected, code)
	}
	return nil
}

// classify maps transport and status failures onto the FetchError taxonomy.
// An open circuit counts as an upstream error so the aggregator does not
// retry into it.
func classify(provider string, err error) *aggregate.FetchError {
	kind := aggregate.FetchUpstreamError

	var ne net.Error
	switch {
	case errors.Is(err, errRateLimited):
		kind = aggregate.FetchRateLimited
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		kind = aggregate.FetchTimeout
	}

	return &aggregate.FetchError{Provider: provider, Kind: kind, Err: err}
}
