package aggregate

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FetchKind classifies why a provider call failed.
type FetchKind string

const (
	FetchTimeout          FetchKind = "timeout"
	FetchUpstreamError    FetchKind = "upstream_error"
	FetchRateLimited      FetchKind = "rate_limited"
	FetchMalformedPayload FetchKind = "malformed_payload"
)

// ValidationError marks a request rejected before any provider call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// FetchError is a typed per-provider failure. It is recovered locally by the
// aggregator into a status entry and never fails the whole request on its own.
type FetchError struct {
	Provider string
	Kind     FetchKind
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth one more attempt. Semantic
// upstream errors and unparseable payloads are not.
func (e *FetchError) Retryable() bool {
	return e.Kind == FetchTimeout || e.Kind == FetchRateLimited
}

// AsFetchError coerces any provider error into a FetchError. Deadline and
// transport timeouts map to FetchTimeout; everything else unclassified is an
// upstream error.
func AsFetchError(provider string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}

	kind := FetchUpstreamError
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		kind = FetchTimeout
	}
	return &FetchError{Provider: provider, Kind: kind, Err: err}
}
