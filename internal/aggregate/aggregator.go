package aggregate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"airhealth-data-api/internal/metrics"
)

const defaultCallTimeout = 10 * time.Second

// Aggregator fans a request out to the provider clients registered for its
// category, applies the per-call timeout and bounded retry, and merges the
// normalized partial results into one response.
type Aggregator struct {
	providers   map[Category][]Provider
	callTimeout time.Duration
	log         *logrus.Logger
	metrics     *metrics.Collector
	recorder    StatusRecorder
}

// Options configures an Aggregator. Metrics and Recorder may be nil.
type Options struct {
	CallTimeout time.Duration
	Log         *logrus.Logger
	Metrics     *metrics.Collector
	Recorder    StatusRecorder
}

// New creates an Aggregator with no providers registered.
func New(opts Options) *Aggregator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Log == nil {
		opts.Log = logrus.New()
	}
	return &Aggregator{
		providers:   make(map[Category][]Provider),
		callTimeout: opts.CallTimeout,
		log:         opts.Log,
		metrics:     opts.Metrics,
		recorder:    opts.Recorder,
	}
}

// Register adds a provider client for a dataset category. Registration
// happens once at startup; the provider set is read-only afterwards.
func (a *Aggregator) Register(c Category, p Provider) {
	a.providers[c] = append(a.providers[c], p)
}

// outcome is one slot of the fixed-size result set, indexed by provider
// position so the response is assembled in registration order regardless of
// completion order.
type outcome struct {
	measurements []Measurement
	fetchErr     *FetchError
	retried      bool
	duration     time.Duration
}

// Aggregate runs the request against its selected providers concurrently and
// returns the merged response. A failed provider becomes an error entry; only
// context cancellation or an invalid request fail the call as a whole.
func (a *Aggregator) Aggregate(ctx context.Context, req Request) (*AggregateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	selected := a.selectProviders(req)
	q := req.query()

	outcomes := make([]outcome, len(selected))

	var wg sync.WaitGroup
	for i, p := range selected {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()

			start := time.Now()
			ms, retried, ferr := a.callProvider(ctx, p, q)
			outcomes[i] = outcome{
				measurements: ms,
				fetchErr:     ferr,
				retried:      retried,
				duration:     time.Since(start),
			}
		}(i, p)
	}
	wg.Wait()

	// The caller is gone or the overall deadline passed: discard partials.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp := &AggregateResponse{
		Location:   req.Location,
		Timestamp:  req.Window.When,
		Categories: make(map[Category]CategoryResult),
	}

	result := CategoryResult{Measurements: []Measurement{}}
	failures := 0

	for i, o := range outcomes {
		p := selected[i]
		name := p.Name()

		resp.Sources = append(resp.Sources, p.Describe(q))
		resp.Providers = append(resp.Providers, ProviderStatus{
			Provider:   name,
			Kind:       p.Kind(),
			OK:         o.fetchErr == nil,
			Retried:    o.retried,
			DurationMs: o.duration.Milliseconds(),
		})
		if a.recorder != nil {
			a.recorder.Record(name, o.fetchErr == nil)
		}

		if o.fetchErr != nil {
			failures++
			result.Errors = append(result.Errors, ProviderError{
				Provider: name,
				Kind:     o.fetchErr.Kind,
				Message:  o.fetchErr.Error(),
			})
			a.log.WithFields(logrus.Fields{
				"provider": name,
				"category": req.Category,
				"kind":     o.fetchErr.Kind,
			}).Warn("provider fetch failed")
			continue
		}

		result.Measurements = append(result.Measurements, o.measurements...)
	}

	if len(selected) > 0 && failures == len(selected) {
		result.Unavailable = true
	}

	sortMeasurements(result.Measurements)
	resp.Categories[req.Category] = result

	return resp, nil
}

// selectProviders filters the category's registered providers by the
// request's inclusion flags.
func (a *Aggregator) selectProviders(req Request) []Provider {
	var out []Provider
	for _, p := range a.providers[req.Category] {
		switch p.Kind() {
		case KindGround:
			if !req.IncludeGround {
				continue
			}
		case KindSatellite:
			if !req.IncludeSat {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// callProvider runs one provider with at most one retry. Only timeouts and
// rate limiting are retried; semantic upstream errors and malformed payloads
// are final on the first attempt.
func (a *Aggregator) callProvider(ctx context.Context, p Provider, q Query) ([]Measurement, bool, *FetchError) {
	ms, ferr := a.attempt(ctx, p, q)
	if ferr == nil || !ferr.Retryable() || ctx.Err() != nil {
		return ms, false, ferr
	}

	a.log.WithFields(logrus.Fields{
		"provider": p.Name(),
		"kind":     ferr.Kind,
	}).Info("retrying provider after transient failure")

	ms, ferr = a.attempt(ctx, p, q)
	return ms, true, ferr
}

func (a *Aggregator) attempt(ctx context.Context, p Provider, q Query) ([]Measurement, *FetchError) {
	callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	start := time.Now()
	raw, err := p.Fetch(callCtx, q)
	if a.metrics != nil {
		a.metrics.ProviderRequestDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		ferr := AsFetchError(p.Name(), err)
		a.observe(p.Name(), string(ferr.Kind))
		return nil, ferr
	}

	ms, err := p.Normalize(raw)
	if err != nil {
		a.observe(p.Name(), string(FetchMalformedPayload))
		return nil, &FetchError{Provider: p.Name(), Kind: FetchMalformedPayload, Err: err}
	}

	for i := range ms {
		if ms[i].Source == "" {
			ms[i].Source = p.Name()
		}
		if ms[i].Quality == "" {
			ms[i].Quality = QualityUnknown
		}
	}

	a.observe(p.Name(), "ok")
	return ms, nil
}

func (a *Aggregator) observe(provider, outcome string) {
	if a.metrics != nil {
		a.metrics.ProviderRequestsTotal.WithLabelValues(provider, outcome).Inc()
	}
}

// sortMeasurements makes the merged output deterministic: observation
// timestamp ascending, tie-broken by source identity, then name.
func sortMeasurements(ms []Measurement) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].Timestamp.Equal(ms[j].Timestamp) {
			return ms[i].Timestamp.Before(ms[j].Timestamp)
		}
		if ms[i].Source != ms[j].Source {
			return ms[i].Source < ms[j].Source
		}
		return ms[i].Name < ms[j].Name
	})
}
