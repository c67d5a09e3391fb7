package aggregate

import "context"

// Provider abstracts one upstream data source (ground sensor network,
// satellite product, reanalysis model).
//
// Fetch performs exactly one logical upstream query and returns the raw
// payload; it must obey ctx cancellation and must not retry (the retry policy
// belongs to the aggregator). Normalize is a pure mapping of that payload
// into Measurements: it tolerates missing optional fields and fails only when
// the payload is structurally unparseable.
type Provider interface {
	Name() string
	Kind() SourceKind
	Describe(q Query) Source
	Fetch(ctx context.Context, q Query) ([]byte, error)
	Normalize(raw []byte) ([]Measurement, error)
}

// StatusRecorder receives per-provider call outcomes, typically the probe
// ledger surfaced at /health.
type StatusRecorder interface {
	Record(provider string, ok bool)
}
