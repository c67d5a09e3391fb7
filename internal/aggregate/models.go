package aggregate

import (
	"fmt"
	"time"
)

// Category identifies one of the dataset types served by the API.
type Category string

const (
	CategoryAirQuality    Category = "air_quality"
	CategoryPrecipitation Category = "precipitation"
	CategoryTemperature   Category = "temperature"
	CategoryWind          Category = "wind"
)

// Valid reports whether c is one of the known dataset categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryAirQuality, CategoryPrecipitation, CategoryTemperature, CategoryWind:
		return true
	}
	return false
}

// SourceKind classifies where a provider's data comes from. The inclusion
// flags on an air quality request select providers by kind.
type SourceKind string

const (
	KindGround     SourceKind = "ground"
	KindSatellite  SourceKind = "satellite"
	KindReanalysis SourceKind = "reanalysis"
)

// Quality is the per-measurement quality flag. Providers that report no
// quality information get QualityUnknown rather than a failed payload.
type Quality string

const (
	QualityGood    Quality = "good"
	QualitySuspect Quality = "suspect"
	QualityUnknown Quality = "unknown"
)

// DefaultGIBSLayer is used when an air quality request names no imagery layer.
const DefaultGIBSLayer = "MODIS_Terra_Aerosol"

var recognizedGIBSLayers = map[string]bool{
	"MODIS_Terra_Aerosol":              true,
	"MODIS_Aqua_Aerosol":               true,
	"OMI_Aerosol_Index":                true,
	"MODIS_Terra_Cloud_Top_Properties": true,
}

// RecognizedGIBSLayer reports whether name is a known Worldview imagery layer.
func RecognizedGIBSLayer(name string) bool {
	return recognizedGIBSLayers[name]
}

// Location is a geographic point. Constructed once per request.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate checks the coordinate ranges.
func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return &ValidationError{Msg: fmt.Sprintf("latitude %v out of range [-90,90]", l.Lat)}
	}
	if l.Lon < -180 || l.Lon > 180 {
		return &ValidationError{Msg: fmt.Sprintf("longitude %v out of range [-180,180]", l.Lon)}
	}
	return nil
}

// QueryWindow is a reference timestamp plus optional look-back/look-forward
// offsets in hours.
type QueryWindow struct {
	When      time.Time `json:"when"`
	HoursBack int       `json:"hours_back,omitempty"`
	HoursFwd  int       `json:"hours_fwd,omitempty"`
}

// Range returns the absolute interval covered by the window.
func (w QueryWindow) Range() (time.Time, time.Time) {
	return w.When.Add(-time.Duration(w.HoursBack) * time.Hour),
		w.When.Add(time.Duration(w.HoursFwd) * time.Hour)
}

// Query is the provider-facing slice of a validated request.
type Query struct {
	Location  Location
	Window    QueryWindow
	RadiusKm  float64
	GIBSLayer string
}

// Request describes one inbound aggregation call. Immutable once validated.
type Request struct {
	Category      Category
	Location      Location
	Window        QueryWindow
	RadiusKm      float64
	IncludeGround bool
	IncludeSat    bool
	GIBSLayer     string
}

// Validate rejects malformed requests before any provider is dispatched.
func (r Request) Validate() error {
	if !r.Category.Valid() {
		return &ValidationError{Msg: fmt.Sprintf("unknown dataset category %q", r.Category)}
	}
	if err := r.Location.Validate(); err != nil {
		return err
	}
	if r.RadiusKm <= 0 {
		return &ValidationError{Msg: "radius_km must be greater than zero"}
	}
	if r.Window.When.IsZero() {
		return &ValidationError{Msg: "reference timestamp is required"}
	}
	if r.Window.HoursBack < 0 || r.Window.HoursFwd < 0 {
		return &ValidationError{Msg: "window offsets must not be negative"}
	}
	if r.Category == CategoryAirQuality && r.IncludeSat && !RecognizedGIBSLayer(r.GIBSLayer) {
		return &ValidationError{Msg: fmt.Sprintf("unrecognized gibs_layer %q", r.GIBSLayer)}
	}
	return nil
}

func (r Request) query() Query {
	return Query{
		Location:  r.Location,
		Window:    r.Window,
		RadiusKm:  r.RadiusKm,
		GIBSLayer: r.GIBSLayer,
	}
}

// Measurement is the common currency all providers are normalized into.
type Measurement struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Quality   Quality   `json:"quality"`
}

// Source is a reference to the upstream artifact a provider queried.
type Source struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Note         string `json:"note,omitempty"`
	AuthRequired bool   `json:"auth_required"`
}

// ProviderError is the JSON-facing record of a single provider failure.
type ProviderError struct {
	Provider string    `json:"provider"`
	Kind     FetchKind `json:"kind"`
	Message  string    `json:"message"`
}

// ProviderStatus is per-provider metadata attached to every response,
// successful or not.
type ProviderStatus struct {
	Provider   string     `json:"provider"`
	Kind       SourceKind `json:"kind"`
	OK         bool       `json:"ok"`
	Retried    bool       `json:"retried"`
	DurationMs int64      `json:"duration_ms"`
}

// CategoryResult holds the merged measurements and provider errors for one
// dataset category. Unavailable is set only when every provider for the
// category failed, so callers can tell "no data" from "no source reachable".
type CategoryResult struct {
	Measurements []Measurement   `json:"measurements"`
	Errors       []ProviderError `json:"errors,omitempty"`
	Unavailable  bool            `json:"unavailable,omitempty"`
}

// AggregateResponse is the reply for one aggregation call. Created fresh per
// request and never retained server-side.
type AggregateResponse struct {
	Location   Location                    `json:"location"`
	Timestamp  time.Time                   `json:"timestamp"`
	Categories map[Category]CategoryResult `json:"categories"`
	Providers  []ProviderStatus            `json:"providers"`
	Sources    []Source                    `json:"sources,omitempty"`
}
