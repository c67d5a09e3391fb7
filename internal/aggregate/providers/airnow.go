package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"airhealth-data-api/internal/aggregate"
	"airhealth-data-api/internal/geo"
)

// AirNowProvider queries AirNow current observations near a point. Coverage
// is mostly US; an empty result set outside it is normal.
type AirNowProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewAirNowProvider(client *http.Client, apiKey, baseURL string) *AirNowProvider {
	return &AirNowProvider{
		name:    "airnow",
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		circuit: newBreaker("airnow"),
	}
}

func (p *AirNowProvider) Name() string               { return p.name }
func (p *AirNowProvider) Kind() aggregate.SourceKind { return aggregate.KindGround }

func (p *AirNowProvider) Describe(q aggregate.Query) aggregate.Source {
	return aggregate.Source{
		Name:         "AirNow observations",
		URL:          p.observationsURL(q, true),
		Note:         "Current observations by lat/lon; API key required.",
		AuthRequired: true,
	}
}

func (p *AirNowProvider) observationsURL(q aggregate.Query, redact bool) string {
	key := p.apiKey
	if redact {
		key = "<REQUIRED>"
	}
	values := url.Values{}
	values.Set("format", "application/json")
	values.Set("latitude", fmt.Sprintf("%f", q.Location.Lat))
	values.Set("longitude", fmt.Sprintf("%f", q.Location.Lon))
	values.Set("distance", fmt.Sprintf("%.1f", geo.KmToMiles(q.RadiusKm)))
	values.Set("API_KEY", key)
	return fmt.Sprintf("%s/aq/observation/latLong/current/?%s", p.baseURL, values.Encode())
}

// Fetch returns the observation array exactly as AirNow sent it.
func (p *AirNowProvider) Fetch(ctx context.Context, q aggregate.Query) ([]byte, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("airnow api key is not configured")
	}

	return doRequest(ctx, p.client, p.circuit, p.name, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, p.observationsURL(q, false), nil)
	})
}

type airNowObservation struct {
	DateObserved  string `json:"DateObserved"`
	HourObserved  int    `json:"HourObserved"`
	ParameterName string `json:"ParameterName"`
	AQI           int    `json:"AQI"`
}

// Normalize emits one AQI measurement per reported parameter. AirNow stamps
// observations in station local time without an offset, so timestamps are
// taken as UTC and the reading is flagged unknown quality.
func (p *AirNowProvider) Normalize(raw []byte) ([]aggregate.Measurement, error) {
	var observations []airNowObservation
	if err := json.Unmarshal(raw, &observations); err != nil {
		return nil, fmt.Errorf("decode airnow observations: %w", err)
	}

	var out []aggregate.Measurement
	for _, o := range observations {
		if o.ParameterName == "" {
			continue
		}

		name := strings.ToLower(strings.ReplaceAll(o.ParameterName, ".", ""))

		var ts time.Time
		if day, err := time.Parse("2006-01-02", strings.TrimSpace(o.DateObserved)); err == nil {
			ts = day.Add(time.Duration(o.HourObserved) * time.Hour)
		}

		out = append(out, aggregate.Measurement{
			Name:      name,
			Value:     float64(o.AQI),
			Unit:      "AQI",
			Source:    p.name,
			Timestamp: ts,
			Quality:   aggregate.QualityUnknown,
		})
	}

	return out, nil
}
