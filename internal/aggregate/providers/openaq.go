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

// OpenAQProvider queries the OpenAQ v3 API for the nearest ground station and
// its latest readings. One logical fetch is the locations -> detail -> latest
// flow recommended by the v3 docs.
type OpenAQProvider struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewOpenAQProvider(client *http.Client, apiKey, baseURL string) *OpenAQProvider {
	return &OpenAQProvider{
		name:    "openaq",
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		circuit: newBreaker("openaq"),
	}
}

func (p *OpenAQProvider) Name() string               { return p.name }
func (p *OpenAQProvider) Kind() aggregate.SourceKind { return aggregate.KindGround }

func (p *OpenAQProvider) Describe(q aggregate.Query) aggregate.Source {
	return aggregate.Source{
		Name:         "OpenAQ latest by location (v3)",
		URL:          p.locationsURL(q),
		Note:         "OpenAQ v3 locations -> latest",
		AuthRequired: true,
	}
}

// openaqEnvelope is the raw payload carried from Fetch to Normalize: the
// query context plus the station detail and latest readings as returned
// upstream.
type openaqEnvelope struct {
	Query      aggregate.Location `json:"query"`
	QueryTime  time.Time          `json:"query_time"`
	RadiusKm   float64            `json:"radius_km"`
	LocationID int64              `json:"location_id"`
	Station    aggregate.Location `json:"station"`
	Sensors    []openaqSensor     `json:"sensors"`
	Latest     []openaqLatest     `json:"latest"`
}

type openaqSensor struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Units string `json:"units"`
}

type openaqLatest struct {
	SensorsID int64   `json:"sensorsId"`
	Value     float64 `json:"value"`
	Datetime  string  `json:"datetime"`
}

func (p *OpenAQProvider) locationsURL(q aggregate.Query) string {
	values := url.Values{}
	values.Set("coordinates", fmt.Sprintf("%f,%f", q.Location.Lat, q.Location.Lon))
	values.Set("radius", fmt.Sprintf("%d", int(q.RadiusKm*1000)))
	values.Set("limit", "1")
	values.Set("order_by", "distance")
	values.Set("sort", "asc")
	return fmt.Sprintf("%s/v3/locations?%s", p.baseURL, values.Encode())
}

func (p *OpenAQProvider) Fetch(ctx context.Context, q aggregate.Query) ([]byte, error) {
	env := openaqEnvelope{
		Query:     q.Location,
		QueryTime: q.Window.When,
		RadiusKm:  q.RadiusKm,
	}

	// 1) nearest station
	var locs struct {
		Results []struct {
			ID          int64 `json:"id"`
			Coordinates struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"coordinates"`
		} `json:"results"`
	}
	if err := p.getJSON(ctx, p.locationsURL(q), &locs); err != nil {
		return nil, err
	}
	if len(locs.Results) == 0 {
		// No station within radius: an empty envelope normalizes to zero
		// measurements, which is "no data", not a failure.
		return json.Marshal(env)
	}

	loc := locs.Results[0]
	env.LocationID = loc.ID
	env.Station = aggregate.Location{Lat: loc.Coordinates.Latitude, Lon: loc.Coordinates.Longitude}

	// 2) station detail, to map sensor ids onto parameters
	var detail struct {
		Results []struct {
			Sensors []struct {
				ID        int64 `json:"id"`
				Parameter struct {
					Name  string `json:"name"`
					Units string `json:"units"`
				} `json:"parameter"`
			} `json:"sensors"`
		} `json:"results"`
	}
	detailURL := fmt.Sprintf("%s/v3/locations/%d", p.baseURL, loc.ID)
	if err := p.getJSON(ctx, detailURL, &detail); err != nil {
		return nil, err
	}
	if len(detail.Results) > 0 {
		for _, s := range detail.Results[0].Sensors {
			env.Sensors = append(env.Sensors, openaqSensor{
				ID:    s.ID,
				Name:  strings.ToLower(s.Parameter.Name),
				Units: s.Parameter.Units,
			})
		}
	}

	// 3) latest readings per sensor
	var latest struct {
		Results []struct {
			SensorsID int64   `json:"sensorsId"`
			Value     float64 `json:"value"`
			Datetime  struct {
				UTC string `json:"utc"`
			} `json:"datetime"`
		} `json:"results"`
	}
	latestURL := fmt.Sprintf("%s/v3/locations/%d/latest", p.baseURL, loc.ID)
	if err := p.getJSON(ctx, latestURL, &latest); err != nil {
		return nil, err
	}
	for _, r := range latest.Results {
		env.Latest = append(env.Latest, openaqLatest{
			SensorsID: r.SensorsID,
			Value:     r.Value,
			Datetime:  r.Datetime.UTC,
		})
	}

	return json.Marshal(env)
}

func (p *OpenAQProvider) getJSON(ctx context.Context, u string, dest interface{}) error {
	body, err := doRequest(ctx, p.client, p.circuit, p.name, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		if p.apiKey != "" {
			req.Header.Set("X-API-Key", p.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dest)
}

// Normalize maps the envelope onto pm25/no2/o3 measurements. Gases reported
// in ppm are converted to ppb; stations outside the requested radius flag
// their readings as suspect rather than dropping them.
func (p *OpenAQProvider) Normalize(raw []byte) ([]aggregate.Measurement, error) {
	var env openaqEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode openaq envelope: %w", err)
	}
	if env.LocationID == 0 {
		return nil, nil
	}

	sensors := make(map[int64]openaqSensor, len(env.Sensors))
	for _, s := range env.Sensors {
		sensors[s.ID] = s
	}

	quality := aggregate.QualityGood
	if geo.DistanceKm(env.Query.Lat, env.Query.Lon, env.Station.Lat, env.Station.Lon) > env.RadiusKm {
		quality = aggregate.QualitySuspect
	}

	wanted := map[string]bool{"pm25": true, "no2": true, "o3": true}

	var out []aggregate.Measurement
	for _, r := range env.Latest {
		s, ok := sensors[r.SensorsID]
		if !ok || !wanted[s.Name] {
			continue
		}

		value := r.Value
		units := s.Units
		if (s.Name == "no2" || s.Name == "o3") && units == "ppm" {
			value *= 1000.0
			units = "ppb"
		}

		ts := env.QueryTime
		if parsed, err := time.Parse(time.RFC3339, r.Datetime); err == nil {
			ts = parsed.UTC()
		}

		out = append(out, aggregate.Measurement{
			Name:      s.Name,
			Value:     value,
			Unit:      units,
			Source:    p.name,
			Timestamp: ts,
			Quality:   quality,
		})
	}

	return out, nil
}
