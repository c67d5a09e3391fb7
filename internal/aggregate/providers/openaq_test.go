package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"airhealth-data-api/internal/aggregate"
)

func TestOpenAQFetchFollowsLocationFlow(t *testing.T) {
	var gotKeys []string

	mux := http.NewServeMux()
	mux.HandleFunc("/v3/locations", func(w http.ResponseWriter, r *http.Request) {
		gotKeys = append(gotKeys, r.Header.Get("X-API-Key"))
		if r.URL.Query().Get("radius") != "25000" {
			t.Errorf("expected radius in meters, got %q", r.URL.Query().Get("radius"))
		}
		fmt.Fprint(w, `{"results":[{"id":7,"coordinates":{"latitude":-16.51,"longitude":-68.14}}]}`)
	})
	mux.HandleFunc("/v3/locations/7", func(w http.ResponseWriter, r *http.Request) {
		gotKeys = append(gotKeys, r.Header.Get("X-API-Key"))
		fmt.Fprint(w, `{"results":[{"sensors":[
			{"id":70,"parameter":{"name":"PM25","units":"µg/m³"}},
			{"id":71,"parameter":{"name":"O3","units":"ppm"}}
		]}]}`)
	})
	mux.HandleFunc("/v3/locations/7/latest", func(w http.ResponseWriter, r *http.Request) {
		gotKeys = append(gotKeys, r.Header.Get("X-API-Key"))
		fmt.Fprint(w, `{"results":[
			{"sensorsId":70,"value":18.5,"datetime":{"utc":"2025-10-05T12:00:00Z"}},
			{"sensorsId":71,"value":0.031,"datetime":{"utc":"2025-10-05T12:00:00Z"}}
		]}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAQProvider(srv.Client(), "test-key", srv.URL)

	raw, err := p.Fetch(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gotKeys) != 3 {
		t.Fatalf("expected 3 upstream calls, got %d", len(gotKeys))
	}
	for _, k := range gotKeys {
		if k != "test-key" {
			t.Fatalf("expected X-API-Key on every call, got %q", k)
		}
	}

	var env openaqEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if env.LocationID != 7 {
		t.Fatalf("expected location 7, got %d", env.LocationID)
	}
	if len(env.Sensors) != 2 || len(env.Latest) != 2 {
		t.Fatalf("envelope incomplete: %+v", env)
	}
}

func TestOpenAQFetchNoStationIsEmptyNotError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/locations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAQProvider(srv.Client(), "test-key", srv.URL)

	raw, err := p.Fetch(context.Background(), testQuery())
	if err != nil {
		t.Fatalf("an empty search result is not a fetch failure: %v", err)
	}

	ms, err := p.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ms) != 0 {
		t.Fatalf("expected zero measurements, got %+v", ms)
	}
}

func TestOpenAQNormalizeConvertsGasesToPPB(t *testing.T) {
	env := openaqEnvelope{
		Query:      aggregate.Location{Lat: -16.5, Lon: -68.15},
		QueryTime:  testWhen,
		RadiusKm:   25,
		LocationID: 7,
		Station:    aggregate.Location{Lat: -16.51, Lon: -68.14},
		Sensors: []openaqSensor{
			{ID: 70, Name: "pm25", Units: "µg/m³"},
			{ID: 71, Name: "o3", Units: "ppm"},
			{ID: 72, Name: "no2", Units: "ppb"},
			{ID: 73, Name: "co", Units: "ppm"},
		},
		Latest: []openaqLatest{
			{SensorsID: 70, Value: 18.5, Datetime: "2025-10-05T12:00:00Z"},
			{SensorsID: 71, Value: 0.031, Datetime: "2025-10-05T12:00:00Z"},
			{SensorsID: 72, Value: 14.0, Datetime: "2025-10-05T12:00:00Z"},
			{SensorsID: 73, Value: 0.4, Datetime: "2025-10-05T12:00:00Z"},
		},
	}
	raw, _ := json.Marshal(env)

	p := NewOpenAQProvider(http.DefaultClient, "", "http://openaq.test")

	ms, err := p.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byName := map[string]aggregate.Measurement{}
	for _, m := range ms {
		byName[m.Name] = m
	}

	// co is not a tracked parameter
	if len(ms) != 3 {
		t.Fatalf("expected pm25/o3/no2 only, got %+v", ms)
	}
	if m := byName["pm25"]; m.Value != 18.5 || m.Unit != "µg/m³" {
		t.Fatalf("pm25 must pass through untouched, got %+v", m)
	}
	if m := byName["o3"]; m.Value != 31.0 || m.Unit != "ppb" {
		t.Fatalf("o3 in ppm must convert to ppb, got %+v", m)
	}
	if m := byName["no2"]; m.Value != 14.0 || m.Unit != "ppb" {
		t.Fatalf("no2 already in ppb must pass through, got %+v", m)
	}

	want := time.Date(2025, 10, 5, 12, 0, 0, 0, time.UTC)
	if !byName["pm25"].Timestamp.Equal(want) {
		t.Fatalf("expected sensor timestamp, got %v", byName["pm25"].Timestamp)
	}
	if byName["pm25"].Quality != aggregate.QualityGood {
		t.Fatalf("station inside the radius must be good, got %s", byName["pm25"].Quality)
	}
}

func TestOpenAQNormalizeFlagsDistantStation(t *testing.T) {
	env := openaqEnvelope{
		Query:      aggregate.Location{Lat: -16.5, Lon: -68.15},
		QueryTime:  testWhen,
		RadiusKm:   25,
		LocationID: 7,
		// Roughly 110 km north of the query point.
		Station: aggregate.Location{Lat: -15.5, Lon: -68.15},
		Sensors: []openaqSensor{{ID: 70, Name: "pm25", Units: "µg/m³"}},
		Latest:  []openaqLatest{{SensorsID: 70, Value: 18.5, Datetime: "bad-timestamp"}},
	}
	raw, _ := json.Marshal(env)

	p := NewOpenAQProvider(http.DefaultClient, "", "http://openaq.test")

	ms, err := p.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ms) != 1 {
		t.Fatalf("expected one measurement, got %+v", ms)
	}
	if ms[0].Quality != aggregate.QualitySuspect {
		t.Fatalf("station outside the radius must be suspect, got %s", ms[0].Quality)
	}
	if !ms[0].Timestamp.Equal(testWhen) {
		t.Fatalf("unparseable sensor timestamp must fall back to query time, got %v", ms[0].Timestamp)
	}
}

func TestOpenAQNormalizeRejectsGarbage(t *testing.T) {
	p := NewOpenAQProvider(http.DefaultClient, "", "http://openaq.test")
	if _, err := p.Normalize([]byte("{")); err == nil {
		t.Fatal("expected a decode error")
	}
}
