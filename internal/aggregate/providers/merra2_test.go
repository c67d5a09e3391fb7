package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"airhealth-data-api/internal/aggregate"
)

func TestMERRA2GridIndexes(t *testing.T) {
	if got := m2LatIdx(0); got != 180 {
		t.Fatalf("lat 0: expected 180, got %d", got)
	}
	if got := m2LonIdx(0); got != 288 {
		t.Fatalf("lon 0: expected 288, got %d", got)
	}
	if got := m2LatIdx(-16.5); got != 147 {
		t.Fatalf("lat -16.5: expected 147, got %d", got)
	}
	if got := m2LonIdx(-68.15); got != 179 {
		t.Fatalf("lon -68.15: expected 179, got %d", got)
	}
	if got := m2LatIdx(90); got != 360 {
		t.Fatalf("lat 90: expected 360, got %d", got)
	}
	if got := m2LonIdx(180); got != 575 {
		t.Fatalf("lon 180 must clamp to 575, got %d", got)
	}
}

func TestMERRA2SubsetURL(t *testing.T) {
	p := NewMERRA2TemperatureProvider(http.DefaultClient, "https://goldsmr4.gesdisc.eosdis.nasa.gov", "user", "pass")

	u := p.subsetURL(testQuery(), merra2TemperatureVars)

	for _, part := range []string{
		"/opendap/MERRA2/M2T1NXSLV.5.12.4/2025/10/",
		"MERRA2_400.tavg1_2d_slv_Nx.20251005.nc4.ascii",
		// hour 13, lat index 147, lon index 179
		"T2M[13:13][147:147][179:179]",
		"RH2M[13:13][147:147][179:179]",
		"TS[13:13][147:147][179:179]",
	} {
		if !strings.Contains(u, part) {
			t.Fatalf("subset URL missing %q: %s", part, u)
		}
	}
}

func TestMERRA2FetchStampsHour(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			t.Errorf("expected earthdata basic auth, got %q/%q", user, pass)
		}
		fmt.Fprint(w, "T2M[0][0][0] = 287.65\n")
	}))
	defer srv.Close()

	p := NewMERRA2TemperatureProvider(srv.Client(), srv.URL, "user", "pass")

	q := testQuery()
	q.Window.When = time.Date(2025, 10, 5, 13, 47, 12, 0, time.UTC)

	raw, err := p.Fetch(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var env merra2Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	want := time.Date(2025, 10, 5, 13, 0, 0, 0, time.UTC)
	if !env.Time.Equal(want) {
		t.Fatalf("expected the sampled hour %v, got %v", want, env.Time)
	}
}

func TestParseMERRA2Scalar(t *testing.T) {
	ascii := "T2M[0][0][0] = 287.65\nRH2M[0][0][0] = 61.2\n"

	if v, ok := parseMERRA2Scalar(ascii, "T2M"); !ok || v != 287.65 {
		t.Fatalf("T2M: got %v %v", v, ok)
	}
	if v, ok := parseMERRA2Scalar(ascii, "RH2M"); !ok || v != 61.2 {
		t.Fatalf("RH2M: got %v %v", v, ok)
	}
	if _, ok := parseMERRA2Scalar(ascii, "TS"); ok {
		t.Fatal("TS is absent and must not parse")
	}
}

func TestMERRA2TemperatureNormalize(t *testing.T) {
	ascii := strings.Join([]string{
		"T2M[0][0][0] = 287.65",
		"RH2M[0][0][0] = 61.2",
		"TS[0][0][0] = 290.15",
	}, "\n")
	raw, _ := json.Marshal(merra2Envelope{Time: testWhen, ASCII: ascii})

	p := NewMERRA2TemperatureProvider(http.DefaultClient, "https://goldsmr4.test", "", "")

	ms, err := p.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ms) != 3 {
		t.Fatalf("expected temperature/humidity/skin_temp, got %+v", ms)
	}

	byName := map[string]aggregate.Measurement{}
	for _, m := range ms {
		byName[m.Name] = m
	}

	if m := byName["temperature"]; math.Abs(m.Value-14.5) > 1e-9 || m.Unit != "°C" {
		t.Fatalf("287.65 K must be 14.5 C, got %+v", m)
	}
	if m := byName["humidity"]; m.Value != 61.2 || m.Unit != "%" {
		t.Fatalf("unexpected humidity %+v", m)
	}
	if m := byName["skin_temp"]; math.Abs(m.Value-17.0) > 1e-9 {
		t.Fatalf("290.15 K must be 17.0 C, got %+v", m)
	}
}

func TestMERRA2TemperatureNormalizeSkipsMissingVariables(t *testing.T) {
	raw, _ := json.Marshal(merra2Envelope{Time: testWhen, ASCII: "T2M[0][0][0] = 287.65"})

	p := NewMERRA2TemperatureProvider(http.DefaultClient, "https://goldsmr4.test", "", "")

	ms, err := p.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ms) != 1 || ms[0].Name != "temperature" {
		t.Fatalf("expected only the temperature reading, got %+v", ms)
	}
}

func TestMERRA2WindNormalize(t *testing.T) {
	ascii := strings.Join([]string{
		"U10M[0][0][0] = 3.0",
		"V10M[0][0][0] = 4.0",
		"PS[0][0][0] = 101325.0",
	}, "\n")
	raw, _ := json.Marshal(merra2Envelope{Time: testWhen, ASCII: ascii})

	p := NewMERRA2WindProvider(http.DefaultClient, "https://goldsmr4.test", "", "")

	ms, err := p.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byName := map[string]aggregate.Measurement{}
	for _, m := range ms {
		byName[m.Name] = m
	}

	if m := byName["wind_speed"]; math.Abs(m.Value-5.0) > 1e-9 || m.Unit != "m/s" {
		t.Fatalf("hypot(3,4) must be 5 m/s, got %+v", m)
	}

	// Wind from the southwest: 270 - atan2(4,3) in degrees.
	wantDir := 270.0 - math.Atan2(4, 3)*180.0/math.Pi
	if m := byName["wind_dir"]; math.Abs(m.Value-wantDir) > 1e-9 || m.Unit != "°" {
		t.Fatalf("expected direction %.4f, got %+v", wantDir, m)
	}

	if m := byName["pressure"]; math.Abs(m.Value-1013.25) > 1e-9 || m.Unit != "hPa" {
		t.Fatalf("101325 Pa must be 1013.25 hPa, got %+v", m)
	}
}

func TestMERRA2WindNormalizeNeedsBothComponents(t *testing.T) {
	raw, _ := json.Marshal(merra2Envelope{Time: testWhen, ASCII: "U10M[0][0][0] = 3.0\nPS[0][0][0] = 100000.0"})

	p := NewMERRA2WindProvider(http.DefaultClient, "https://goldsmr4.test", "", "")

	ms, err := p.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ms) != 1 || ms[0].Name != "pressure" {
		t.Fatalf("a lone wind component must yield pressure only, got %+v", ms)
	}
}
