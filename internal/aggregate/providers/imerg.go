package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"airhealth-data-api/internal/aggregate"
)

// IMERG 0.1 degree global grid.
const (
	imergMaxLatIdx = 1799
	imergMaxLonIdx = 3599
)

// IMERGProvider reads GPM IMERG V07 half-hourly precipitation through
// OPeNDAP ascii subsetting. Earthdata credentials are required.
type IMERGProvider struct {
	name     string
	baseURL  string
	username string
	password string
	client   *http.Client
	circuit  *gobreaker.CircuitBreaker
}

func NewIMERGProvider(client *http.Client, baseURL, username, password string) *IMERGProvider {
	return &IMERGProvider{
		name:     "imerg",
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   client,
		circuit:  newBreaker("imerg"),
	}
}

func (p *IMERGProvider) Name() string               { return p.name }
func (p *IMERGProvider) Kind() aggregate.SourceKind { return aggregate.KindSatellite }

func (p *IMERGProvider) Describe(q aggregate.Query) aggregate.Source {
	return aggregate.Source{
		Name:         "IMERG precipitationCal (mm/h)",
		URL:          p.subsetURL(q),
		Note:         "OPeNDAP ascii subset of the half-hour granule; Earthdata required.",
		AuthRequired: true,
	}
}

func imergLatIdx(lat float64) int {
	return clamp(int(roundHalf((lat+90.0)*10.0)), 0, imergMaxLatIdx)
}

func imergLonIdx(lon float64) int {
	return clamp(int(roundHalf((lon+180.0)*10.0)), 0, imergMaxLonIdx)
}

// halfHourWindow returns the granule interval containing t.
func halfHourWindow(t time.Time) (time.Time, time.Time) {
	minute := 0
	if t.Minute() >= 30 {
		minute = 30
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, time.UTC)
	return start, start.Add(29*time.Minute + 59*time.Second)
}

func imergGranuleName(t time.Time) string {
	start, end := halfHourWindow(t)
	return fmt.Sprintf(
		"3B-HHR-L.MS.MRG.3IMERG.%s-S%s-E%s.V07B.HDF5",
		t.Format("20060102"), start.Format("150405"), end.Format("150405"),
	)
}

// neighborhoodCells converts the request radius into grid cells, bounded so
// the subset stays a handful of values.
func neighborhoodCells(radiusKm float64) int {
	// one 0.1 degree cell is roughly 11 km at the equator
	return clamp(int(radiusKm/11.0), 0, 2)
}

func (p *IMERGProvider) subsetURL(q aggregate.Query) string {
	t := q.Window.When.UTC()
	iy := imergLatIdx(q.Location.Lat)
	ix := imergLonIdx(q.Location.Lon)
	r := neighborhoodCells(q.RadiusKm)

	y0, y1 := clamp(iy-r, 0, imergMaxLatIdx), clamp(iy+r, 0, imergMaxLatIdx)
	x0, x1 := clamp(ix-r, 0, imergMaxLonIdx), clamp(ix+r, 0, imergMaxLonIdx)

	return fmt.Sprintf(
		"%s/opendap/GPM_L3/GPM_3IMERGHH.07/%s/%s.ascii?precipitationCal[%d:%d][%d:%d]",
		p.baseURL, t.Format("2006/01/02"), imergGranuleName(t), y0, y1, x0, x1,
	)
}

// imergEnvelope wraps the ascii subset with the granule start time so
// Normalize can stamp the measurement without doing I/O.
type imergEnvelope struct {
	Time  time.Time `json:"time"`
	ASCII string    `json:"ascii"`
}

func (p *IMERGProvider) Fetch(ctx context.Context, q aggregate.Query) ([]byte, error) {
	body, err := doRequest(ctx, p.client, p.circuit, p.name, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, p.subsetURL(q), nil)
		if err != nil {
			return nil, err
		}
		if p.username != "" {
			req.SetBasicAuth(p.username, p.password)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	start, _ := halfHourWindow(q.Window.When.UTC())
	return json.Marshal(imergEnvelope{Time: start, ASCII: string(body)})
}

var (
	imergValueRe  = regexp.MustCompile(`precipitationCal\[\d+\]\[\d+\]\s*=\s*([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)`)
	imergNumberRe = regexp.MustCompile(`[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?`)
)

// Normalize averages the subset neighborhood into one rain rate. Fill values
// (negative) are dropped; a neighborhood that only had fill values yields no
// measurement rather than an error.
func (p *IMERGProvider) Normalize(raw []byte) ([]aggregate.Measurement, error) {
	var env imergEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode imerg envelope: %w", err)
	}

	values := parseIMERGValues(env.ASCII)
	if len(values) == 0 {
		return nil, nil
	}

	quality := aggregate.QualityGood
	var sum float64
	kept := 0
	for _, v := range values {
		if v < 0 {
			// IMERG uses large negative fill values for missing pixels.
			quality = aggregate.QualitySuspect
			continue
		}
		sum += v
		kept++
	}
	if kept == 0 {
		return nil, nil
	}

	return []aggregate.Measurement{{
		Name:      "imerg_rate",
		Value:     sum / float64(kept),
		Unit:      "mm/h",
		Source:    p.name,
		Timestamp: env.Time,
		Quality:   quality,
	}}, nil
}

func parseIMERGValues(ascii string) []float64 {
	var out []float64
	for _, m := range imergValueRe.FindAllStringSubmatch(ascii, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out = append(out, v)
		}
	}
	if len(out) > 0 {
		return out
	}

	// Some OPeNDAP servers answer with a bare Data: section instead.
	body := ascii
	if i := strings.LastIndex(ascii, "Data:"); i >= 0 {
		body = ascii[i+len("Data:"):]
	} else {
		return nil
	}
	for _, m := range imergNumberRe.FindAllString(body, -1) {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundHalf(v float64) float64 {
	if v < 0 {
		return float64(int(v - 0.5))
	}
	return float64(int(v + 0.5))
}
