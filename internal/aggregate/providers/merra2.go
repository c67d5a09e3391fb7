package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"airhealth-data-api/internal/aggregate"
)

// MERRA-2 M2T1NXSLV grid: 0.5 degree latitude steps over [-90,90] and
// 0.625 degree longitude steps over [-180,180].
const (
	m2MaxLatIdx = 360
	m2MaxLonIdx = 575
)

const kelvinOffset = 273.15

// merra2Client is the transport shared by the temperature and wind providers:
// one OPeNDAP ascii subset request for a set of single-level variables at the
// grid cell and hour nearest the query.
type merra2Client struct {
	name     string
	baseURL  string
	username string
	password string
	client   *http.Client
	circuit  *gobreaker.CircuitBreaker
}

func m2LatIdx(lat float64) int {
	return clamp(int(roundHalf((lat+90.0)/0.5)), 0, m2MaxLatIdx)
}

func m2LonIdx(lon float64) int {
	return clamp(int(roundHalf((lon+180.0)/0.625)), 0, m2MaxLonIdx)
}

// m2Stream selects the MERRA-2 production stream for a year. Recent years
// all live under stream 400.
func m2Stream(year int) string {
	return "400"
}

func (c *merra2Client) subsetURL(q aggregate.Query, vars []string) string {
	t := q.Window.When.UTC()
	j := m2LatIdx(q.Location.Lat)
	i := m2LonIdx(q.Location.Lon)
	hour := t.Hour()

	parts := make([]string, 0, len(vars))
	for _, v := range vars {
		parts = append(parts, fmt.Sprintf("%s[%d:%d][%d:%d][%d:%d]", v, hour, hour, j, j, i, i))
	}

	return fmt.Sprintf(
		"%s/opendap/MERRA2/M2T1NXSLV.5.12.4/%s/MERRA2_%s.tavg1_2d_slv_Nx.%s.nc4.ascii?%s",
		c.baseURL, t.Format("2006/01"), m2Stream(t.Year()), t.Format("20060102"), strings.Join(parts, ","),
	)
}

// merra2Envelope wraps the ascii subset with the sampled hour so the pure
// normalizers can stamp measurements.
type merra2Envelope struct {
	Time  time.Time `json:"time"`
	ASCII string    `json:"ascii"`
}

func (c *merra2Client) fetch(ctx context.Context, q aggregate.Query, vars []string) ([]byte, error) {
	body, err := doRequest(ctx, c.client, c.circuit, c.name, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, c.subsetURL(q, vars), nil)
		if err != nil {
			return nil, err
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(merra2Envelope{
		Time:  q.Window.When.UTC().Truncate(time.Hour),
		ASCII: string(body),
	})
}

// parseMERRA2Scalar extracts one variable's value from the ascii subset.
func parseMERRA2Scalar(ascii, variable string) (float64, bool) {
	re := regexp.MustCompile(regexp.QuoteMeta(variable) + `\[\d+\]\[\d+\]\[\d+\]\s*=\s*([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)`)
	m := re.FindStringSubmatch(ascii)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *merra2Client) describe(q aggregate.Query, label string, vars []string) aggregate.Source {
	return aggregate.Source{
		Name:         "MERRA-2 " + label,
		URL:          c.subsetURL(q, vars),
		Note:         "OPeNDAP ascii subset of M2T1NXSLV; Earthdata required.",
		AuthRequired: true,
	}
}

var merra2TemperatureVars = []string{"T2M", "RH2M", "TS"}

// MERRA2TemperatureProvider reads 2m temperature, relative humidity and skin
// temperature from the hourly single-level reanalysis.
type MERRA2TemperatureProvider struct {
	merra2Client
}

func NewMERRA2TemperatureProvider(client *http.Client, baseURL, username, password string) *MERRA2TemperatureProvider {
	return &MERRA2TemperatureProvider{merra2Client{
		name:     "merra2_slv",
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   client,
		circuit:  newBreaker("merra2_slv"),
	}}
}

func (p *MERRA2TemperatureProvider) Name() string               { return p.name }
func (p *MERRA2TemperatureProvider) Kind() aggregate.SourceKind { return aggregate.KindReanalysis }

func (p *MERRA2TemperatureProvider) Describe(q aggregate.Query) aggregate.Source {
	return p.describe(q, "T2M/RH2M/TS", merra2TemperatureVars)
}

func (p *MERRA2TemperatureProvider) Fetch(ctx context.Context, q aggregate.Query) ([]byte, error) {
	return p.fetch(ctx, q, merra2TemperatureVars)
}

// Normalize converts the Kelvin temperatures to Celsius. Variables missing
// from the subset are skipped, not treated as failures.
func (p *MERRA2TemperatureProvider) Normalize(raw []byte) ([]aggregate.Measurement, error) {
	var env merra2Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode merra2 envelope: %w", err)
	}

	var out []aggregate.Measurement
	if v, ok := parseMERRA2Scalar(env.ASCII, "T2M"); ok {
		out = append(out, p.measurement("temperature", v-kelvinOffset, "°C", env.Time))
	}
	if v, ok := parseMERRA2Scalar(env.ASCII, "RH2M"); ok {
		out = append(out, p.measurement("humidity", v, "%", env.Time))
	}
	if v, ok := parseMERRA2Scalar(env.ASCII, "TS"); ok {
		out = append(out, p.measurement("skin_temp", v-kelvinOffset, "°C", env.Time))
	}
	return out, nil
}

func (c *merra2Client) measurement(name string, value float64, unit string, ts time.Time) aggregate.Measurement {
	return aggregate.Measurement{
		Name:      name,
		Value:     value,
		Unit:      unit,
		Source:    c.name,
		Timestamp: ts,
		Quality:   aggregate.QualityGood,
	}
}

var merra2WindVars = []string{"U10M", "V10M", "PS"}

// MERRA2WindProvider reads the 10m wind components and surface pressure.
type MERRA2WindProvider struct {
	merra2Client
}

func NewMERRA2WindProvider(client *http.Client, baseURL, username, password string) *MERRA2WindProvider {
	return &MERRA2WindProvider{merra2Client{
		name:     "merra2_wind",
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		client:   client,
		circuit:  newBreaker("merra2_wind"),
	}}
}

func (p *MERRA2WindProvider) Name() string               { return p.name }
func (p *MERRA2WindProvider) Kind() aggregate.SourceKind { return aggregate.KindReanalysis }

func (p *MERRA2WindProvider) Describe(q aggregate.Query) aggregate.Source {
	return p.describe(q, "U10M/V10M/PS", merra2WindVars)
}

func (p *MERRA2WindProvider) Fetch(ctx context.Context, q aggregate.Query) ([]byte, error) {
	return p.fetch(ctx, q, merra2WindVars)
}

// Normalize derives wind speed and the meteorological direction (degrees the
// wind blows from) out of the U/V components. Both components must be
// present; pressure is independent.
func (p *MERRA2WindProvider) Normalize(raw []byte) ([]aggregate.Measurement, error) {
	var env merra2Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode merra2 envelope: %w", err)
	}

	var out []aggregate.Measurement

	u, uOK := parseMERRA2Scalar(env.ASCII, "U10M")
	v, vOK := parseMERRA2Scalar(env.ASCII, "V10M")
	if uOK && vOK {
		speed := math.Hypot(u, v)
		dir := math.Mod(270.0-math.Atan2(v, u)*180.0/math.Pi, 360.0)
		if dir < 0 {
			dir += 360.0
		}
		out = append(out,
			p.measurement("wind_speed", speed, "m/s", env.Time),
			p.measurement("wind_dir", dir, "°", env.Time),
		)
	}

	if ps, ok := parseMERRA2Scalar(env.ASCII, "PS"); ok {
		out = append(out, p.measurement("pressure", ps/100.0, "hPa", env.Time))
	}

	return out, nil
}
