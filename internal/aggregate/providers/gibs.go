package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"airhealth-data-api/internal/aggregate"
	"airhealth-data-api/internal/geo"
)

// Worldview snapshots cover a fixed box around the point; the service takes
// an extent, not a radius.
const gibsBBoxHalfDeg = 0.2

// GIBSProvider checks availability of a named Worldview imagery layer for the
// requested day and point. The snapshot itself is a GeoTIFF, so the client
// probes it with HEAD and normalizes the response metadata.
type GIBSProvider struct {
	name    string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewGIBSProvider(client *http.Client, baseURL string) *GIBSProvider {
	return &GIBSProvider{
		name:    "gibs",
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		circuit: newBreaker("gibs"),
	}
}

func (p *GIBSProvider) Name() string               { return p.name }
func (p *GIBSProvider) Kind() aggregate.SourceKind { return aggregate.KindSatellite }

func (p *GIBSProvider) Describe(q aggregate.Query) aggregate.Source {
	return aggregate.Source{
		Name: "GIBS Worldview " + q.GIBSLayer,
		URL:  p.snapshotURL(q),
		Note: "GeoTIFF via Worldview Snapshots; direct download, no auth.",
	}
}

func (p *GIBSProvider) snapshotURL(q aggregate.Query) string {
	bbox := geo.PointBBox(q.Location.Lat, q.Location.Lon, gibsBBoxHalfDeg)
	return fmt.Sprintf(
		"%s?REQUEST=GetSnapshot&TIME=%s&BBOX=%f,%f,%f,%f&CRS=EPSG:4326&LAYERS=%s&FORMAT=image/geotiff&WIDTH=1024&HEIGHT=1024",
		p.baseURL,
		q.Window.When.UTC().Format("2006-01-02"),
		bbox.South, bbox.West, bbox.North, bbox.East,
		q.GIBSLayer,
	)
}

// gibsEnvelope carries the HEAD probe result from Fetch to Normalize.
type gibsEnvelope struct {
	Layer         string    `json:"layer"`
	URL           string    `json:"url"`
	Time          time.Time `json:"time"`
	StatusCode    int       `json:"status_code"`
	ContentType   string    `json:"content_type"`
	ContentLength int64     `json:"content_length"`
}

func (p *GIBSProvider) Fetch(ctx context.Context, q aggregate.Query) ([]byte, error) {
	u := p.snapshotURL(q)

	head, err := doHead(ctx, p.client, p.circuit, p.name, u)
	if err != nil {
		return nil, err
	}

	return json.Marshal(gibsEnvelope{
		Layer:         q.GIBSLayer,
		URL:           u,
		Time:          q.Window.When.UTC().Truncate(24 * time.Hour),
		StatusCode:    head.StatusCode,
		ContentType:   head.ContentType,
		ContentLength: head.ContentLength,
	})
}

// Normalize reports the granule size for the layer and day. A non-image
// content type means the service answered with something other than the
// snapshot, so the reading is suspect.
func (p *GIBSProvider) Normalize(raw []byte) ([]aggregate.Measurement, error) {
	var env gibsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode gibs envelope: %w", err)
	}

	quality := aggregate.QualityGood
	if !strings.HasPrefix(env.ContentType, "image/") || env.ContentLength <= 0 {
		quality = aggregate.QualitySuspect
	}

	size := env.ContentLength
	if size < 0 {
		size = 0
	}

	return []aggregate.Measurement{{
		Name:      "snapshot_bytes",
		Value:     float64(size),
		Unit:      "bytes",
		Source:    p.name,
		Timestamp: env.Time,
		Quality:   quality,
	}}, nil
}
