package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"airhealth-data-api/internal/aggregate"
	"airhealth-data-api/internal/metrics"
)

var validate = validator.New()

// Defaults recovered from the upstream request contracts.
const (
	defaultRadiusKm   = 25.0
	defaultPrecipBack = 24
	defaultPrecipFwd  = 24
	aggregateTimeout  = 20 * time.Second
)

// Config carries the handler dependencies and limits.
type Config struct {
	AggregateTimeout time.Duration
	Metrics          *metrics.Collector
}

// RegisterRoutes wires the data endpoints into the Fiber app.
func RegisterRoutes(app *fiber.App, agg *aggregate.Aggregator, cfg Config) {
	if cfg.AggregateTimeout <= 0 {
		cfg.AggregateTimeout = aggregateTimeout
	}

	data := app.Group("/data")
	data.Post("/air_quality", airQualityHandler(agg, cfg))
	data.Post("/precipitation", precipitationHandler(agg, cfg))
	data.Post("/temperature", temperatureHandler(agg, cfg))
	data.Post("/wind", windHandler(agg, cfg))
}

// errorBody is the structured non-2xx response shape.
type errorBody struct {
	Kind     string                    `json:"kind"`
	Message  string                    `json:"message"`
	Provider string                    `json:"provider,omitempty"`
	Errors   []aggregate.ProviderError `json:"errors,omitempty"`
}

type locationBody struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

func (l *locationBody) toLocation() aggregate.Location {
	return aggregate.Location{Lat: *l.Lat, Lon: *l.Lon}
}

type airQualityBody struct {
	Location      *locationBody `json:"location" validate:"required"`
	When          string        `json:"when"`
	RadiusKm      *float64      `json:"radius_km" validate:"omitempty,gt=0"`
	IncludeGround *bool         `json:"include_ground"`
	IncludeSat    *bool         `json:"include_sat"`
	GIBSLayer     string        `json:"gibs_layer"`
}

type precipitationBody struct {
	Location  *locationBody `json:"location" validate:"required"`
	When      string        `json:"when"`
	HoursBack *int          `json:"hours_back" validate:"omitempty,gte=0"`
	HoursFwd  *int          `json:"hours_fwd" validate:"omitempty,gte=0"`
}

type pointBody struct {
	Location *locationBody `json:"location" validate:"required"`
	When     string        `json:"when"`
}

func airQualityHandler(agg *aggregate.Aggregator, cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body airQualityBody
		if err := bind(c, &body); err != nil {
			return badRequest(c, cfg, aggregate.CategoryAirQuality, err)
		}

		when, err := parseWhen(body.When)
		if err != nil {
			return badRequest(c, cfg, aggregate.CategoryAirQuality, err)
		}

		layer := body.GIBSLayer
		if layer == "" {
			layer = aggregate.DefaultGIBSLayer
		}

		req := aggregate.Request{
			Category:      aggregate.CategoryAirQuality,
			Location:      body.Location.toLocation(),
			Window:        aggregate.QueryWindow{When: when},
			RadiusKm:      floatOr(body.RadiusKm, defaultRadiusKm),
			IncludeGround: boolOr(body.IncludeGround, true),
			IncludeSat:    boolOr(body.IncludeSat, true),
			GIBSLayer:     layer,
		}
		return respond(c, agg, cfg, req)
	}
}

func precipitationHandler(agg *aggregate.Aggregator, cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body precipitationBody
		if err := bind(c, &body); err != nil {
			return badRequest(c, cfg, aggregate.CategoryPrecipitation, err)
		}

		when, err := parseWhen(body.When)
		if err != nil {
			return badRequest(c, cfg, aggregate.CategoryPrecipitation, err)
		}

		req := aggregate.Request{
			Category: aggregate.CategoryPrecipitation,
			Location: body.Location.toLocation(),
			Window: aggregate.QueryWindow{
				When:      when,
				HoursBack: intOr(body.HoursBack, defaultPrecipBack),
				HoursFwd:  intOr(body.HoursFwd, defaultPrecipFwd),
			},
			RadiusKm:      defaultRadiusKm,
			IncludeGround: true,
			IncludeSat:    true,
		}
		return respond(c, agg, cfg, req)
	}
}

func temperatureHandler(agg *aggregate.Aggregator, cfg Config) fiber.Handler {
	return pointHandler(agg, cfg, aggregate.CategoryTemperature)
}

func windHandler(agg *aggregate.Aggregator, cfg Config) fiber.Handler {
	return pointHandler(agg, cfg, aggregate.CategoryWind)
}

func pointHandler(agg *aggregate.Aggregator, cfg Config, category aggregate.Category) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body pointBody
		if err := bind(c, &body); err != nil {
			return badRequest(c, cfg, category, err)
		}

		when, err := parseWhen(body.When)
		if err != nil {
			return badRequest(c, cfg, category, err)
		}

		req := aggregate.Request{
			Category:      category,
			Location:      body.Location.toLocation(),
			Window:        aggregate.QueryWindow{When: when},
			RadiusKm:      defaultRadiusKm,
			IncludeGround: true,
			IncludeSat:    true,
		}
		return respond(c, agg, cfg, req)
	}
}

func bind(c *fiber.Ctx, body interface{}) error {
	if err := c.BodyParser(body); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(body); err != nil {
		return err
	}
	return nil
}

func respond(c *fiber.Ctx, agg *aggregate.Aggregator, cfg Config, req aggregate.Request) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), cfg.AggregateTimeout)
	defer cancel()

	resp, err := agg.Aggregate(ctx, req)
	if err != nil {
		var verr *aggregate.ValidationError
		switch {
		case errors.As(err, &verr):
			count(cfg, req.Category, "400")
			return c.Status(fiber.StatusBadRequest).JSON(errorBody{Kind: "validation", Message: verr.Msg})
		case errors.Is(err, context.DeadlineExceeded):
			count(cfg, req.Category, "504")
			return c.Status(fiber.StatusGatewayTimeout).JSON(errorBody{Kind: "timeout", Message: "aggregation deadline exceeded"})
		default:
			count(cfg, req.Category, "500")
			return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Kind: "internal", Message: "failed to aggregate data"})
		}
	}

	// Every provider for the requested category failed: that is a gateway
	// problem, not an empty dataset.
	if result, ok := resp.Categories[req.Category]; ok && result.Unavailable {
		count(cfg, req.Category, "502")
		return c.Status(fiber.StatusBadGateway).JSON(errorBody{
			Kind:    "category_unavailable",
			Message: fmt.Sprintf("no %s source could be reached", req.Category),
			Errors:  result.Errors,
		})
	}

	count(cfg, req.Category, "200")
	return c.JSON(resp)
}

func badRequest(c *fiber.Ctx, cfg Config, category aggregate.Category, err error) error {
	count(cfg, category, "400")
	return c.Status(fiber.StatusBadRequest).JSON(errorBody{Kind: "validation", Message: err.Error()})
}

func count(cfg Config, category aggregate.Category, status string) {
	if cfg.Metrics != nil {
		cfg.Metrics.APIRequestsTotal.WithLabelValues(string(category), status).Inc()
	}
}

// parseWhen parses the reference timestamp: RFC3339 or Unix seconds, empty
// means now (UTC).
func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

func floatOr(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func intOr(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}
