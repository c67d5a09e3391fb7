package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"airhealth-data-api/internal/aggregate"
	"airhealth-data-api/internal/aggregate/providers"
	httpapi "airhealth-data-api/internal/api/http"
	"airhealth-data-api/internal/config"
	"airhealth-data-api/internal/logger"
	"airhealth-data-api/internal/metrics"
	"airhealth-data-api/internal/probe"
)

const appName = "airhealth-data-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Fatalf("failed to load config: %v", err)
	}

	log := logger.New(cfg.LogLevel)

	// Shared HTTP client for outbound provider calls; the per-call context
	// in the aggregator is the authoritative bound.
	httpClient := &http.Client{
		Timeout: cfg.ProviderTimeout,
	}

	mc := metrics.NewCollector("airhealth")

	// Rolling provider health ledger, fed by the aggregator, aged out
	// periodically.
	monitor := probe.NewMonitor(cfg.ProbeMaxAge, log)
	if err := monitor.Start(cfg.ProbeSweepInterval); err != nil {
		log.Fatalf("failed to start probe monitor: %v", err)
	}
	defer monitor.Stop()

	agg := aggregate.New(aggregate.Options{
		CallTimeout: cfg.ProviderTimeout,
		Log:         log,
		Metrics:     mc,
		Recorder:    monitor,
	})

	agg.Register(aggregate.CategoryAirQuality, providers.NewOpenAQProvider(httpClient, cfg.OpenAQAPIKey, cfg.OpenAQBase))
	agg.Register(aggregate.CategoryAirQuality, providers.NewAirNowProvider(httpClient, cfg.AirNowAPIKey, cfg.AirNowBase))
	agg.Register(aggregate.CategoryAirQuality, providers.NewGIBSProvider(httpClient, cfg.WorldviewBase))
	agg.Register(aggregate.CategoryPrecipitation, providers.NewIMERGProvider(httpClient, cfg.GPMOpenDAPBase, cfg.EarthdataUsername, cfg.EarthdataPassword))
	agg.Register(aggregate.CategoryTemperature, providers.NewMERRA2TemperatureProvider(httpClient, cfg.GESDISCBase, cfg.EarthdataUsername, cfg.EarthdataPassword))
	agg.Register(aggregate.CategoryWind, providers.NewMERRA2WindProvider(httpClient, cfg.GESDISCBase, cfg.EarthdataUsername, cfg.EarthdataPassword))

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"kind":    "internal",
				"message": err.Error(),
			})
		},
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"name":    appName,
			"env":     cfg.AppEnv,
			"message": "OK",
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"service":   appName,
			"providers": monitor.Statuses(),
		})
	})

	httpapi.RegisterRoutes(app, agg, httpapi.Config{
		AggregateTimeout: cfg.AggregateTimeout,
		Metrics:          mc,
	})

	// Prometheus scrapes a dedicated listener.
	go func() {
		if err := http.ListenAndServe(":"+cfg.MetricsPort, promhttp.Handler()); err != nil {
			log.Errorf("metrics listener stopped: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorf("fiber server stopped: %v", err)
		}
	}()

	log.WithField("port", cfg.Port).Info("airhealth data api started")

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorf("error during shutdown: %v", err)
	}
}
