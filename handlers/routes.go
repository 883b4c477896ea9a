// handlers/routes.go
package handlers

import (
	"context"
	"strings"
	"time"

	"grubs-service/middleware"
	"grubs-service/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Positions    *services.PositionService
	Events       *services.EventService
	Ledger       *services.LedgerService
	Stats        *services.StatsService
	Driver       *services.TickDriver
	Health       Pinger
	WalletAPIKey string
	CronSecret   string
	// RequestTimeout bounds every request's context except /cron.
	RequestTimeout time.Duration
	// CronTimeout bounds an HTTP-triggered tick, matching the scheduler's job timeout.
	CronTimeout time.Duration
	Now         func() time.Time
	Log         *zap.Logger
}

// NewApp builds the fiber app with every route registered.
func NewApp(d Deps) *fiber.App {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 10 * time.Second
	}
	if d.CronTimeout <= 0 {
		d.CronTimeout = 5 * time.Minute
	}

	// Immutable: handler strings (params, headers, bodies) outlive the request in
	// stores and caches, so they must not alias fasthttp's reused buffers.
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(d.Log),
		DisableStartupMessage: true,
		Immutable:             true,
	})
	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d.timeoutFor(c.Path()))
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := d.Health.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured := app.Group("/s", middleware.UserContextMiddleware(d.Log))
	SetupLocationRoutes(secured, d.Positions, d.Now, d.Log)
	SetupEventRoutes(secured, d.Events, d.Now, d.Log)
	SetupStatsRoutes(secured, d.Stats, d.Now, d.Log)

	wallet := app.Group("/wallet", middleware.APIKeyMiddleware(d.WalletAPIKey, d.Log))
	SetupWalletRoutes(secured, wallet, d.Ledger, d.Now, d.Log)

	cron := app.Group("/cron", middleware.BearerSecretMiddleware(d.CronSecret, d.Log))
	SetupCronRoutes(cron, d.Driver, d.Now, d.Log)

	return app
}

func (d Deps) timeoutFor(path string) time.Duration {
	if path == "/cron" || strings.HasPrefix(path, "/cron/") {
		return d.CronTimeout
	}
	return d.RequestTimeout
}
