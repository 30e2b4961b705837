package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/crypto-broker/ledger/internal/config"
	"github.com/crypto-broker/ledger/internal/ledger"
	"github.com/crypto-broker/ledger/internal/locks"
	"github.com/crypto-broker/ledger/internal/middleware"
	"github.com/crypto-broker/ledger/internal/notification"
	"github.com/crypto-broker/ledger/internal/rates"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	// Health
	RegisterHealthRoutes(app, d)

	// Stores and services
	var store ledger.Store
	if d.DB != nil {
		pg := ledger.NewPostgresStore(d.DB)
		if err := pg.InitSchema(context.Background()); err != nil {
			return err
		}
		store = pg
	} else {
		store = ledger.NewInMemory()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	ledgerSvc := ledger.NewService(store, locks.NewRegistry(), notifier, d.Cfg.LockWait)
	ledgerHandler := ledger.NewHandler(ledgerSvc)
	quoteSvc := rates.NewService(d.Cache, d.Cfg.QuoteTTL)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Platform deposit address shown on the user dashboard.
	api.Get("/deposit/address", func(c *fiber.Ctx) error {
		if d.Cfg.DepositAddress == "" {
			return fiber.NewError(http.StatusNotFound, "deposit address not configured")
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"address": d.Cfg.DepositAddress})
	})

	RegisterRatesRoute(api, quoteSvc)
	RegisterLedgerRoutes(api, ledgerHandler, d)

	// Admin surface; actions are audited.
	admin := api.Group("/admin", middleware.Audit(d.Logger))
	RegisterAdminRoutes(admin, ledgerHandler)

	return nil
}
