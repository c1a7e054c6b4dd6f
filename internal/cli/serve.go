package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/orbital-sentry/internal/api/http"
	"github.com/i474232898/orbital-sentry/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Scan on a schedule and serve the results over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	c, err := newComponents(cfg)
	if err != nil {
		return err
	}

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Drop cached references when they are replaced on disk.
	log.Info().Str("dir", c.baselines.Dir()).Msg("watching baseline directory")
	go func() {
		if err := c.baselines.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("baseline watcher stopped")
		}
	}()

	// Scheduler that periodically scans every key.
	sched := scheduler.New(cfg.Plan, cfg.ScanInterval, cfg.RunTimeout, cfg.CaptureDate, c.service)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := newApp(cfg.OutputDir)

	// API routes.
	httpapi.RegisterRoutes(app, c.service, sched)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("starting server")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}

func newApp(outputDir string) *fiber.App {
	// No WriteTimeout: manual scans hold the request open until the run finishes.
	app := fiber.New(fiber.Config{
		AppName:               "orbital-sentry",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "orbital-sentry",
		})
	})

	// Published report documents and images.
	app.Static("/report", outputDir)

	return app
}
