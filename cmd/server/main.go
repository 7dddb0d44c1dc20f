package main

import (
	"context"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/database"
	"github.com/example/storefront/internal/jobs"
	"github.com/example/storefront/internal/routes"
)

func main() {
	cfg := config.Load()
	db := database.Connect(cfg.DatabaseURL)

	app := fiber.New(fiber.Config{
		AppName: "Storefront Backend",
	})

	app.Use(recover.New())
	app.Use(logger.New())

	svc := routes.Register(app, db, cfg)

	// The retention automaton is normally driven by an external
	// scheduler hitting /api/internal/jobs; the in-process ticker is an
	// opt-in fallback.
	if cfg.RetentionTickInterval > 0 {
		runner := jobs.NewRunner(svc.Retention, cfg.RetentionTickInterval)
		go runner.Run(context.Background())
		log.Printf("Retention runner ticking every %s", cfg.RetentionTickInterval)
	}

	log.Printf("Starting server on :%s", cfg.AppPort)
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatalf("fiber.Listen error: %v", err)
	}
}
