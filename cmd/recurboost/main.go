package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/cache"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/database"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/router"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/security"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	security.SetupVault()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		// Processor webhook payloads stay small; no need for a big limit.
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
