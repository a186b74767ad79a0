package controllers

import (
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/database"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/mail"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/metrics"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/recovery"
)

var (
	recoveryOnce sync.Once
	recoverySvc  *recovery.Service

	metricsOnce sync.Once
	metricsSvc  *metrics.Service
)

func recoveryService() *recovery.Service {
	recoveryOnce.Do(func() {
		recoverySvc = recovery.NewServiceFromDB(database.GetDB(), mail.NewFromEnv())
	})
	return recoverySvc
}

func metricsService() *metrics.Service {
	metricsOnce.Do(func() {
		metricsSvc = metrics.NewService(database.GetDB())
	})
	return metricsSvc
}

// currentUserID reads the tenant identity set by the auth layer in front of
// this service.
func currentUserID(c *fiber.Ctx) (uint, bool) {
	raw := c.Get("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
}
