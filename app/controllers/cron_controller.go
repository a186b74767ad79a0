package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
)

// requireCronAuth guards the batch endpoints behind the shared cron secret.
func requireCronAuth(c *fiber.Ctx) bool {
	secret := env.GetEnv("CRON_SECRET", "")
	if secret == "" {
		return false
	}
	return c.Get("Authorization") == "Bearer "+secret
}

// HandleProcessRetries runs one smart-retry batch.
func HandleProcessRetries(c *fiber.Ctx) error {
	if !requireCronAuth(c) {
		return unauthorized(c)
	}

	stats, err := recoveryService().ProcessSmartRetries(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Smart retry batch failed"})
	}
	return c.JSON(stats)
}

// HandleProcessEmails advances sequences by at most one step per case, then
// prunes expired idempotency-ledger rows piggybacked on the same schedule.
func HandleProcessEmails(c *fiber.Ctx) error {
	if !requireCronAuth(c) {
		return unauthorized(c)
	}

	if err := recoveryService().ProcessSequences(c.UserContext()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Sequence batch failed"})
	}

	purged, err := recoveryService().PurgeProcessedEvents(c.UserContext())
	if err != nil {
		log.Printf("cron: purging processed events: %v", err)
	}

	// Daily metrics rollups ride the same schedule as the outreach batch.
	snapshots := 0
	tenants, err := recoveryService().ActiveTenantIDs()
	if err != nil {
		log.Printf("cron: listing tenants for snapshots: %v", err)
	} else {
		snapshots = metricsService().SnapshotTenants(tenants)
	}
	return c.JSON(fiber.Map{"processed": true, "purged_events": purged, "snapshots": snapshots})
}
