package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/cache"
)

// Dashboard aggregates are cached briefly; cancelling a case invalidates
// the tenant's entry so the active-case counts never look stale.
const dashboardCacheTTL = time.Minute

func dashboardCacheKey(userID uint) string {
	return fmt.Sprintf("dashboard:metrics:%d", userID)
}

// HandleDashboardMetrics returns the tenant's live recovery metrics.
func HandleDashboardMetrics(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	if cached, err := cache.Get(dashboardCacheKey(userID)); err == nil {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	dashboard, err := metricsService().Dashboard(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to compute metrics"})
	}
	if payload, err := json.Marshal(dashboard); err == nil {
		_ = cache.Set(dashboardCacheKey(userID), payload, dashboardCacheTTL)
	}
	return c.JSON(dashboard)
}

// HandleListCases returns the tenant's recent recovery cases.
func HandleListCases(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	cases, err := recoveryService().ListCases(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load cases"})
	}
	return c.JSON(fiber.Map{"cases": cases})
}

// HandleCancelCase stops outreach for one of the tenant's cases.
func HandleCancelCase(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	caseUUID := c.Params("uuid")
	if _, err := recoveryService().GetCaseForUser(userID, caseUUID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Recovery case not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load case"})
	}

	cancelled, err := recoveryService().CancelCase(c.UserContext(), caseUUID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to cancel case"})
	}
	_ = cache.Delete(dashboardCacheKey(userID))
	return c.JSON(cancelled)
}
