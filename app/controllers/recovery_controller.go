package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/recovery"
)

type portalRedirectRequest struct {
	CaseID string `json:"caseId"`
	Token  string `json:"token"`
}

// HandlePortalRedirect exchanges a recovery link's capability token for a
// fresh billing-portal URL. Sessions are minted per click, so stale links in
// old emails keep working.
func HandlePortalRedirect(c *fiber.Ctx) error {
	var req portalRedirectRequest
	if err := c.BodyParser(&req); err != nil || req.CaseID == "" || req.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "caseId and token are required"})
	}

	url, err := recoveryService().GetFreshPortalURL(c.UserContext(), req.CaseID, req.Token)
	if err != nil {
		if errors.Is(err, recovery.ErrInvalidToken) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Invalid recovery token"})
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Recovery case not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create portal session"})
	}
	return c.JSON(fiber.Map{"url": url})
}
