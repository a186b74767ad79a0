package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/recovery"
)

// HandleStripeWebhook absorbs one signed processor delivery. A 400 tells the
// processor to stop redelivering; a 500 invites a retry.
func HandleStripeWebhook(c *fiber.Ctx) error {
	signature := c.Get("Stripe-Signature")
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": "Missing Stripe-Signature header"})
	}

	result, err := recoveryService().ProcessFailureWebhook(c.UserContext(), c.Body(), signature)
	if err != nil {
		if errors.Is(err, recovery.ErrInvalidSignature) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook signature verification failed"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to process webhook"})
	}
	return c.JSON(result)
}
