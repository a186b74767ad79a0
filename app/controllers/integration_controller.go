package controllers

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/database"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/security"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/stripeapi"
)

var validate = validator.New()

var allowedKeyPrefixes = []string{"sk_test_", "sk_live_", "rk_test_", "rk_live_"}

type connectIntegrationRequest struct {
	APIKey        string `json:"api_key" validate:"required,min=20"`
	WebhookSecret string `json:"webhook_secret" validate:"omitempty,startswith=whsec_"`
}

type updateWebhookSecretRequest struct {
	WebhookSecret string `json:"webhook_secret" validate:"required,startswith=whsec_"`
}

func hasAllowedKeyPrefix(key string) bool {
	for _, p := range allowedKeyPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// HandleConnectIntegration stores a tenant's own processor credentials. The
// key is validated against the live API before anything is persisted, and
// only ever stored encrypted.
func HandleConnectIntegration(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req connectIntegrationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}
	if !hasAllowedKeyPrefix(req.APIKey) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": "API key must be a secret or restricted key"})
	}

	client := stripeapi.NewClient(req.APIKey)
	account, err := client.GetAccount(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_key", "message": "API key was rejected by the payment processor"})
	}

	keyEncrypted, err := security.Encrypt(req.APIKey)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store credentials"})
	}

	now := time.Now()
	integration := &models.PaymentIntegration{
		UserID:           userID,
		Provider:         models.PaymentProviderStripe,
		Mode:             models.IntegrationModeBYOK,
		StripeAccountID:  account.ID,
		APIKeyEncrypted:  keyEncrypted,
		APIKeyLast4:      lastFour(req.APIKey),
		Status:           models.IntegrationStatusActive,
		LastValidationAt: &now,
	}

	if req.WebhookSecret != "" {
		secretEncrypted, err := security.Encrypt(req.WebhookSecret)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store credentials"})
		}
		integration.WebhookSecretEncrypted = secretEncrypted
	} else {
		// Best effort: create the endpoint on the tenant's account so the
		// signing secret never has to be pasted manually.
		endpointURL := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/") + "/api/stripe/webhooks"
		endpoint, err := client.CreateWebhookEndpoint(c.UserContext(), endpointURL, []string{"invoice.payment_failed", "invoice.paid"})
		if err != nil {
			log.Printf("integration: webhook endpoint auto-creation for user %d failed: %v", userID, err)
		} else {
			secretEncrypted, err := security.Encrypt(endpoint.Secret)
			if err == nil {
				integration.WebhookSecretEncrypted = secretEncrypted
				integration.WebhookEndpointID = endpoint.ID
			}
		}
	}

	db := database.GetDB()
	var existing models.PaymentIntegration
	err = db.Where("user_id = ?", userID).First(&existing).Error
	switch {
	case err == nil:
		integration.ID = existing.ID
		integration.CreatedAt = existing.CreatedAt
		if integration.WebhookSecretEncrypted == "" {
			// Reconnecting with a new key keeps the known-good secret.
			integration.WebhookSecretEncrypted = existing.WebhookSecretEncrypted
			integration.WebhookEndpointID = existing.WebhookEndpointID
		}
		if err := db.Save(integration).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save integration"})
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(integration).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save integration"})
		}
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	return c.JSON(fiber.Map{
		"status":            integration.Status,
		"stripe_account_id": integration.StripeAccountID,
		"api_key":           security.Redact(req.APIKey),
		"webhook_ready":     integration.WebhookSecretEncrypted != "",
	})
}

// HandleIntegrationStatus reports the tenant's integration without ever
// returning credential material.
func HandleIntegrationStatus(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var integration models.PaymentIntegration
	if err := database.GetDB().Where("user_id = ?", userID).First(&integration).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"connected": false})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}

	return c.JSON(fiber.Map{
		"connected":          integration.Status == models.IntegrationStatusActive,
		"status":             integration.Status,
		"stripe_account_id":  integration.StripeAccountID,
		"api_key":            "****" + integration.APIKeyLast4,
		"webhook_ready":      integration.WebhookSecretEncrypted != "",
		"last_validation_at": integration.LastValidationAt,
	})
}

// HandleUpdateWebhookSecret replaces the stored signing secret, for tenants
// who rotate or manage their endpoint themselves.
func HandleUpdateWebhookSecret(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	var req updateWebhookSecretRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	secretEncrypted, err := security.Encrypt(req.WebhookSecret)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store credentials"})
	}

	tx := database.GetDB().Model(&models.PaymentIntegration{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"webhook_secret_encrypted": secretEncrypted,
			"status":                   models.IntegrationStatusActive,
		})
	if tx.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save integration"})
	}
	if tx.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No integration to update"})
	}
	return c.JSON(fiber.Map{"updated": true})
}

// HandleDisconnectIntegration drops the tenant's credentials. The row stays
// so reconnecting later keeps history, but all secret material is cleared.
func HandleDisconnectIntegration(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}

	tx := database.GetDB().Model(&models.PaymentIntegration{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"status":                   models.IntegrationStatusDisconnected,
			"api_key_encrypted":        "",
			"webhook_secret_encrypted": "",
		})
	if tx.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to disconnect integration"})
	}
	if tx.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No integration to disconnect"})
	}
	return c.JSON(fiber.Map{"disconnected": true})
}

func lastFour(key string) string {
	if len(key) < 4 {
		return key
	}
	return key[len(key)-4:]
}
