package models

import "time"

// Integration provider and mode constants.
const (
	PaymentProviderStripe = "stripe"

	IntegrationModeBYOK = "byok"
)

// Integration status constants.
const (
	IntegrationStatusActive       = "active"
	IntegrationStatusInvalid      = "invalid"
	IntegrationStatusDisconnected = "disconnected"
)

// PaymentIntegration stores a tenant's own billing-processor credentials
// (BYOK). API key and webhook secret are encrypted at rest; exactly one
// integration exists per user.
type PaymentIntegration struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Provider               string     `gorm:"type:varchar(20);not null;default:'stripe'" json:"provider"`
	Mode                   string     `gorm:"type:varchar(20);not null;default:'byok'" json:"mode"`
	StripeAccountID        string     `gorm:"type:varchar(191);not null;index" json:"stripe_account_id"`
	APIKeyEncrypted        string     `gorm:"type:text;not null" json:"-"`
	APIKeyLast4            string     `gorm:"type:varchar(12);not null" json:"api_key_last4"`
	WebhookSecretEncrypted string     `gorm:"type:text" json:"-"`
	WebhookEndpointID      string     `gorm:"type:varchar(191)" json:"webhook_endpoint_id,omitempty"`
	Status                 string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	LastValidationAt       *time.Time `gorm:"type:timestamp;default:null" json:"last_validation_at,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
