package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recovery case status constants. Recovered, failed and cancelled are
// terminal; no transition ever leaves them.
const (
	CaseStatusActive    = "active"
	CaseStatusRecovered = "recovered"
	CaseStatusFailed    = "failed"
	CaseStatusCancelled = "cancelled"
)

// Smart retry result constants.
const (
	RetryResultSucceeded = "succeeded"
	RetryResultFailed    = "failed"
	RetryResultSkipped   = "skipped"
)

// CurrentStep value meaning no sequence step has been dispatched yet.
const StepNone = -1

// RecoveryCase tracks one failed invoice through the recovery flow. The
// unique invoice index guarantees at most one case per invoice under
// concurrent webhook deliveries.
type RecoveryCase struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UUID                  string     `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"uuid"`
	UserID                uint       `gorm:"not null;index" json:"user_id"`
	StripeAccountID       string     `gorm:"type:varchar(191);not null" json:"stripe_account_id"`
	StripeInvoiceID       string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"stripe_invoice_id"`
	StripeCustomerID      string     `gorm:"type:varchar(191);not null" json:"stripe_customer_id"`
	StripeSubscriptionID  string     `gorm:"type:varchar(191)" json:"stripe_subscription_id,omitempty"`
	CustomerEmail         string     `gorm:"type:varchar(200);not null" json:"customer_email"`
	AmountCents           int64      `gorm:"not null" json:"amount_cents"`
	Currency              string     `gorm:"type:varchar(8);not null;default:'usd'" json:"currency"`
	FailureType           string     `gorm:"type:varchar(32);not null" json:"failure_type"`
	DeclineCode           string     `gorm:"type:varchar(64)" json:"decline_code,omitempty"`
	Status                string     `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	Recovered             bool       `gorm:"default:false;index" json:"recovered"`
	RecoveredAmountCents  int64      `json:"recovered_amount_cents,omitempty"`
	RecoveredAt           *time.Time `gorm:"type:timestamp;default:null" json:"recovered_at,omitempty"`
	CurrentStep           int        `gorm:"not null;default:-1" json:"current_step"`
	SmartRetryScheduledAt *time.Time `gorm:"type:timestamp;default:null;index" json:"smart_retry_scheduled_at,omitempty"`
	SmartRetryAttempted   bool       `gorm:"default:false" json:"smart_retry_attempted"`
	SmartRetryResult      string     `gorm:"type:varchar(16)" json:"smart_retry_result,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *RecoveryCase) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == "" {
		c.UUID = uuid.New().String()
	}
	return nil
}

// AwaitingSmartRetry reports whether the case is still inside its smart
// retry window and outreach must be held back.
func (c *RecoveryCase) AwaitingSmartRetry() bool {
	return c.SmartRetryScheduledAt != nil && !c.SmartRetryAttempted
}

// IsTerminal reports whether the case status permits no further transitions.
func (c *RecoveryCase) IsTerminal() bool {
	return c.Status != CaseStatusActive
}
