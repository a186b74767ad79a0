package models

import "time"

// ProcessedEventRetention is how long ledger entries are kept. The
// processor does not redeliver events older than this, so purging is safe.
const ProcessedEventRetention = 30 * 24 * time.Hour

// ProcessedEvent is the webhook idempotency ledger. The unique event id
// makes the insert the claim: a duplicate-key error means the event was
// already handled.
type ProcessedEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	EventID     string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"event_id"`
	ProcessedAt time.Time `gorm:"autoCreateTime;index" json:"processed_at"`
}
