package models

import "time"

// SentMessage is the per-step dispatch ledger. The unique (case, step)
// index guarantees exactly-once dispatch even under concurrent scheduler
// runs; open/click tracking writes back into the same row.
type SentMessage struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	RecoveryCaseID    uint       `gorm:"not null;index:ux_sent_messages_case_step,unique,priority:1" json:"recovery_case_id"`
	UserID            uint       `gorm:"not null;index" json:"user_id"`
	MessageType       string     `gorm:"type:varchar(32);not null" json:"message_type"`
	Step              int        `gorm:"not null;index:ux_sent_messages_case_step,unique,priority:2" json:"step"`
	Recipient         string     `gorm:"type:varchar(200);not null" json:"recipient"`
	Subject           string     `gorm:"type:varchar(255);not null" json:"subject"`
	ProviderMessageID string     `gorm:"type:varchar(191)" json:"provider_message_id,omitempty"`
	SentAt            time.Time  `gorm:"autoCreateTime;index" json:"sent_at"`
	Opened            bool       `gorm:"default:false" json:"opened"`
	OpenedAt          *time.Time `gorm:"type:timestamp;default:null" json:"opened_at,omitempty"`
	Clicked           bool       `gorm:"default:false" json:"clicked"`
	ClickedAt         *time.Time `gorm:"type:timestamp;default:null" json:"clicked_at,omitempty"`
}
