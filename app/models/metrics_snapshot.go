package models

import "time"

// MetricsSnapshot stores one per-tenant daily rollup of recovery
// performance, upserted by the metrics service.
type MetricsSnapshot struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index:ux_metrics_snapshots_user_day,unique,priority:1" json:"user_id"`
	Day            time.Time `gorm:"type:date;not null;index:ux_metrics_snapshots_user_day,unique,priority:2" json:"day"`
	ActiveCases    int64     `gorm:"not null;default:0" json:"active_cases"`
	AtRiskCents    int64     `gorm:"not null;default:0" json:"at_risk_cents"`
	RecoveredCases int64     `gorm:"not null;default:0" json:"recovered_cases"`
	RecoveredCents int64     `gorm:"not null;default:0" json:"recovered_cents"`
	MessagesSent   int64     `gorm:"not null;default:0" json:"messages_sent"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
