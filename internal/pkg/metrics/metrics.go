package metrics

import (
	"log"
	"time"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dashboard is the aggregate view served to the tenant dashboard.
type Dashboard struct {
	ActiveCases             int64              `json:"active_cases"`
	AtRiskCents             int64              `json:"at_risk_cents"`
	RecoveredCases          int64              `json:"recovered_cases"`
	RecoveredThisMonthCents int64              `json:"recovered_this_month_cents"`
	RecoveryRate            float64            `json:"recovery_rate"`
	AvgRecoveryHours        float64            `json:"avg_recovery_hours"`
	OpenRateByType          map[string]float64 `json:"open_rate_by_type"`
	ClickRateByType         map[string]float64 `json:"click_rate_by_type"`
}

// Service computes dashboard aggregates and daily snapshots.
type Service struct {
	db *gorm.DB

	// snapshotOne persists one tenant's rollup, overridable in tests.
	snapshotOne func(userID uint) error
}

func NewService(db *gorm.DB) *Service {
	s := &Service{db: db}
	s.snapshotOne = s.SnapshotToday
	return s
}

// Dashboard computes a tenant's live metrics from the case and message
// tables.
func (s *Service) Dashboard(userID uint) (*Dashboard, error) {
	d := &Dashboard{
		OpenRateByType:  map[string]float64{},
		ClickRateByType: map[string]float64{},
	}

	if err := s.db.Model(&models.RecoveryCase{}).
		Where("user_id = ? AND status = ?", userID, models.CaseStatusActive).
		Count(&d.ActiveCases).Error; err != nil {
		return nil, err
	}

	var atRisk struct{ Total int64 }
	if err := s.db.Model(&models.RecoveryCase{}).
		Select("COALESCE(SUM(amount_cents),0) AS total").
		Where("user_id = ? AND status = ?", userID, models.CaseStatusActive).
		Scan(&atRisk).Error; err != nil {
		return nil, err
	}
	d.AtRiskCents = atRisk.Total

	monthStart := time.Now().AddDate(0, 0, -30)
	var recovered struct {
		Count    int64
		Total    int64
		AvgHours float64
	}
	if err := s.db.Model(&models.RecoveryCase{}).
		Select("COUNT(*) AS count, COALESCE(SUM(recovered_amount_cents),0) AS total, COALESCE(AVG(TIMESTAMPDIFF(HOUR, created_at, recovered_at)),0) AS avg_hours").
		Where("user_id = ? AND recovered = ? AND recovered_at >= ?", userID, true, monthStart).
		Scan(&recovered).Error; err != nil {
		return nil, err
	}
	d.RecoveredCases = recovered.Count
	d.RecoveredThisMonthCents = recovered.Total
	d.AvgRecoveryHours = recovered.AvgHours

	var totalClosed int64
	if err := s.db.Model(&models.RecoveryCase{}).
		Where("user_id = ? AND status IN ?", userID, []string{models.CaseStatusRecovered, models.CaseStatusFailed}).
		Count(&totalClosed).Error; err != nil {
		return nil, err
	}
	if totalClosed > 0 {
		var recoveredAll int64
		if err := s.db.Model(&models.RecoveryCase{}).
			Where("user_id = ? AND status = ?", userID, models.CaseStatusRecovered).
			Count(&recoveredAll).Error; err != nil {
			return nil, err
		}
		d.RecoveryRate = float64(recoveredAll) / float64(totalClosed)
	}

	type typeRow struct {
		MessageType string
		Sent        int64
		Opened      int64
		Clicked     int64
	}
	var rows []typeRow
	if err := s.db.Model(&models.SentMessage{}).
		Select("message_type, COUNT(*) AS sent, SUM(opened) AS opened, SUM(clicked) AS clicked").
		Where("user_id = ?", userID).
		Group("message_type").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Sent == 0 {
			continue
		}
		d.OpenRateByType[row.MessageType] = float64(row.Opened) / float64(row.Sent)
		d.ClickRateByType[row.MessageType] = float64(row.Clicked) / float64(row.Sent)
	}

	return d, nil
}

// SnapshotToday upserts the tenant's rollup row for the current day.
func (s *Service) SnapshotToday(userID uint) error {
	d, err := s.Dashboard(userID)
	if err != nil {
		return err
	}

	var messagesSent int64
	dayStart := time.Now().Truncate(24 * time.Hour)
	if err := s.db.Model(&models.SentMessage{}).
		Where("user_id = ? AND sent_at >= ?", userID, dayStart).
		Count(&messagesSent).Error; err != nil {
		return err
	}

	snap := &models.MetricsSnapshot{
		UserID:         userID,
		Day:            dayStart,
		ActiveCases:    d.ActiveCases,
		AtRiskCents:    d.AtRiskCents,
		RecoveredCases: d.RecoveredCases,
		RecoveredCents: d.RecoveredThisMonthCents,
		MessagesSent:   messagesSent,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "day"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"active_cases",
			"at_risk_cents",
			"recovered_cases",
			"recovered_cents",
			"messages_sent",
			"updated_at",
		}),
	}).Create(snap).Error
}

// SnapshotTenants upserts today's rollup for each tenant and reports how
// many succeeded. One tenant's failure never aborts the rest.
func (s *Service) SnapshotTenants(userIDs []uint) int {
	ok := 0
	for _, id := range userIDs {
		if err := s.snapshotOne(id); err != nil {
			log.Printf("metrics: snapshot for tenant %d: %v", id, err)
			continue
		}
		ok++
	}
	return ok
}
