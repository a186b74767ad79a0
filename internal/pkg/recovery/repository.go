package recovery

import (
	"time"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the recovery engine. All
// cross-invocation coordination happens here through uniqueness
// constraints, never through in-process locks.
type Repository interface {
	ListActiveIntegrations() ([]models.PaymentIntegration, error)
	GetActiveIntegrationByUser(userID uint) (*models.PaymentIntegration, error)
	MarkIntegrationInvalid(id uint) error

	ClaimEvent(eventID string) (bool, error)
	PurgeExpiredEvents(before time.Time) (int64, error)

	CreateCaseIfNotExists(c *models.RecoveryCase) (bool, error)
	GetCaseByInvoiceID(invoiceID string) (*models.RecoveryCase, error)
	GetCaseByUUID(uuid string) (*models.RecoveryCase, error)
	GetOpenCaseByInvoiceID(invoiceID string) (*models.RecoveryCase, error)
	SaveCase(c *models.RecoveryCase) error
	ListActiveCases() ([]models.RecoveryCase, error)
	ListCasesByUser(userID uint) ([]models.RecoveryCase, error)
	ListPendingRetries(now time.Time) ([]models.RecoveryCase, error)

	HasSentMessage(caseID uint, step int) (bool, error)
	CreateSentMessageIfNotExists(msg *models.SentMessage) (bool, error)
	MarkMessageOpened(caseID uint, step int, at time.Time) error
	MarkMessageClicked(caseID uint, step int, at time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a recovery repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ListActiveIntegrations() ([]models.PaymentIntegration, error) {
	var integrations []models.PaymentIntegration
	err := r.db.
		Where("status = ? AND webhook_secret_encrypted <> ''", models.IntegrationStatusActive).
		Order("id ASC").
		Find(&integrations).Error
	return integrations, err
}

func (r *gormRepository) GetActiveIntegrationByUser(userID uint) (*models.PaymentIntegration, error) {
	var integration models.PaymentIntegration
	err := r.db.
		Where("user_id = ? AND status = ?", userID, models.IntegrationStatusActive).
		First(&integration).Error
	if err != nil {
		return nil, err
	}
	return &integration, nil
}

func (r *gormRepository) MarkIntegrationInvalid(id uint) error {
	return r.db.Model(&models.PaymentIntegration{}).
		Where("id = ?", id).
		Update("status", models.IntegrationStatusInvalid).Error
}

// ClaimEvent inserts into the idempotency ledger. A lost insert means the
// event was already handled and reports created=false.
func (r *gormRepository) ClaimEvent(eventID string) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&models.ProcessedEvent{EventID: eventID})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) PurgeExpiredEvents(before time.Time) (int64, error) {
	tx := r.db.Where("processed_at < ?", before).Delete(&models.ProcessedEvent{})
	return tx.RowsAffected, tx.Error
}

// CreateCaseIfNotExists creates a case unless one already exists for the
// invoice. The unique invoice index arbitrates concurrent deliveries.
func (r *gormRepository) CreateCaseIfNotExists(c *models.RecoveryCase) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_invoice_id"}},
		DoNothing: true,
	}).Create(c)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected == 0 {
		return false, nil
	}
	// Ensure ID is populated after insert.
	return true, r.db.Where("stripe_invoice_id = ?", c.StripeInvoiceID).First(c).Error
}

func (r *gormRepository) GetCaseByInvoiceID(invoiceID string) (*models.RecoveryCase, error) {
	var c models.RecoveryCase
	if err := r.db.Where("stripe_invoice_id = ?", invoiceID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) GetCaseByUUID(uuid string) (*models.RecoveryCase, error) {
	var c models.RecoveryCase
	if err := r.db.Where("uuid = ?", uuid).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOpenCaseByInvoiceID returns the invoice's case only while it is still
// active and unrecovered. Terminal cases are never returned, so a late paid
// event cannot resurrect them.
func (r *gormRepository) GetOpenCaseByInvoiceID(invoiceID string) (*models.RecoveryCase, error) {
	var c models.RecoveryCase
	err := r.db.
		Where("stripe_invoice_id = ? AND status = ? AND recovered = ?", invoiceID, models.CaseStatusActive, false).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) SaveCase(c *models.RecoveryCase) error {
	return r.db.Save(c).Error
}

func (r *gormRepository) ListActiveCases() ([]models.RecoveryCase, error) {
	var cases []models.RecoveryCase
	err := r.db.
		Where("status = ? AND recovered = ?", models.CaseStatusActive, false).
		Order("id ASC").
		Find(&cases).Error
	return cases, err
}

func (r *gormRepository) ListCasesByUser(userID uint) ([]models.RecoveryCase, error) {
	var cases []models.RecoveryCase
	err := r.db.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(200).
		Find(&cases).Error
	return cases, err
}

func (r *gormRepository) ListPendingRetries(now time.Time) ([]models.RecoveryCase, error) {
	var cases []models.RecoveryCase
	err := r.db.
		Where("status = ? AND recovered = ? AND smart_retry_attempted = ? AND smart_retry_scheduled_at IS NOT NULL AND smart_retry_scheduled_at <= ?",
			models.CaseStatusActive, false, false, now).
		Order("id ASC").
		Find(&cases).Error
	return cases, err
}

func (r *gormRepository) HasSentMessage(caseID uint, step int) (bool, error) {
	var count int64
	err := r.db.Model(&models.SentMessage{}).
		Where("recovery_case_id = ? AND step = ?", caseID, step).
		Count(&count).Error
	return count > 0, err
}

// CreateSentMessageIfNotExists is the exactly-once gate for step dispatch:
// the unique (case, step) index decides the winner of concurrent runs.
func (r *gormRepository) CreateSentMessageIfNotExists(msg *models.SentMessage) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "recovery_case_id"},
			{Name: "step"},
		},
		DoNothing: true,
	}).Create(msg)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) MarkMessageOpened(caseID uint, step int, at time.Time) error {
	return r.db.Model(&models.SentMessage{}).
		Where("recovery_case_id = ? AND step = ? AND opened = ?", caseID, step, false).
		Updates(map[string]interface{}{"opened": true, "opened_at": &at}).Error
}

func (r *gormRepository) MarkMessageClicked(caseID uint, step int, at time.Time) error {
	return r.db.Model(&models.SentMessage{}).
		Where("recovery_case_id = ? AND step = ? AND clicked = ?", caseID, step, false).
		Updates(map[string]interface{}{"clicked": true, "clicked_at": &at}).Error
}
