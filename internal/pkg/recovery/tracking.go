package recovery

import (
	"context"
	"time"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"gorm.io/gorm"
)

// MarkMessageOpened records the first open of a dispatched step. Later
// opens of the same message are no-ops.
func (s *Service) MarkMessageOpened(ctx context.Context, caseUUID string, step int) error {
	_ = ctx
	c, err := s.repo.GetCaseByUUID(caseUUID)
	if err != nil {
		return err
	}
	return s.repo.MarkMessageOpened(c.ID, step, time.Now())
}

// MarkMessageClicked records the first click of a dispatched step.
func (s *Service) MarkMessageClicked(ctx context.Context, caseUUID string, step int) error {
	_ = ctx
	c, err := s.repo.GetCaseByUUID(caseUUID)
	if err != nil {
		return err
	}
	return s.repo.MarkMessageClicked(c.ID, step, time.Now())
}

// ListCases returns a tenant's recent cases, newest first.
func (s *Service) ListCases(userID uint) ([]models.RecoveryCase, error) {
	return s.repo.ListCasesByUser(userID)
}

// GetCaseForUser loads a case by UUID scoped to its owning tenant.
func (s *Service) GetCaseForUser(userID uint, caseUUID string) (*models.RecoveryCase, error) {
	c, err := s.repo.GetCaseByUUID(caseUUID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		// Foreign cases look like missing cases to the caller.
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}
