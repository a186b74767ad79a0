package recovery

import (
	"context"
	"log"
	"time"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/security"
)

// RetryStats summarizes one smart-retry batch run.
type RetryStats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ProcessSmartRetries attempts programmatic collection for every case whose
// retry window has elapsed. Each case is processed at most once, ever, and
// one case's failure never aborts the batch.
func (s *Service) ProcessSmartRetries(ctx context.Context) (RetryStats, error) {
	pending, err := s.repo.ListPendingRetries(time.Now())
	if err != nil {
		return RetryStats{}, err
	}

	stats := RetryStats{Processed: len(pending)}
	for i := range pending {
		c := &pending[i]
		if s.retryCase(ctx, c) {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	return stats, nil
}

// retryCase runs one forced collection attempt and reports success. A paid
// invoice only marks the attempt; the case itself flips to recovered when
// the processor's paid event arrives, avoiding a write race with the
// webhook path.
func (s *Service) retryCase(ctx context.Context, c *models.RecoveryCase) bool {
	paid := false

	integration, err := s.repo.GetActiveIntegrationByUser(c.UserID)
	if err != nil {
		log.Printf("smart retry: no active integration for case %s: %v", c.UUID, err)
	} else {
		apiKey, err := security.Decrypt(integration.APIKeyEncrypted)
		if err != nil {
			// Credential is unusable; flag the integration, not the batch.
			log.Printf("smart retry: cannot decrypt api key for integration %d, marking invalid: %v", integration.ID, err)
			if markErr := s.repo.MarkIntegrationInvalid(integration.ID); markErr != nil {
				log.Printf("smart retry: marking integration %d invalid: %v", integration.ID, markErr)
			}
		} else {
			invoice, err := s.processorFor(apiKey).PayInvoice(ctx, c.StripeInvoiceID)
			if err != nil {
				log.Printf("smart retry: pay invoice %s failed: %v", c.StripeInvoiceID, err)
			} else if invoice.Status == "paid" {
				paid = true
			}
		}
	}

	c.SmartRetryAttempted = true
	if paid {
		c.SmartRetryResult = models.RetryResultSucceeded
	} else {
		c.SmartRetryResult = models.RetryResultFailed
	}
	if err := s.repo.SaveCase(c); err != nil {
		log.Printf("smart retry: saving case %s: %v", c.UUID, err)
		return paid
	}

	// A failed attempt releases the outreach that was held back during the
	// retry window.
	if !paid {
		if err := s.SendStep(ctx, c, 0); err != nil {
			log.Printf("smart retry: outreach after failed retry for case %s: %v", c.UUID, err)
		}
	}
	return paid
}
