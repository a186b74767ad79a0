package recovery

import (
	"context"
	"fmt"
	"log"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/security"
)

// GetFreshPortalURL creates a billing-portal session for a case after
// verifying its capability token. Sessions are generated per click so links
// in old emails never go stale.
func (s *Service) GetFreshPortalURL(ctx context.Context, caseUUID, token string) (string, error) {
	if !security.VerifyRecoveryToken(caseUUID, token) {
		return "", ErrInvalidToken
	}

	c, err := s.repo.GetCaseByUUID(caseUUID)
	if err != nil {
		return "", err
	}
	return s.portalURLForCase(ctx, c), nil
}

// portalURLForCase walks the degradation chain: deep-linked session, plain
// session, then the public base URL as a last resort.
func (s *Service) portalURLForCase(ctx context.Context, c *models.RecoveryCase) string {
	base := baseURL()
	returnURL := fmt.Sprintf("%s/recovery/confirmed?caseId=%s", base, c.UUID)

	integration, err := s.repo.GetActiveIntegrationByUser(c.UserID)
	if err != nil {
		log.Printf("portal: no active integration for case %s: %v", c.UUID, err)
		return base
	}
	apiKey, err := security.Decrypt(integration.APIKeyEncrypted)
	if err != nil {
		log.Printf("portal: cannot decrypt api key for integration %d: %v", integration.ID, err)
		return base
	}
	processor := s.processorFor(apiKey)

	session, err := processor.CreatePortalSession(ctx, c.StripeCustomerID, returnURL, true)
	if err == nil {
		return session.URL
	}
	log.Printf("portal: deep-linked session for case %s failed, falling back: %v", c.UUID, err)

	// Older portal configurations reject flow_data.
	session, err = processor.CreatePortalSession(ctx, c.StripeCustomerID, returnURL, false)
	if err == nil {
		return session.URL
	}
	log.Printf("portal: fallback session for case %s failed: %v", c.UUID, err)
	return base
}
