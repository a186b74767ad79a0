package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/classify"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/security"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/stripeapi"
	"gorm.io/gorm"
)

// WebhookResult reports how a delivery was absorbed.
type WebhookResult struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
	Ignored   bool `json:"ignored,omitempty"`
}

// ProcessFailureWebhook handles one signed processor delivery end to end:
// tenant resolution, idempotency claim, then event interpretation. Errors
// after the claim surface to the caller so the delivery system retries.
func (s *Service) ProcessFailureWebhook(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	integration, err := s.resolveIntegration(rawBody, signature)
	if err != nil {
		return nil, err
	}

	event, err := stripeapi.ParseEvent(rawBody)
	if err != nil {
		// The signature verified, so a malformed envelope is a payload we
		// can never process; reject rather than invite redelivery.
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	created, err := s.repo.ClaimEvent(event.ID)
	if err != nil {
		return nil, fmt.Errorf("claiming event %s: %w", event.ID, err)
	}
	if !created {
		return &WebhookResult{Received: true, Duplicate: true}, nil
	}

	switch event.Type {
	case "invoice.payment_failed":
		if err := s.handlePaymentFailed(ctx, event, integration); err != nil {
			return nil, fmt.Errorf("processing %s: %w", event.Type, err)
		}
	case "invoice.paid":
		if err := s.handleInvoicePaid(ctx, event); err != nil {
			return nil, fmt.Errorf("processing %s: %w", event.Type, err)
		}
	default:
		// Unrecognized types are accepted and ignored.
		return &WebhookResult{Received: true, Ignored: true}, nil
	}

	return &WebhookResult{Received: true}, nil
}

// resolveIntegration finds the tenant whose webhook secret verifies the
// payload. Tenants bring their own signing secrets, so the signature is
// checked against every active integration in deterministic order.
func (s *Service) resolveIntegration(rawBody []byte, signature string) (*models.PaymentIntegration, error) {
	integrations, err := s.repo.ListActiveIntegrations()
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}

	for i := range integrations {
		integration := &integrations[i]
		secret, err := security.Decrypt(integration.WebhookSecretEncrypted)
		if err != nil {
			log.Printf("webhook: cannot decrypt secret for integration %d, marking invalid: %v", integration.ID, err)
			if markErr := s.repo.MarkIntegrationInvalid(integration.ID); markErr != nil {
				log.Printf("webhook: marking integration %d invalid: %v", integration.ID, markErr)
			}
			continue
		}
		if stripeapi.VerifySignature(rawBody, signature, secret, stripeapi.DefaultSignatureTolerance) {
			return integration, nil
		}
	}

	return nil, ErrInvalidSignature
}

func (s *Service) handlePaymentFailed(ctx context.Context, event *stripeapi.Event, integration *models.PaymentIntegration) error {
	invoice, err := stripeapi.InvoiceFromEvent(event)
	if err != nil {
		return err
	}

	// Duplicate invoice ids are rejected before case creation.
	if _, err := s.repo.GetCaseByInvoiceID(invoice.ID); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	declineCode := s.extractDeclineCode(ctx, invoice, integration)
	kind := classify.Classify(declineCode)
	hardDecline := classify.IsHardDecline(kind)
	retryable := classify.IsRetryable(kind)

	c := &models.RecoveryCase{
		UserID:               integration.UserID,
		StripeAccountID:      integration.StripeAccountID,
		StripeInvoiceID:      invoice.ID,
		StripeCustomerID:     invoice.CustomerRef.ID,
		StripeSubscriptionID: invoice.SubscriptionRef.ID,
		CustomerEmail:        invoice.CustomerEmail,
		AmountCents:          invoice.AmountDue,
		Currency:             invoice.Currency,
		FailureType:          string(kind),
		DeclineCode:          declineCode,
		Status:               models.CaseStatusActive,
		CurrentStep:          models.StepNone,
	}
	if c.CustomerEmail == "" {
		c.CustomerEmail = "unknown@test.local"
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}
	if hardDecline {
		c.Status = models.CaseStatusFailed
		c.SmartRetryResult = models.RetryResultSkipped
	} else if retryable {
		t := time.Now().Add(smartRetryDelay)
		c.SmartRetryScheduledAt = &t
	} else {
		c.SmartRetryResult = models.RetryResultSkipped
	}

	created, err := s.repo.CreateCaseIfNotExists(c)
	if err != nil {
		return err
	}
	if !created {
		// A concurrent delivery won the insert race.
		return nil
	}

	// Hard declines get no outreach and no retry. Retryable failures wait
	// for the smart retry; everything else starts the sequence right away.
	if c.Status == models.CaseStatusActive && !retryable {
		if err := s.SendStep(ctx, c, 0); err != nil {
			log.Printf("webhook: initial outreach for case %s failed (non-fatal): %v", c.UUID, err)
		}
	}
	return nil
}

// extractDeclineCode prefers the attempt-level payment error, fetching the
// payment intent when the event only carries a reference, and falls back
// to the invoice-level finalization error.
func (s *Service) extractDeclineCode(ctx context.Context, invoice *stripeapi.Invoice, integration *models.PaymentIntegration) string {
	ref := invoice.PaymentIntent
	if len(ref.Object) > 0 {
		var pi stripeapi.PaymentIntent
		if err := json.Unmarshal(ref.Object, &pi); err == nil && pi.LastPaymentError != nil {
			if pi.LastPaymentError.DeclineCode != "" {
				return pi.LastPaymentError.DeclineCode
			}
		}
	} else if ref.ID != "" {
		apiKey, err := security.Decrypt(integration.APIKeyEncrypted)
		if err != nil {
			log.Printf("webhook: cannot decrypt api key for integration %d: %v", integration.ID, err)
		} else {
			pi, err := s.processorFor(apiKey).GetPaymentIntent(ctx, ref.ID)
			if err != nil {
				log.Printf("webhook: could not retrieve payment intent %s: %v", ref.ID, err)
			} else if pi.LastPaymentError != nil && pi.LastPaymentError.DeclineCode != "" {
				return pi.LastPaymentError.DeclineCode
			}
		}
	}

	if invoice.LastFinalizationError != nil {
		return invoice.LastFinalizationError.Code
	}
	return ""
}

func (s *Service) handleInvoicePaid(ctx context.Context, event *stripeapi.Event) error {
	_ = ctx
	invoice, err := stripeapi.InvoiceFromEvent(event)
	if err != nil {
		return err
	}

	c, err := s.repo.GetOpenCaseByInvoiceID(invoice.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	now := time.Now()
	c.Recovered = true
	c.RecoveredAmountCents = invoice.AmountPaid
	c.RecoveredAt = &now
	c.Status = models.CaseStatusRecovered
	return s.repo.SaveCase(c)
}
