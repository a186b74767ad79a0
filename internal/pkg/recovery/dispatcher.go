package recovery

import (
	"context"
	"fmt"
	"net/url"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/classify"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/security"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/sequence"
)

// SendStep dispatches one sequence step for a case, exactly once per
// (case, step). It is safe to call from concurrent scheduler runs: the
// ledger check short-circuits, and the unique index is the final arbiter.
func (s *Service) SendStep(ctx context.Context, c *models.RecoveryCase, step int) error {
	_ = ctx

	msgType, ok := sequence.ForFailure(classify.ParseStored(c.FailureType))
	if !ok {
		// Hard declines have no campaign.
		return nil
	}
	cfg, ok := sequence.StepConfig(msgType, step)
	if !ok {
		return nil
	}

	sent, err := s.repo.HasSentMessage(c.ID, step)
	if err != nil {
		return fmt.Errorf("checking sent ledger: %w", err)
	}
	if sent {
		return nil
	}
	if c.Recovered {
		return nil
	}

	token, err := security.GenerateRecoveryToken(c.UUID)
	if err != nil {
		return fmt.Errorf("generating recovery token: %w", err)
	}

	base := baseURL()
	landingURL := fmt.Sprintf("%s/recovery/%s?token=%s", base, c.UUID, token)
	trackingURL := fmt.Sprintf("%s/api/emails/track/click?caseId=%s&step=%d&redirect=%s",
		base, c.UUID, step, url.QueryEscape(landingURL))
	openPixelURL := fmt.Sprintf("%s/api/emails/track/open?caseId=%s&step=%d", base, c.UUID, step)

	html := sequence.RenderHTML(msgType, step, sequence.RenderParams{
		CompanyName:   env.GetEnv("BRAND_COMPANY_NAME", "Tu proveedor"),
		SenderName:    env.GetEnv("BRAND_SENDER_NAME", "Soporte"),
		PortalURL:     trackingURL,
		OpenPixelURL:  openPixelURL,
		AmountCents:   c.AmountCents,
		Currency:      c.Currency,
		Preheader:     cfg.Preheader,
		BrandColor:    env.GetEnv("BRAND_COLOR", ""),
		ButtonColor:   env.GetEnv("BRAND_BUTTON_COLOR", ""),
		ButtonText:    env.GetEnv("BRAND_BUTTON_TEXT_COLOR", ""),
		ShowIncentive: cfg.FinalWarning && env.GetEnv("INCENTIVE_ENABLED", "") == "true",
		IncentiveText: env.GetEnv("INCENTIVE_TEXT", "Si actualizás hoy, mantenés el precio actual."),
	})

	from := fmt.Sprintf("%s <%s>",
		env.GetEnv("BRAND_SENDER_NAME", "Soporte"),
		env.GetEnv("MAIL_FROM_EMAIL", "noreply@example.com"))

	providerID, err := s.mailer.Send(from, c.CustomerEmail, cfg.Subject, html)
	if err != nil {
		return fmt.Errorf("sending step %d for case %s: %w", step, c.UUID, err)
	}

	created, err := s.repo.CreateSentMessageIfNotExists(&models.SentMessage{
		RecoveryCaseID:    c.ID,
		UserID:            c.UserID,
		MessageType:       string(msgType),
		Step:              step,
		Recipient:         c.CustomerEmail,
		Subject:           cfg.Subject,
		ProviderMessageID: providerID,
	})
	if err != nil {
		return fmt.Errorf("recording sent message: %w", err)
	}
	if !created {
		// Lost the race to a concurrent run; its bookkeeping stands.
		return nil
	}

	c.CurrentStep = step
	return s.repo.SaveCase(c)
}
