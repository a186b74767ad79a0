package recovery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/mail"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/stripeapi"
	"gorm.io/gorm"
)

// Smart retries run this long after the failure before outreach starts.
const smartRetryDelay = 24 * time.Hour

var (
	// ErrInvalidSignature means no active tenant secret verifies the
	// payload. Rejected, never retried.
	ErrInvalidSignature = errors.New("no matching integration for webhook signature")
	// ErrInvalidToken means a presented recovery token failed HMAC
	// verification.
	ErrInvalidToken = errors.New("invalid recovery token")
)

// Processor is the billing-processor surface the engine consumes, bound to
// one tenant's credentials.
type Processor interface {
	GetInvoice(ctx context.Context, invoiceID string) (*stripeapi.Invoice, error)
	PayInvoice(ctx context.Context, invoiceID string) (*stripeapi.Invoice, error)
	GetPaymentIntent(ctx context.Context, piID string) (*stripeapi.PaymentIntent, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string, deepLink bool) (*stripeapi.PortalSession, error)
}

// Service drives the recovery flow: webhook ingestion, smart retries,
// sequence scheduling and dispatch. Dependencies are injected so tests run
// against fakes.
type Service struct {
	repo   Repository
	mailer mail.Mailer

	// processorFor builds a processor client from a decrypted API key.
	processorFor func(apiKey string) Processor
}

// NewService creates a recovery service from injected dependencies.
func NewService(repo Repository, mailer mail.Mailer) *Service {
	return &Service{
		repo:   repo,
		mailer: mailer,
		processorFor: func(apiKey string) Processor {
			return stripeapi.NewClient(apiKey)
		},
	}
}

// NewServiceFromDB creates a recovery service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, mailer mail.Mailer) *Service {
	return NewService(NewRepository(db), mailer)
}

// WithProcessorFactory overrides processor construction, for tests.
func (s *Service) WithProcessorFactory(f func(apiKey string) Processor) *Service {
	s.processorFor = f
	return s
}

// CancelCase marks an active case cancelled on tenant request. Terminal
// states are never left.
func (s *Service) CancelCase(ctx context.Context, caseUUID string) (*models.RecoveryCase, error) {
	_ = ctx
	c, err := s.repo.GetCaseByUUID(caseUUID)
	if err != nil {
		return nil, err
	}
	if c.IsTerminal() {
		return c, nil
	}
	c.Status = models.CaseStatusCancelled
	if err := s.repo.SaveCase(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ActiveTenantIDs lists the tenants with an active integration,
// deduplicated, in the order the integrations are stored.
func (s *Service) ActiveTenantIDs() ([]uint, error) {
	integrations, err := s.repo.ListActiveIntegrations()
	if err != nil {
		return nil, err
	}
	seen := make(map[uint]bool, len(integrations))
	var ids []uint
	for i := range integrations {
		if seen[integrations[i].UserID] {
			continue
		}
		seen[integrations[i].UserID] = true
		ids = append(ids, integrations[i].UserID)
	}
	return ids, nil
}

// PurgeProcessedEvents drops ledger rows older than the retention window.
func (s *Service) PurgeProcessedEvents(ctx context.Context) (int64, error) {
	_ = ctx
	return s.repo.PurgeExpiredEvents(time.Now().Add(-models.ProcessedEventRetention))
}

func baseURL() string {
	return strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000"), "/")
}
