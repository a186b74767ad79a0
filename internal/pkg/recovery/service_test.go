package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/faustinowatschinger/recurBoost-next/app/models"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/security"
	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/stripeapi"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

// fakeRepo is an in-memory Repository. Uniqueness constraints are enforced
// the same way the DB does, so the idempotency paths behave identically.
type fakeRepo struct {
	mu           sync.Mutex
	integrations []models.PaymentIntegration
	events       map[string]time.Time
	cases        []*models.RecoveryCase
	messages     []*models.SentMessage
	nextID       uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{events: map[string]time.Time{}}
}

func (r *fakeRepo) ListActiveIntegrations() ([]models.PaymentIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentIntegration
	for _, in := range r.integrations {
		if in.Status == models.IntegrationStatusActive && in.WebhookSecretEncrypted != "" {
			out = append(out, in)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetActiveIntegrationByUser(userID uint) (*models.PaymentIntegration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.integrations {
		if r.integrations[i].UserID == userID && r.integrations[i].Status == models.IntegrationStatusActive {
			in := r.integrations[i]
			return &in, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) MarkIntegrationInvalid(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.integrations {
		if r.integrations[i].ID == id {
			r.integrations[i].Status = models.IntegrationStatusInvalid
		}
	}
	return nil
}

func (r *fakeRepo) ClaimEvent(eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[eventID]; ok {
		return false, nil
	}
	r.events[eventID] = time.Now()
	return true, nil
}

func (r *fakeRepo) PurgeExpiredEvents(before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for id, at := range r.events {
		if at.Before(before) {
			delete(r.events, id)
			purged++
		}
	}
	return purged, nil
}

func (r *fakeRepo) CreateCaseIfNotExists(c *models.RecoveryCase) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.cases {
		if existing.StripeInvoiceID == c.StripeInvoiceID {
			return false, nil
		}
	}
	r.nextID++
	c.ID = r.nextID
	if c.UUID == "" {
		c.UUID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	r.cases = append(r.cases, c)
	return true, nil
}

func (r *fakeRepo) GetCaseByInvoiceID(invoiceID string) (*models.RecoveryCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cases {
		if c.StripeInvoiceID == invoiceID {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetCaseByUUID(id string) (*models.RecoveryCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cases {
		if c.UUID == id {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetOpenCaseByInvoiceID(invoiceID string) (*models.RecoveryCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.cases {
		if c.StripeInvoiceID == invoiceID && c.Status == models.CaseStatusActive && !c.Recovered {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) SaveCase(c *models.RecoveryCase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.cases {
		if existing.ID == c.ID {
			r.cases[i] = c
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) ListActiveCases() ([]models.RecoveryCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RecoveryCase
	for _, c := range r.cases {
		if c.Status == models.CaseStatusActive && !c.Recovered {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListCasesByUser(userID uint) ([]models.RecoveryCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RecoveryCase
	for _, c := range r.cases {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListPendingRetries(now time.Time) ([]models.RecoveryCase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RecoveryCase
	for _, c := range r.cases {
		if c.Status == models.CaseStatusActive && !c.Recovered && !c.SmartRetryAttempted &&
			c.SmartRetryScheduledAt != nil && !c.SmartRetryScheduledAt.After(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeRepo) HasSentMessage(caseID uint, step int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.RecoveryCaseID == caseID && m.Step == step {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) CreateSentMessageIfNotExists(msg *models.SentMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.RecoveryCaseID == msg.RecoveryCaseID && m.Step == msg.Step {
			return false, nil
		}
	}
	r.messages = append(r.messages, msg)
	return true, nil
}

func (r *fakeRepo) MarkMessageOpened(caseID uint, step int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.RecoveryCaseID == caseID && m.Step == step && !m.Opened {
			m.Opened = true
			m.OpenedAt = &at
		}
	}
	return nil
}

func (r *fakeRepo) MarkMessageClicked(caseID uint, step int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.RecoveryCaseID == caseID && m.Step == step && !m.Clicked {
			m.Clicked = true
			m.ClickedAt = &at
		}
	}
	return nil
}

func (r *fakeRepo) messagesForCase(caseID uint) []*models.SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SentMessage
	for _, m := range r.messages {
		if m.RecoveryCaseID == caseID {
			out = append(out, m)
		}
	}
	return out
}

type fakeMailer struct {
	mu    sync.Mutex
	sends []string
}

func (m *fakeMailer) Send(from, to, subject, html string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, subject)
	return fmt.Sprintf("msg-%d", len(m.sends)), nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

type fakeProcessor struct {
	payStatus     string
	payErr        error
	payCalls      int
	piDeclineCode string
	portalDeepErr error
	portalErr     error
}

func (p *fakeProcessor) GetInvoice(ctx context.Context, invoiceID string) (*stripeapi.Invoice, error) {
	return &stripeapi.Invoice{ID: invoiceID, Status: "open"}, nil
}

func (p *fakeProcessor) PayInvoice(ctx context.Context, invoiceID string) (*stripeapi.Invoice, error) {
	p.payCalls++
	if p.payErr != nil {
		return nil, p.payErr
	}
	return &stripeapi.Invoice{ID: invoiceID, Status: p.payStatus}, nil
}

func (p *fakeProcessor) GetPaymentIntent(ctx context.Context, piID string) (*stripeapi.PaymentIntent, error) {
	pi := &stripeapi.PaymentIntent{ID: piID}
	if p.piDeclineCode != "" {
		pi.LastPaymentError = &stripeapi.APIError{DeclineCode: p.piDeclineCode}
	}
	return pi, nil
}

func (p *fakeProcessor) CreatePortalSession(ctx context.Context, customerID, returnURL string, deepLink bool) (*stripeapi.PortalSession, error) {
	if deepLink {
		if p.portalDeepErr != nil {
			return nil, p.portalDeepErr
		}
		return &stripeapi.PortalSession{ID: "bps_deep", URL: "https://billing.stripe.com/deep"}, nil
	}
	if p.portalErr != nil {
		return nil, p.portalErr
	}
	return &stripeapi.PortalSession{ID: "bps_plain", URL: "https://billing.stripe.com/plain"}, nil
}

const testWebhookSecret = "whsec_test_secret"

func newTestService(t *testing.T) (*Service, *fakeRepo, *fakeMailer, *fakeProcessor) {
	t.Helper()
	t.Setenv("APP_ENCRYPTION_KEY", testKeyHex)
	security.SetupVault()

	repo := newFakeRepo()
	mailer := &fakeMailer{}
	processor := &fakeProcessor{payStatus: "open"}
	svc := NewService(repo, mailer).WithProcessorFactory(func(apiKey string) Processor {
		return processor
	})
	return svc, repo, mailer, processor
}

func addIntegration(t *testing.T, repo *fakeRepo, userID uint) {
	t.Helper()
	keyEnc, err := security.Encrypt("sk_test_abc123")
	require.NoError(t, err)
	secretEnc, err := security.Encrypt(testWebhookSecret)
	require.NoError(t, err)
	repo.integrations = append(repo.integrations, models.PaymentIntegration{
		ID:                     uint(len(repo.integrations) + 1),
		UserID:                 userID,
		Provider:               models.PaymentProviderStripe,
		Mode:                   models.IntegrationModeBYOK,
		StripeAccountID:        "acct_1",
		APIKeyEncrypted:        keyEnc,
		APIKeyLast4:            "c123",
		WebhookSecretEncrypted: secretEnc,
		Status:                 models.IntegrationStatusActive,
	})
}

func failedInvoicePayload(eventID, invoiceID, declineCode string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "invoice.payment_failed",
		"data": {"object": {
			"id": %q,
			"status": "open",
			"customer_email": "cliente@example.com",
			"amount_due": 4900,
			"currency": "usd",
			"customer": "cus_1",
			"subscription": "sub_1",
			"payment_intent": {"id": "pi_1", "last_payment_error": {"decline_code": %q}}
		}}
	}`, eventID, invoiceID, declineCode))
}

func paidInvoicePayload(eventID, invoiceID string, amountPaid int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "invoice.paid",
		"data": {"object": {"id": %q, "status": "paid", "amount_paid": %d, "customer": "cus_1"}}
	}`, eventID, invoiceID, amountPaid))
}

func deliver(t *testing.T, svc *Service, payload []byte) (*WebhookResult, error) {
	t.Helper()
	sig := stripeapi.SignPayload(payload, testWebhookSecret, time.Now())
	return svc.ProcessFailureWebhook(context.Background(), payload, sig)
}

func TestWebhookHardDeclineCreatesFailedCase(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	result, err := deliver(t, svc, failedInvoicePayload("evt_1", "in_1", "stolen_card"))
	require.NoError(t, err)
	assert.True(t, result.Received)
	assert.False(t, result.Duplicate)

	c, err := repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFailed, c.Status)
	assert.Equal(t, "HARD_DECLINE_STOLEN", c.FailureType)
	assert.Equal(t, models.RetryResultSkipped, c.SmartRetryResult)
	assert.Nil(t, c.SmartRetryScheduledAt)
	assert.Equal(t, models.StepNone, c.CurrentStep)
	assert.Equal(t, 0, mailer.count())

	// A second delivery of the same event is absorbed as a duplicate.
	result, err = deliver(t, svc, failedInvoicePayload("evt_1", "in_1", "stolen_card"))
	require.NoError(t, err)
	assert.True(t, result.Duplicate)

	// A distinct event for the same invoice creates no second case.
	_, err = deliver(t, svc, failedInvoicePayload("evt_2", "in_1", "stolen_card"))
	require.NoError(t, err)
	assert.Len(t, repo.cases, 1)
	assert.Equal(t, 0, mailer.count())
}

func TestWebhookInsufficientFundsSchedulesRetry(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	_, err := deliver(t, svc, failedInvoicePayload("evt_1", "in_1", "insufficient_funds"))
	require.NoError(t, err)

	c, err := repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusActive, c.Status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", c.FailureType)
	require.NotNil(t, c.SmartRetryScheduledAt)
	assert.WithinDuration(t, time.Now().Add(smartRetryDelay), *c.SmartRetryScheduledAt, time.Minute)
	assert.False(t, c.SmartRetryAttempted)

	// Outreach is held back while the retry is pending.
	assert.Equal(t, 0, mailer.count())
	assert.Equal(t, int64(4900), c.AmountCents)
}

func TestWebhookExpiredCardStartsOutreachImmediately(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	_, err := deliver(t, svc, failedInvoicePayload("evt_1", "in_1", "expired_card"))
	require.NoError(t, err)

	c, err := repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusActive, c.Status)
	assert.Nil(t, c.SmartRetryScheduledAt)
	assert.Equal(t, models.RetryResultSkipped, c.SmartRetryResult)
	assert.Equal(t, 0, c.CurrentStep)
	assert.Equal(t, 1, mailer.count())

	msgs := repo.messagesForCase(c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, 0, msgs[0].Step)
	assert.Equal(t, "expired_card", msgs[0].MessageType)
}

func TestWebhookUnknownDeclineCodeFallsBackToGeneric(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	_, err := deliver(t, svc, failedInvoicePayload("evt_1", "in_1", "brand_new_code"))
	require.NoError(t, err)

	c, err := repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	assert.Equal(t, "GENERIC", c.FailureType)
	assert.Equal(t, models.CaseStatusActive, c.Status)
}

func TestWebhookInvalidSignatureRejected(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	payload := failedInvoicePayload("evt_1", "in_1", "expired_card")
	sig := stripeapi.SignPayload(payload, "whsec_other_tenant", time.Now())
	_, err := svc.ProcessFailureWebhook(context.Background(), payload, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Empty(t, repo.cases)
}

func TestWebhookUnknownEventTypeIgnored(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	payload := []byte(`{"id": "evt_1", "type": "customer.updated", "data": {"object": {"id": "cus_1"}}}`)
	sig := stripeapi.SignPayload(payload, testWebhookSecret, time.Now())
	result, err := svc.ProcessFailureWebhook(context.Background(), payload, sig)
	require.NoError(t, err)
	assert.True(t, result.Ignored)
	assert.Empty(t, repo.cases)
}

func TestInvoicePaidMarksCaseRecovered(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	_, err := deliver(t, svc, failedInvoicePayload("evt_1", "in_1", "insufficient_funds"))
	require.NoError(t, err)

	_, err = deliver(t, svc, paidInvoicePayload("evt_2", "in_1", 4900))
	require.NoError(t, err)

	c, err := repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	assert.True(t, c.Recovered)
	assert.Equal(t, models.CaseStatusRecovered, c.Status)
	assert.Equal(t, int64(4900), c.RecoveredAmountCents)
	require.NotNil(t, c.RecoveredAt)
}

func TestInvoicePaidLeavesTerminalCasesAlone(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	// A hard decline closes its case immediately.
	_, err := deliver(t, svc, failedInvoicePayload("evt_1", "in_1", "stolen_card"))
	require.NoError(t, err)

	// A tenant cancels the second case.
	_, err = deliver(t, svc, failedInvoicePayload("evt_2", "in_2", "expired_card"))
	require.NoError(t, err)
	cancelled, err := repo.GetCaseByInvoiceID("in_2")
	require.NoError(t, err)
	_, err = svc.CancelCase(context.Background(), cancelled.UUID)
	require.NoError(t, err)

	// Late paid events for both invoices are absorbed without reopening.
	_, err = deliver(t, svc, paidInvoicePayload("evt_3", "in_1", 4900))
	require.NoError(t, err)
	_, err = deliver(t, svc, paidInvoicePayload("evt_4", "in_2", 4900))
	require.NoError(t, err)

	failed, err := repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFailed, failed.Status)
	assert.False(t, failed.Recovered)

	cancelled, err = repo.GetCaseByInvoiceID("in_2")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.Recovered)
}

func TestInvoicePaidWithoutCaseIsNoop(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	result, err := deliver(t, svc, paidInvoicePayload("evt_1", "in_unknown", 1000))
	require.NoError(t, err)
	assert.True(t, result.Received)
	assert.Empty(t, repo.cases)
}

func TestSmartRetryFailureReleasesOutreach(t *testing.T) {
	svc, repo, mailer, processor := newTestService(t)
	addIntegration(t, repo, 1)
	processor.payStatus = "open"

	_, err := deliver(t, svc, failedInvoicePayload("evt_1", "in_1", "insufficient_funds"))
	require.NoError(t, err)

	// Pull the schedule into the past so the batch picks it up.
	c, err := repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	c.SmartRetryScheduledAt = &past
	require.NoError(t, repo.SaveCase(c))

	stats, err := svc.ProcessSmartRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetryStats{Processed: 1, Failed: 1}, stats)
	assert.Equal(t, 1, processor.payCalls)

	c, err = repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	assert.True(t, c.SmartRetryAttempted)
	assert.Equal(t, models.RetryResultFailed, c.SmartRetryResult)
	assert.Equal(t, models.CaseStatusActive, c.Status)
	assert.Equal(t, 0, c.CurrentStep)
	assert.Equal(t, 1, mailer.count())

	// A second batch run never touches the case again.
	stats, err = svc.ProcessSmartRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetryStats{}, stats)
	assert.Equal(t, 1, processor.payCalls)
}

func TestSmartRetrySuccessLeavesRecoveryToPaidEvent(t *testing.T) {
	svc, repo, mailer, processor := newTestService(t)
	addIntegration(t, repo, 1)
	processor.payStatus = "paid"

	_, err := deliver(t, svc, failedInvoicePayload("evt_1", "in_1", "do_not_honor"))
	require.NoError(t, err)

	c, err := repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	c.SmartRetryScheduledAt = &past
	require.NoError(t, repo.SaveCase(c))

	stats, err := svc.ProcessSmartRetries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RetryStats{Processed: 1, Succeeded: 1}, stats)

	c, err = repo.GetCaseByInvoiceID("in_1")
	require.NoError(t, err)
	assert.True(t, c.SmartRetryAttempted)
	assert.Equal(t, models.RetryResultSucceeded, c.SmartRetryResult)

	// The paid webhook flips the case, not the retry path.
	assert.False(t, c.Recovered)
	assert.Equal(t, models.CaseStatusActive, c.Status)
	assert.Equal(t, 0, mailer.count())
}

func TestConcurrentDeliveriesCreateOneCase(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload := failedInvoicePayload(fmt.Sprintf("evt_%d", n), "in_1", "expired_card")
			sig := stripeapi.SignPayload(payload, testWebhookSecret, time.Now())
			if _, err := svc.ProcessFailureWebhook(context.Background(), payload, sig); err != nil {
				t.Errorf("delivery %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, repo.cases, 1)
	assert.Len(t, repo.messagesForCase(repo.cases[0].ID), 1)
	assert.Equal(t, 1, mailer.count())
}

func TestConcurrentSchedulerRunsKeepStepsUnique(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     1000,
		Currency:        "usd",
		FailureType:     "GENERIC",
		Status:          models.CaseStatusActive,
		CurrentStep:     models.StepNone,
	}
	created, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)
	require.True(t, created)
	c.CreatedAt = time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, repo.SaveCase(c))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.ProcessSequences(context.Background()); err != nil {
				t.Errorf("scheduler run: %v", err)
			}
		}()
	}
	wg.Wait()

	// However the runs interleave, the unique (case, step) gate admits at
	// most one ledger row per step and never allows a gap.
	msgs := repo.messagesForCase(c.ID)
	require.NotEmpty(t, msgs)
	seen := map[int]bool{}
	for _, m := range msgs {
		assert.False(t, seen[m.Step], "step %d recorded twice", m.Step)
		seen[m.Step] = true
	}
	for step := 0; step < len(msgs); step++ {
		assert.True(t, seen[step], "step %d missing below the high-water mark", step)
	}
}

func TestSequenceAdvancesOneStepPerRun(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeAccountID: "acct_1",
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     4900,
		Currency:        "usd",
		FailureType:     "GENERIC",
		Status:          models.CaseStatusActive,
		CurrentStep:     models.StepNone,
	}
	created, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)
	require.True(t, created)
	c.CreatedAt = time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, repo.SaveCase(c))

	// Even though the case is 8 days old and all five thresholds have
	// passed, each run advances exactly one step.
	for wantStep := 0; wantStep <= 4; wantStep++ {
		require.NoError(t, svc.ProcessSequences(context.Background()))
		got, err := repo.GetCaseByUUID(c.UUID)
		require.NoError(t, err)
		assert.Equal(t, wantStep, got.CurrentStep)
		assert.Equal(t, wantStep+1, mailer.count())
	}

	// Steps arrived in order with no gaps.
	msgs := repo.messagesForCase(c.ID)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, i, m.Step)
	}
}

func TestSequenceRespectsDayThresholds(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     1000,
		Currency:        "usd",
		FailureType:     "GENERIC",
		Status:          models.CaseStatusActive,
		CurrentStep:     models.StepNone,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)
	c.CreatedAt = time.Now().Add(-36 * time.Hour)
	require.NoError(t, repo.SaveCase(c))

	// 1.5 days in: steps 0 and 1 are due, step 2 (day 3) is not.
	require.NoError(t, svc.ProcessSequences(context.Background()))
	require.NoError(t, svc.ProcessSequences(context.Background()))
	require.NoError(t, svc.ProcessSequences(context.Background()))

	got, err := repo.GetCaseByUUID(c.UUID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, 2, mailer.count())
}

func TestSequenceHeldDuringRetryWindow(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	future := time.Now().Add(time.Hour)
	c := &models.RecoveryCase{
		UserID:                1,
		StripeInvoiceID:       "in_1",
		CustomerEmail:         "cliente@example.com",
		AmountCents:           1000,
		Currency:              "usd",
		FailureType:           "INSUFFICIENT_FUNDS",
		Status:                models.CaseStatusActive,
		CurrentStep:           models.StepNone,
		SmartRetryScheduledAt: &future,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)

	require.NoError(t, svc.ProcessSequences(context.Background()))
	assert.Equal(t, 0, mailer.count())

	// Once the retry has been attempted the sequence may move.
	c.SmartRetryAttempted = true
	c.SmartRetryResult = models.RetryResultFailed
	require.NoError(t, repo.SaveCase(c))

	require.NoError(t, svc.ProcessSequences(context.Background()))
	assert.Equal(t, 1, mailer.count())
}

func TestSequenceExhaustionClosesCase(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     1000,
		Currency:        "usd",
		FailureType:     "GENERIC",
		Status:          models.CaseStatusActive,
		CurrentStep:     4,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)

	// All steps sent but the grace window is still open.
	c.CreatedAt = time.Now().Add(-(7*24 + 12) * time.Hour)
	require.NoError(t, repo.SaveCase(c))
	require.NoError(t, svc.ProcessSequences(context.Background()))
	got, err := repo.GetCaseByUUID(c.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusActive, got.Status)

	// Past the final day plus grace: still unpaid, so the case is lost.
	c.CreatedAt = time.Now().Add(-(8*24 + 1) * time.Hour)
	require.NoError(t, repo.SaveCase(c))
	require.NoError(t, svc.ProcessSequences(context.Background()))
	got, err = repo.GetCaseByUUID(c.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFailed, got.Status)
	assert.Equal(t, 0, mailer.count())
}

func TestSendStepExactlyOnce(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     1000,
		Currency:        "usd",
		FailureType:     "EXPIRED_CARD",
		Status:          models.CaseStatusActive,
		CurrentStep:     models.StepNone,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)

	require.NoError(t, svc.SendStep(context.Background(), c, 0))
	require.NoError(t, svc.SendStep(context.Background(), c, 0))
	assert.Equal(t, 1, mailer.count())
	assert.Len(t, repo.messagesForCase(c.ID), 1)
}

func TestSendStepSkipsRecoveredCase(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     1000,
		Currency:        "usd",
		FailureType:     "GENERIC",
		Status:          models.CaseStatusRecovered,
		Recovered:       true,
		CurrentStep:     0,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)

	require.NoError(t, svc.SendStep(context.Background(), c, 1))
	assert.Equal(t, 0, mailer.count())
}

func TestSendStepSkipsHardDecline(t *testing.T) {
	svc, repo, mailer, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     1000,
		Currency:        "usd",
		FailureType:     "HARD_DECLINE",
		Status:          models.CaseStatusFailed,
		CurrentStep:     models.StepNone,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)

	require.NoError(t, svc.SendStep(context.Background(), c, 0))
	assert.Equal(t, 0, mailer.count())
}

func TestCancelCase(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     1000,
		Currency:        "usd",
		FailureType:     "GENERIC",
		Status:          models.CaseStatusActive,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)

	got, err := svc.CancelCase(context.Background(), c.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusCancelled, got.Status)

	// Terminal states are never left, even by cancel itself.
	c.Status = models.CaseStatusRecovered
	require.NoError(t, repo.SaveCase(c))
	got, err = svc.CancelCase(context.Background(), c.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusRecovered, got.Status)
}

func TestPortalURLDegradation(t *testing.T) {
	svc, repo, _, processor := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:           1,
		StripeInvoiceID:  "in_1",
		StripeCustomerID: "cus_1",
		CustomerEmail:    "cliente@example.com",
		AmountCents:      1000,
		Currency:         "usd",
		FailureType:      "GENERIC",
		Status:           models.CaseStatusActive,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)

	token, err := security.GenerateRecoveryToken(c.UUID)
	require.NoError(t, err)

	// Deep link works.
	url, err := svc.GetFreshPortalURL(context.Background(), c.UUID, token)
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/deep", url)

	// Deep link rejected, plain session still works.
	processor.portalDeepErr = errors.New("flow_data not supported")
	url, err = svc.GetFreshPortalURL(context.Background(), c.UUID, token)
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/plain", url)

	// Everything fails: fall back to the public base URL.
	processor.portalErr = errors.New("portal unavailable")
	url, err = svc.GetFreshPortalURL(context.Background(), c.UUID, token)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000", url)
}

func TestPortalRejectsInvalidToken(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     1000,
		Currency:        "usd",
		FailureType:     "GENERIC",
		Status:          models.CaseStatusActive,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)

	_, err = svc.GetFreshPortalURL(context.Background(), c.UUID, "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTrackingMarksFirstTouchOnly(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)

	c := &models.RecoveryCase{
		UserID:          1,
		StripeInvoiceID: "in_1",
		CustomerEmail:   "cliente@example.com",
		AmountCents:     1000,
		Currency:        "usd",
		FailureType:     "GENERIC",
		Status:          models.CaseStatusActive,
		CurrentStep:     models.StepNone,
	}
	_, err := repo.CreateCaseIfNotExists(c)
	require.NoError(t, err)
	require.NoError(t, svc.SendStep(context.Background(), c, 0))

	require.NoError(t, svc.MarkMessageOpened(context.Background(), c.UUID, 0))
	msgs := repo.messagesForCase(c.ID)
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Opened)
	firstOpen := *msgs[0].OpenedAt

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, svc.MarkMessageOpened(context.Background(), c.UUID, 0))
	assert.Equal(t, firstOpen, *repo.messagesForCase(c.ID)[0].OpenedAt)

	require.NoError(t, svc.MarkMessageClicked(context.Background(), c.UUID, 0))
	assert.True(t, repo.messagesForCase(c.ID)[0].Clicked)
}

func TestActiveTenantIDsDeduplicates(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	addIntegration(t, repo, 1)
	addIntegration(t, repo, 2)
	addIntegration(t, repo, 1)

	ids, err := svc.ActiveTenantIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, ids)

	// Invalidated integrations drop out of the tenant list.
	require.NoError(t, repo.MarkIntegrationInvalid(repo.integrations[1].ID))
	ids, err = svc.ActiveTenantIDs()
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, ids)
}

func TestPurgeProcessedEvents(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	_, err := repo.ClaimEvent("evt_old")
	require.NoError(t, err)
	repo.events["evt_old"] = time.Now().Add(-models.ProcessedEventRetention - time.Hour)
	_, err = repo.ClaimEvent("evt_new")
	require.NoError(t, err)

	purged, err := svc.PurgeProcessedEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	created, err := repo.ClaimEvent("evt_old")
	require.NoError(t, err)
	assert.True(t, created, "purged event id should be claimable again")
}
