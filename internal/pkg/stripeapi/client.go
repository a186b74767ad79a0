package stripeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/faustinowatschinger/recurBoost-next/internal/pkg/env"
	"github.com/google/uuid"
)

const defaultAPIBaseURL = "https://api.stripe.com/v1"

// Client talks to the Stripe REST API with one tenant's own API key.
type Client struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewClient builds a client for a decrypted tenant API key. The base URL
// can be overridden via STRIPE_API_BASE_URL for tests.
func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:     strings.TrimSpace(apiKey),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Invoice is the subset of the Stripe invoice object the engine consumes.
type Invoice struct {
	ID                    string `json:"id"`
	Status                string `json:"status"`
	CustomerEmail         string `json:"customer_email"`
	AmountDue             int64  `json:"amount_due"`
	AmountPaid            int64  `json:"amount_paid"`
	Currency              string `json:"currency"`
	CustomerRef           expandableRef
	SubscriptionRef       expandableRef
	PaymentIntent         expandableRef
	LastFinalizationError *APIError
}

func (inv *Invoice) UnmarshalJSON(data []byte) error {
	type alias Invoice
	aux := struct {
		*alias
		Customer              json.RawMessage `json:"customer"`
		Subscription          json.RawMessage `json:"subscription"`
		PaymentIntentRaw      json.RawMessage `json:"payment_intent"`
		LastFinalizationError *APIError       `json:"last_finalization_error"`
	}{alias: (*alias)(inv)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	inv.CustomerRef = parseExpandable(aux.Customer)
	inv.SubscriptionRef = parseExpandable(aux.Subscription)
	inv.PaymentIntent = parseExpandable(aux.PaymentIntentRaw)
	inv.LastFinalizationError = aux.LastFinalizationError
	return nil
}

// expandableRef holds a Stripe expandable field: either a bare id string
// or an embedded object.
type expandableRef struct {
	ID     string
	Object json.RawMessage
}

func parseExpandable(raw json.RawMessage) expandableRef {
	if len(raw) == 0 || string(raw) == "null" {
		return expandableRef{}
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return expandableRef{ID: id}
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return expandableRef{ID: obj.ID, Object: raw}
	}
	return expandableRef{}
}

// APIError mirrors Stripe's error payloads.
type APIError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

// PaymentIntent is the subset used for decline-code extraction.
type PaymentIntent struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	LastPaymentError *APIError `json:"last_payment_error"`
}

// Account is the subset used to validate a BYOK key on connect.
type Account struct {
	ID      string `json:"id"`
	Country string `json:"country"`
	Email   string `json:"email"`
}

// WebhookEndpoint is returned from webhook endpoint auto-creation.
type WebhookEndpoint struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// PortalSession is a billing-portal session.
type PortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event is a webhook event envelope.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Account string `json:"account"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, extraHeaders map[string]string, out interface{}) error {
	if c.APIKey == "" {
		return errors.New("stripe api key is required")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var wrapper struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(raw, &wrapper) == nil && wrapper.Error != nil {
			return fmt.Errorf("stripe %s %s failed: status=%d code=%s decline_code=%s: %s",
				method, path, resp.StatusCode, wrapper.Error.Code, wrapper.Error.DeclineCode, wrapper.Error.Message)
		}
		return fmt.Errorf("stripe %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// GetInvoice fetches an invoice by id.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var inv Invoice
	if err := c.do(ctx, http.MethodGet, "/invoices/"+url.PathEscape(invoiceID), nil, nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// PayInvoice forces collection of an open invoice. The generated
// Idempotency-Key makes a timed-out call safe to repeat.
func (c *Client) PayInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	headers := map[string]string{"Idempotency-Key": uuid.New().String()}
	var inv Invoice
	if err := c.do(ctx, http.MethodPost, "/invoices/"+url.PathEscape(invoiceID)+"/pay", url.Values{}, headers, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetPaymentIntent fetches a payment intent by id.
func (c *Client) GetPaymentIntent(ctx context.Context, piID string) (*PaymentIntent, error) {
	var pi PaymentIntent
	if err := c.do(ctx, http.MethodGet, "/payment_intents/"+url.PathEscape(piID), nil, nil, &pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

// GetAccount fetches the account owning the API key.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, http.MethodGet, "/account", nil, nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// CreateWebhookEndpoint registers our webhook URL on the tenant's account.
func (c *Client) CreateWebhookEndpoint(ctx context.Context, endpointURL string, events []string) (*WebhookEndpoint, error) {
	form := url.Values{}
	form.Set("url", endpointURL)
	for _, ev := range events {
		form.Add("enabled_events[]", ev)
	}
	var we WebhookEndpoint
	if err := c.do(ctx, http.MethodPost, "/webhook_endpoints", form, nil, &we); err != nil {
		return nil, err
	}
	return &we, nil
}

// CreatePortalSession creates a billing-portal session. With deepLink the
// session opens directly on the payment-method-update flow; older portal
// configurations reject flow_data, so callers retry with deepLink=false.
func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string, deepLink bool) (*PortalSession, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)
	if deepLink {
		form.Set("flow_data[type]", "payment_method_update")
	}
	var ps PortalSession
	if err := c.do(ctx, http.MethodPost, "/billing_portal/sessions", form, nil, &ps); err != nil {
		return nil, err
	}
	return &ps, nil
}

// ParseEvent decodes a webhook envelope.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.ID) == "" {
		return nil, errors.New("stripe event payload missing id")
	}
	return &ev, nil
}

// InvoiceFromEvent decodes the invoice object carried by an event.
func InvoiceFromEvent(ev *Event) (*Invoice, error) {
	var inv Invoice
	if err := json.Unmarshal(ev.Data.Object, &inv); err != nil {
		return nil, err
	}
	if strings.TrimSpace(inv.ID) == "" {
		return nil, errors.New("stripe event payload missing invoice id")
	}
	return &inv, nil
}
