package billing

import "errors"

// Event kinds dispatched by the webhook endpoint.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoiceSucceeded    = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
	EventCheckoutCompleted   = "checkout.session.completed"
)

// Checkout session metadata flag separating the two completion branches.
const (
	MetadataPurchaseType = "purchase_type"
	PurchaseOneTime      = "one_time"
	PurchaseSubscription = "subscription"
)

// BillingTypeRecurring is the wire value for subscription checkouts; the
// one-time value reuses PurchaseOneTime.
const BillingTypeRecurring = "recurring"

var (
	// ErrMissingSecret is returned when STRIPE_WEBHOOK_SECRET is unset.
	ErrMissingSecret = errors.New("billing: webhook secret is not configured")
	// ErrInvalidSignature is returned for payloads that fail verification.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")
	// ErrUpstream wraps provider API failures; Stripe's own webhook retry
	// is the recovery mechanism for these.
	ErrUpstream = errors.New("billing: provider lookup failed")
)

// Event is the verified envelope handed to the dispatcher. Raw holds the
// data.object JSON of the provider event.
type Event struct {
	ID   string
	Type string
	Raw  []byte
}

// Outcome reports what the dispatcher did with an event.
type Outcome struct {
	Handled bool
	Action  string
}

// subscriptionPayload is the subset of a Stripe subscription object the
// lifecycle handlers consume.
type subscriptionPayload struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	Metadata          map[string]string `json:"metadata"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Items             struct {
		Data []struct {
			Quantity           int64 `json:"quantity"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
}

type checkoutSessionPayload struct {
	ID              string            `json:"id"`
	Customer        string            `json:"customer"`
	Subscription    string            `json:"subscription"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

func (p *checkoutSessionPayload) email() string {
	if p.CustomerDetails.Email != "" {
		return p.CustomerDetails.Email
	}
	return p.CustomerEmail
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
