package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/nimbusdeck/nimbusdeck/internal/pkg/env"
)

// SetupStripe configures the global Stripe API key from the environment.
func SetupStripe() {
	stripe.Key = env.GetEnv("STRIPE_SECRET_KEY", "")
}

// VerifyWebhook checks the payload signature and returns the typed event
// envelope. Callers must pass the raw, unmodified request body.
func VerifyWebhook(payload []byte, signatureHeader, webhookSecret string) (Event, error) {
	if strings.TrimSpace(webhookSecret) == "" {
		return Event{}, ErrMissingSecret
	}
	se, err := webhook.ConstructEventWithOptions(payload, signatureHeader, webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return Event{
		ID:   se.ID,
		Type: string(se.Type),
		Raw:  se.Data.Raw,
	}, nil
}

// ProviderClient is the subset of the provider API the webhook handlers
// need. Kept as an interface so the service stays testable without
// network calls.
type ProviderClient interface {
	CustomerEmail(ctx context.Context, customerID string) (string, error)
	TagSubscription(ctx context.Context, subscriptionID string, metadata map[string]string) error
}

type stripeClient struct{}

// NewStripeClient returns a ProviderClient backed by the Stripe API.
func NewStripeClient() ProviderClient {
	return stripeClient{}
}

func (stripeClient) CustomerEmail(_ context.Context, customerID string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", fmt.Errorf("%w: empty customer id", ErrUpstream)
	}
	c, err := customer.Get(customerID, &stripe.CustomerParams{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return c.Email, nil
}

func (stripeClient) TagSubscription(_ context.Context, subscriptionID string, metadata map[string]string) error {
	params := &stripe.SubscriptionParams{}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return nil
}

// CheckoutInput describes a checkout session request.
type CheckoutInput struct {
	UserID         uint
	OrganizationID uint
	PriceID        string
	Subscription   bool
	Quantity       int64
	BillingType    string
	SuccessURL     string
	CancelURL      string
}

// CheckoutSession is the response for a created checkout session.
type CheckoutSession struct {
	SessionID   string `json:"sessionId"`
	BillingType string `json:"billingType"`
	Quantity    int64  `json:"quantity"`
}

// CreateCheckoutSession creates a Stripe checkout session carrying the
// originating user/org ids in its metadata so the completion webhook can
// link the resulting rows.
func CreateCheckoutSession(_ context.Context, in CheckoutInput) (*CheckoutSession, error) {
	if strings.TrimSpace(in.PriceID) == "" {
		return nil, fmt.Errorf("billing: price_id is required")
	}
	if in.UserID == 0 && in.OrganizationID == 0 {
		return nil, fmt.Errorf("billing: user_id or organization_id is required")
	}

	quantity := in.Quantity
	if quantity < 1 {
		quantity = 1
	}

	// The subscription flag is the source of truth for the session mode;
	// an explicit billing type must agree with it.
	billingType := strings.TrimSpace(in.BillingType)
	switch billingType {
	case "":
		if in.Subscription {
			billingType = BillingTypeRecurring
		} else {
			billingType = PurchaseOneTime
		}
	case BillingTypeRecurring:
		if !in.Subscription {
			return nil, fmt.Errorf("billing: billing_type %q requires a subscription checkout", billingType)
		}
	case PurchaseOneTime:
		if in.Subscription {
			return nil, fmt.Errorf("billing: billing_type %q conflicts with a subscription checkout", billingType)
		}
	default:
		return nil, fmt.Errorf("billing: unknown billing_type %q", billingType)
	}

	mode := stripe.CheckoutSessionModePayment
	purchaseType := PurchaseOneTime
	if in.Subscription {
		mode = stripe.CheckoutSessionModeSubscription
		purchaseType = PurchaseSubscription
	}

	successURL := in.SuccessURL
	if successURL == "" {
		successURL = env.GetEnv("APP_PUBLIC_URL", "http://localhost:4000") + "/billing/success"
	}
	cancelURL := in.CancelURL
	if cancelURL == "" {
		cancelURL = env.GetEnv("APP_PUBLIC_URL", "http://localhost:4000") + "/billing/cancel"
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	params.AddMetadata(MetadataPurchaseType, purchaseType)
	if in.UserID > 0 {
		params.AddMetadata("user_id", strconv.FormatUint(uint64(in.UserID), 10))
	}
	if in.OrganizationID > 0 {
		params.AddMetadata("organization_id", strconv.FormatUint(uint64(in.OrganizationID), 10))
	}

	s, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	return &CheckoutSession{
		SessionID:   s.ID,
		BillingType: billingType,
		Quantity:    quantity,
	}, nil
}
