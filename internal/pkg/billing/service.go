package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nimbusdeck/nimbusdeck/app/models"
	"gorm.io/gorm"
)

// Service applies provider webhook events to the local billing tables.
type Service struct {
	repo     Repository
	provider ProviderClient
}

// NewService creates a billing service from an injected repository and
// provider client.
func NewService(repo Repository, provider ProviderClient) *Service {
	return &Service{repo: repo, provider: provider}
}

// NewServiceFromDB creates a billing service from a GORM DB handle using
// the real Stripe client.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewStripeClient())
}

// RecordWebhookEvent persists webhook payloads idempotently. Events
// without a provider id are keyed by a payload hash.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// HandleEvent routes a verified event to its handler. Unrecognized event
// types are deliberately fail-open: they are reported unhandled rather
// than failing the endpoint.
func (s *Service) HandleEvent(ctx context.Context, ev Event) (Outcome, error) {
	switch ev.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return s.handleSubscriptionChange(ctx, ev)
	case EventSubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, ev)
	case EventInvoiceSucceeded:
		return s.handleInvoice(ctx, ev, models.InvoiceStatusSucceeded)
	case EventInvoiceFailed:
		return s.handleInvoice(ctx, ev, models.InvoiceStatusFailed)
	case EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, ev)
	default:
		return Outcome{Handled: false}, nil
	}
}

// handleSubscriptionChange upserts the subscription row keyed by the
// external subscription id. The customer email lookup is required; on
// failure the handler aborts and relies on provider-side redelivery.
func (s *Service) handleSubscriptionChange(ctx context.Context, ev Event) (Outcome, error) {
	var p subscriptionPayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		return Outcome{}, fmt.Errorf("parse subscription payload: %w", err)
	}
	if p.ID == "" {
		return Outcome{}, errors.New("subscription payload has no id")
	}

	email, err := s.provider.CustomerEmail(ctx, p.Customer)
	if err != nil {
		return Outcome{}, err
	}

	userID := s.resolveUserID(p.Metadata, email)
	orgID := parseOptionalID(p.Metadata["organization_id"])

	var (
		priceID     string
		quantity    int64 = 1
		periodStart *time.Time
		periodEnd   *time.Time
	)
	if len(p.Items.Data) > 0 {
		item := p.Items.Data[0]
		priceID = item.Price.ID
		if item.Quantity > 0 {
			quantity = item.Quantity
		}
		periodStart = unixToTime(item.CurrentPeriodStart)
		periodEnd = unixToTime(item.CurrentPeriodEnd)
	}

	sub := &models.Subscription{
		UserID:                 userID,
		OrganizationID:         orgID,
		Provider:               models.BillingProviderStripe,
		ProviderSubscriptionID: p.ID,
		PriceID:                priceID,
		Status:                 NormalizeStatus(p.Status),
		Quantity:               quantity,
		CustomerEmail:          email,
		CurrentPeriodStart:     periodStart,
		CurrentPeriodEnd:       periodEnd,
		CancelAtPeriodEnd:      p.CancelAtPeriodEnd,
		RawPayloadJSON:         string(ev.Raw),
	}
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return Outcome{}, err
	}

	if userID > 0 {
		marker := &p.ID
		if !sub.IsEntitling() {
			marker = nil
		}
		if err := s.repo.SetUserSubscriptionMarker(userID, marker); err != nil {
			return Outcome{}, err
		}
	}

	if orgID != nil {
		if err := s.repo.SetOrganizationSeats(*orgID, quantity); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Handled: true, Action: "subscription_synced"}, nil
}

// handleSubscriptionDeleted marks the row cancelled and clears the
// owning user's subscription marker.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, ev Event) (Outcome, error) {
	_ = ctx
	var p subscriptionPayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		return Outcome{}, fmt.Errorf("parse subscription payload: %w", err)
	}
	if p.ID == "" {
		return Outcome{}, errors.New("subscription payload has no id")
	}

	sub, err := s.repo.GetSubscriptionByProviderID(models.BillingProviderStripe, p.ID)
	if err != nil {
		return Outcome{}, err
	}

	sub.Status = models.SubscriptionStatusCancelled
	sub.RawPayloadJSON = string(ev.Raw)
	if err := s.repo.SaveSubscription(sub); err != nil {
		return Outcome{}, err
	}

	if sub.UserID > 0 {
		if err := s.repo.SetUserSubscriptionMarker(sub.UserID, nil); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Handled: true, Action: "subscription_cancelled"}, nil
}

// handleInvoice appends one invoice row per event. The amount field is
// chosen by event kind and normalized from minor units.
func (s *Service) handleInvoice(ctx context.Context, ev Event, status string) (Outcome, error) {
	_ = ctx
	var p invoicePayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		return Outcome{}, fmt.Errorf("parse invoice payload: %w", err)
	}
	if p.ID == "" {
		return Outcome{}, errors.New("invoice payload has no id")
	}

	var userID uint
	if p.Subscription != "" {
		sub, err := s.repo.GetSubscriptionByProviderID(models.BillingProviderStripe, p.Subscription)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return Outcome{}, err
		}
		if sub != nil {
			userID = sub.UserID
		}
	}

	amount := MinorToMajor(p.AmountPaid)
	if status == models.InvoiceStatusFailed {
		amount = MinorToMajor(p.AmountDue)
	}

	inv := &models.Invoice{
		UserID:                 userID,
		Provider:               models.BillingProviderStripe,
		ProviderInvoiceID:      p.ID,
		ProviderSubscriptionID: p.Subscription,
		Amount:                 amount,
		Currency:               p.Currency,
		Status:                 status,
	}
	if err := s.repo.CreateInvoice(inv); err != nil {
		return Outcome{}, err
	}

	return Outcome{Handled: true, Action: "invoice_recorded"}, nil
}

// handleCheckoutCompleted branches on the purchase_type metadata flag.
// Both branches are multi-step sequential writes with no transactional
// wrapping; a partial failure surfaces as an error and the provider
// retries the whole webhook.
func (s *Service) handleCheckoutCompleted(ctx context.Context, ev Event) (Outcome, error) {
	var p checkoutSessionPayload
	if err := json.Unmarshal(ev.Raw, &p); err != nil {
		return Outcome{}, fmt.Errorf("parse checkout session payload: %w", err)
	}
	if p.ID == "" {
		return Outcome{}, errors.New("checkout session payload has no id")
	}

	if p.Metadata[MetadataPurchaseType] == PurchaseOneTime {
		return s.completeOneTimePayment(ctx, &p)
	}
	return s.completeSubscriptionCheckout(ctx, &p)
}

func (s *Service) completeOneTimePayment(ctx context.Context, p *checkoutSessionPayload) (Outcome, error) {
	_ = ctx
	userID := s.resolveUserID(p.Metadata, p.email())
	if userID == 0 {
		return Outcome{}, gorm.ErrRecordNotFound
	}
	// Metadata ids come from the provider unverified.
	if _, err := s.repo.GetUserByID(userID); err != nil {
		return Outcome{}, err
	}

	amount := MinorToMajor(p.AmountTotal)
	payment := &models.Payment{
		UserID:            userID,
		Provider:          models.BillingProviderStripe,
		ProviderSessionID: p.ID,
		Amount:            amount,
		Currency:          p.Currency,
		CreditsGranted:    amount,
	}
	if err := s.repo.CreatePayment(payment); err != nil {
		return Outcome{}, err
	}
	if err := s.repo.AddUserCredits(userID, amount); err != nil {
		return Outcome{}, err
	}

	return Outcome{Handled: true, Action: "credits_granted"}, nil
}

func (s *Service) completeSubscriptionCheckout(ctx context.Context, p *checkoutSessionPayload) (Outcome, error) {
	// Re-tag the provider subscription with the originating metadata so
	// later lifecycle events carry the user/org linkage.
	if p.Subscription != "" {
		tags := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			if k == MetadataPurchaseType {
				continue
			}
			tags[k] = v
		}
		if len(tags) > 0 {
			if err := s.provider.TagSubscription(ctx, p.Subscription, tags); err != nil {
				return Outcome{}, err
			}
		}
	}

	email := p.email()
	if email == "" {
		return Outcome{Handled: true, Action: "checkout_linked"}, nil
	}

	user, err := s.repo.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// No local account yet; lifecycle events will link it later.
			return Outcome{Handled: true, Action: "checkout_linked"}, nil
		}
		return Outcome{}, err
	}

	if err := s.repo.AttachSubscriptionsToUser(models.BillingProviderStripe, email, user.ID); err != nil {
		return Outcome{}, err
	}
	// Invoices recorded before this checkout linked a user stay at
	// user id 0; pick them up through the now-linked subscriptions.
	if err := s.repo.AttachInvoicesToUser(models.BillingProviderStripe, email, user.ID); err != nil {
		return Outcome{}, err
	}
	if p.Subscription != "" {
		if err := s.repo.SetUserSubscriptionMarker(user.ID, &p.Subscription); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Handled: true, Action: "checkout_linked"}, nil
}

// resolveUserID prefers the originating metadata, then the customer email.
func (s *Service) resolveUserID(metadata map[string]string, email string) uint {
	if raw := strings.TrimSpace(metadata["user_id"]); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
			return uint(id)
		}
	}
	if email != "" {
		if user, err := s.repo.GetUserByEmail(email); err == nil {
			return user.ID
		}
	}
	return 0
}

func parseOptionalID(raw string) *uint {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return nil
	}
	v := uint(id)
	return &v
}

func unixToTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
