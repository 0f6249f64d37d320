package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nimbusdeck/nimbusdeck/app/models"
)

type fakeRepo struct {
	users    map[uint]*models.User
	subs     map[string]*models.Subscription
	invoices []*models.Invoice
	payments []*models.Payment
	events   map[string]*models.WebhookEvent
	orgSeats map[uint]int64

	processedIDs []uint
	nextID       uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    make(map[uint]*models.User),
		subs:     make(map[string]*models.Subscription),
		events:   make(map[string]*models.WebhookEvent),
		orgSeats: make(map[uint]int64),
	}
}

func (r *fakeRepo) addUser(u *models.User) {
	r.users[u.ID] = u
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + ":" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		return false, stored, nil
	}
	r.nextID++
	event.ID = r.nextID
	r.events[key] = event
	return true, event, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.processedIDs = append(r.processedIDs, id)
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
		}
	}
	return nil
}

func (r *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	if existing, ok := r.subs[sub.ProviderSubscriptionID]; ok {
		sub.ID = existing.ID
	} else {
		r.nextID++
		sub.ID = r.nextID
	}
	r.subs[sub.ProviderSubscriptionID] = sub
	return nil
}

func (r *fakeRepo) GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	if sub, ok := r.subs[providerSubscriptionID]; ok {
		return sub, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	r.subs[sub.ProviderSubscriptionID] = sub
	return nil
}

func (r *fakeRepo) AttachSubscriptionsToUser(provider, customerEmail string, userID uint) error {
	for _, sub := range r.subs {
		if sub.CustomerEmail == customerEmail && sub.UserID == 0 {
			sub.UserID = userID
		}
	}
	return nil
}

func (r *fakeRepo) AttachInvoicesToUser(provider, customerEmail string, userID uint) error {
	for _, inv := range r.invoices {
		if inv.UserID != 0 {
			continue
		}
		sub, ok := r.subs[inv.ProviderSubscriptionID]
		if ok && sub.CustomerEmail == customerEmail {
			inv.UserID = userID
		}
	}
	return nil
}

func (r *fakeRepo) CreateInvoice(inv *models.Invoice) error {
	r.invoices = append(r.invoices, inv)
	return nil
}

func (r *fakeRepo) CreatePayment(p *models.Payment) error {
	r.payments = append(r.payments, p)
	return nil
}

func (r *fakeRepo) GetUserByID(id uint) (*models.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetUserByEmail(email string) (*models.User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) SetUserSubscriptionMarker(userID uint, subscriptionID *string) error {
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.SubscriptionID = subscriptionID
	return nil
}

func (r *fakeRepo) AddUserCredits(userID uint, amount float64) error {
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Credits += amount
	return nil
}

func (r *fakeRepo) SetOrganizationSeats(orgID uint, seats int64) error {
	r.orgSeats[orgID] = seats
	return nil
}

type fakeProvider struct {
	emails   map[string]string
	emailErr error
	tagged   map[string]map[string]string
	tagErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		emails: make(map[string]string),
		tagged: make(map[string]map[string]string),
	}
}

func (p *fakeProvider) CustomerEmail(_ context.Context, customerID string) (string, error) {
	if p.emailErr != nil {
		return "", p.emailErr
	}
	if email, ok := p.emails[customerID]; ok {
		return email, nil
	}
	return "", fmt.Errorf("%w: unknown customer %s", ErrUpstream, customerID)
}

func (p *fakeProvider) TagSubscription(_ context.Context, subscriptionID string, metadata map[string]string) error {
	if p.tagErr != nil {
		return p.tagErr
	}
	p.tagged[subscriptionID] = metadata
	return nil
}

func newTestService() (*Service, *fakeRepo, *fakeProvider) {
	repo := newFakeRepo()
	provider := newFakeProvider()
	return NewService(repo, provider), repo, provider
}

func TestHandleEventUnknownTypeIsFailOpen(t *testing.T) {
	svc, repo, _ := newTestService()

	out, err := svc.HandleEvent(context.Background(), Event{
		ID:   "evt_1",
		Type: "customer.created",
		Raw:  []byte(`{"id":"cus_1"}`),
	})
	require.NoError(t, err)
	assert.False(t, out.Handled)
	assert.Empty(t, repo.subs)
	assert.Empty(t, repo.invoices)
}

func TestSubscriptionCreatedUpsertsRow(t *testing.T) {
	svc, repo, provider := newTestService()
	repo.addUser(&models.User{ID: 7, Email: "owner@example.com"})
	provider.emails["cus_42"] = "owner@example.com"

	raw := []byte(`{
		"id": "sub_123",
		"customer": "cus_42",
		"status": "active",
		"metadata": {},
		"items": {"data": [{"quantity": 3, "current_period_start": 1717200000, "current_period_end": 1719878400, "price": {"id": "price_pro"}}]}
	}`)

	out, err := svc.HandleEvent(context.Background(), Event{ID: "evt_2", Type: EventSubscriptionCreated, Raw: raw})
	require.NoError(t, err)
	assert.True(t, out.Handled)
	assert.Equal(t, "subscription_synced", out.Action)

	sub := repo.subs["sub_123"]
	require.NotNil(t, sub)
	assert.Equal(t, uint(7), sub.UserID)
	assert.Equal(t, "price_pro", sub.PriceID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, int64(3), sub.Quantity)
	assert.Equal(t, "owner@example.com", sub.CustomerEmail)
	require.NotNil(t, sub.CurrentPeriodStart)
	require.NotNil(t, sub.CurrentPeriodEnd)

	user := repo.users[7]
	require.NotNil(t, user.SubscriptionID)
	assert.Equal(t, "sub_123", *user.SubscriptionID)
}

func TestSubscriptionUpdatedSyncsOrganizationSeats(t *testing.T) {
	svc, repo, provider := newTestService()
	repo.addUser(&models.User{ID: 3, Email: "admin@example.com"})
	provider.emails["cus_9"] = "admin@example.com"

	raw := []byte(`{
		"id": "sub_team",
		"customer": "cus_9",
		"status": "active",
		"metadata": {"organization_id": "12", "user_id": "3"},
		"items": {"data": [{"quantity": 25, "price": {"id": "price_team"}}]}
	}`)

	_, err := svc.HandleEvent(context.Background(), Event{ID: "evt_3", Type: EventSubscriptionUpdated, Raw: raw})
	require.NoError(t, err)
	assert.Equal(t, int64(25), repo.orgSeats[12])
}

func TestSubscriptionChangeAbortsWhenEmailLookupFails(t *testing.T) {
	svc, repo, provider := newTestService()
	provider.emailErr = fmt.Errorf("%w: api down", ErrUpstream)

	raw := []byte(`{"id": "sub_x", "customer": "cus_x", "status": "active"}`)
	_, err := svc.HandleEvent(context.Background(), Event{ID: "evt_4", Type: EventSubscriptionCreated, Raw: raw})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Empty(t, repo.subs)
}

func TestSubscriptionDeletedCancelsAndClearsMarker(t *testing.T) {
	svc, repo, _ := newTestService()
	marker := "sub_del"
	repo.addUser(&models.User{ID: 5, Email: "bye@example.com", SubscriptionID: &marker})
	repo.subs["sub_del"] = &models.Subscription{
		ID:                     1,
		UserID:                 5,
		Provider:               models.BillingProviderStripe,
		ProviderSubscriptionID: "sub_del",
		Status:                 models.SubscriptionStatusActive,
	}

	raw := []byte(`{"id": "sub_del", "customer": "cus_5", "status": "canceled"}`)
	out, err := svc.HandleEvent(context.Background(), Event{ID: "evt_5", Type: EventSubscriptionDeleted, Raw: raw})
	require.NoError(t, err)
	assert.True(t, out.Handled)

	assert.Equal(t, models.SubscriptionStatusCancelled, repo.subs["sub_del"].Status)
	assert.Nil(t, repo.users[5].SubscriptionID)
}

func TestSubscriptionDeletedUnknownRowErrors(t *testing.T) {
	svc, _, _ := newTestService()
	raw := []byte(`{"id": "sub_missing", "customer": "cus_1", "status": "canceled"}`)
	_, err := svc.HandleEvent(context.Background(), Event{ID: "evt_6", Type: EventSubscriptionDeleted, Raw: raw})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestInvoiceSucceededStoresMajorUnits(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.subs["sub_inv"] = &models.Subscription{
		UserID:                 8,
		Provider:               models.BillingProviderStripe,
		ProviderSubscriptionID: "sub_inv",
	}

	raw := []byte(`{"id": "in_1", "customer": "cus_8", "subscription": "sub_inv", "amount_paid": 1050, "amount_due": 0, "currency": "eur"}`)
	out, err := svc.HandleEvent(context.Background(), Event{ID: "evt_7", Type: EventInvoiceSucceeded, Raw: raw})
	require.NoError(t, err)
	assert.True(t, out.Handled)

	require.Len(t, repo.invoices, 1)
	inv := repo.invoices[0]
	assert.Equal(t, 10.50, inv.Amount)
	assert.Equal(t, "eur", inv.Currency)
	assert.Equal(t, models.InvoiceStatusSucceeded, inv.Status)
	assert.Equal(t, uint(8), inv.UserID)
}

func TestInvoiceFailedUsesAmountDue(t *testing.T) {
	svc, repo, _ := newTestService()

	raw := []byte(`{"id": "in_2", "customer": "cus_8", "subscription": "", "amount_paid": 0, "amount_due": 2999, "currency": "usd"}`)
	out, err := svc.HandleEvent(context.Background(), Event{ID: "evt_8", Type: EventInvoiceFailed, Raw: raw})
	require.NoError(t, err)
	assert.True(t, out.Handled)

	require.Len(t, repo.invoices, 1)
	inv := repo.invoices[0]
	assert.Equal(t, 29.99, inv.Amount)
	assert.Equal(t, models.InvoiceStatusFailed, inv.Status)
}

func TestCheckoutOneTimeGrantsCredits(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.addUser(&models.User{ID: 11, Email: "buyer@example.com", Credits: 5})

	raw := []byte(`{
		"id": "cs_1",
		"customer": "cus_11",
		"amount_total": 2000,
		"currency": "usd",
		"metadata": {"purchase_type": "one_time", "user_id": "11"}
	}`)
	out, err := svc.HandleEvent(context.Background(), Event{ID: "evt_9", Type: EventCheckoutCompleted, Raw: raw})
	require.NoError(t, err)
	assert.True(t, out.Handled)
	assert.Equal(t, "credits_granted", out.Action)

	assert.Equal(t, 25.0, repo.users[11].Credits)
	require.Len(t, repo.payments, 1)
	assert.Equal(t, 20.0, repo.payments[0].Amount)
	assert.Equal(t, 20.0, repo.payments[0].CreditsGranted)
	assert.Equal(t, "cs_1", repo.payments[0].ProviderSessionID)
}

func TestCheckoutOneTimeUnknownUserErrors(t *testing.T) {
	svc, repo, _ := newTestService()

	raw := []byte(`{
		"id": "cs_2",
		"amount_total": 500,
		"currency": "usd",
		"metadata": {"purchase_type": "one_time"}
	}`)
	_, err := svc.HandleEvent(context.Background(), Event{ID: "evt_10", Type: EventCheckoutCompleted, Raw: raw})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.Empty(t, repo.payments)
}

func TestCheckoutOneTimeUnknownMetadataUserErrors(t *testing.T) {
	svc, repo, _ := newTestService()

	raw := []byte(`{
		"id": "cs_5",
		"amount_total": 500,
		"currency": "usd",
		"metadata": {"purchase_type": "one_time", "user_id": "99"}
	}`)
	_, err := svc.HandleEvent(context.Background(), Event{ID: "evt_14", Type: EventCheckoutCompleted, Raw: raw})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.Empty(t, repo.payments)
}

func TestCheckoutSubscriptionLinksPendingInvoices(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.addUser(&models.User{ID: 2, Email: "team@example.com"})
	repo.subs["sub_cs"] = &models.Subscription{
		Provider:               models.BillingProviderStripe,
		ProviderSubscriptionID: "sub_cs",
		CustomerEmail:          "team@example.com",
	}
	repo.invoices = append(repo.invoices, &models.Invoice{
		Provider:               models.BillingProviderStripe,
		ProviderInvoiceID:      "in_pending",
		ProviderSubscriptionID: "sub_cs",
		Amount:                 10.50,
		Status:                 models.InvoiceStatusSucceeded,
	})

	raw := []byte(`{
		"id": "cs_4",
		"subscription": "sub_cs",
		"customer_details": {"email": "team@example.com"},
		"metadata": {"purchase_type": "subscription", "user_id": "2"}
	}`)
	_, err := svc.HandleEvent(context.Background(), Event{ID: "evt_13", Type: EventCheckoutCompleted, Raw: raw})
	require.NoError(t, err)

	assert.Equal(t, uint(2), repo.invoices[0].UserID)
}

func TestFailedWebhookDeliveryIsReprocessedOnRetry(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	// Checkout for a user that does not exist yet; the handler fails and
	// the provider will redeliver the same event id.
	raw := `{
		"id": "cs_retry",
		"amount_total": 1000,
		"currency": "usd",
		"metadata": {"purchase_type": "one_time", "user_id": "21"}
	}`
	in := WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_retry",
		EventType:       EventCheckoutCompleted,
		PayloadJSON:     raw,
		SignatureValid:  true,
	}

	created, stored, err := svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	require.True(t, created)

	_, handleErr := svc.HandleEvent(ctx, Event{ID: "evt_retry", Type: EventCheckoutCompleted, Raw: []byte(raw)})
	require.Error(t, handleErr)
	require.NoError(t, svc.MarkWebhookProcessed(ctx, stored.ID, handleErr))

	// Redelivery: the row already exists, but a failed delivery must not
	// count as a duplicate.
	created, stored, err = svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, stored.NeedsProcessing())

	// The user appears and the retried delivery succeeds.
	repo.addUser(&models.User{ID: 21, Email: "late@example.com", Credits: 0})
	out, err := svc.HandleEvent(ctx, Event{ID: "evt_retry", Type: EventCheckoutCompleted, Raw: []byte(raw)})
	require.NoError(t, err)
	assert.True(t, out.Handled)
	require.NoError(t, svc.MarkWebhookProcessed(ctx, stored.ID, nil))
	assert.Equal(t, 10.0, repo.users[21].Credits)

	// Only now is a further redelivery a true duplicate.
	created, stored, err = svc.RecordWebhookEvent(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.False(t, stored.NeedsProcessing())
}

func TestCheckoutSubscriptionTagsAndLinks(t *testing.T) {
	svc, repo, provider := newTestService()
	repo.addUser(&models.User{ID: 2, Email: "team@example.com"})
	repo.subs["sub_cs"] = &models.Subscription{
		Provider:               models.BillingProviderStripe,
		ProviderSubscriptionID: "sub_cs",
		CustomerEmail:          "team@example.com",
	}

	raw := []byte(`{
		"id": "cs_3",
		"subscription": "sub_cs",
		"customer_details": {"email": "team@example.com"},
		"metadata": {"purchase_type": "subscription", "user_id": "2", "organization_id": "4"}
	}`)
	out, err := svc.HandleEvent(context.Background(), Event{ID: "evt_11", Type: EventCheckoutCompleted, Raw: raw})
	require.NoError(t, err)
	assert.True(t, out.Handled)

	tags := provider.tagged["sub_cs"]
	require.NotNil(t, tags)
	assert.Equal(t, "2", tags["user_id"])
	assert.Equal(t, "4", tags["organization_id"])
	assert.NotContains(t, tags, MetadataPurchaseType)

	assert.Equal(t, uint(2), repo.subs["sub_cs"].UserID)
	require.NotNil(t, repo.users[2].SubscriptionID)
	assert.Equal(t, "sub_cs", *repo.users[2].SubscriptionID)
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	svc, _, _ := newTestService()
	in := WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_dup",
		EventType:       EventInvoiceSucceeded,
		PayloadJSON:     `{}`,
		SignatureValid:  true,
	}

	created, stored, err := svc.RecordWebhookEvent(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)

	created, _, err = svc.RecordWebhookEvent(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRecordWebhookEventHashesMissingID(t *testing.T) {
	svc, repo, _ := newTestService()
	created, stored, err := svc.RecordWebhookEvent(context.Background(), WebhookEventInput{
		Provider:    models.BillingProviderStripe,
		PayloadJSON: `{"a":1}`,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, stored.ProviderEventID, "hash:")
	assert.Len(t, repo.events, 1)
}
