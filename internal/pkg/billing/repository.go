package billing

import (
	"time"

	"github.com/nimbusdeck/nimbusdeck/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	UpsertSubscription(sub *models.Subscription) error
	GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error
	AttachSubscriptionsToUser(provider, customerEmail string, userID uint) error
	AttachInvoicesToUser(provider, customerEmail string, userID uint) error
	CreateInvoice(inv *models.Invoice) error
	CreatePayment(p *models.Payment) error
	GetUserByID(id uint) (*models.User, error)
	GetUserByEmail(email string) (*models.User, error)
	SetUserSubscriptionMarker(userID uint, subscriptionID *string) error
	AddUserCredits(userID uint, amount float64) error
	SetOrganizationSeats(orgID uint, seats int64) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"organization_id",
			"price_id",
			"status",
			"quantity",
			"customer_email",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"raw_payload_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) GetSubscriptionByProviderID(provider, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) AttachSubscriptionsToUser(provider, customerEmail string, userID uint) error {
	return r.db.Model(&models.Subscription{}).
		Where("provider = ? AND customer_email = ? AND user_id = 0", provider, customerEmail).
		Update("user_id", userID).Error
}

// AttachInvoicesToUser links unowned invoice rows whose subscription
// belongs to the given customer email. Invoices carry no email of their
// own, so the match goes through the subscriptions table.
func (r *gormRepository) AttachInvoicesToUser(provider, customerEmail string, userID uint) error {
	subIDs := r.db.Model(&models.Subscription{}).
		Select("provider_subscription_id").
		Where("provider = ? AND customer_email = ?", provider, customerEmail)
	return r.db.Model(&models.Invoice{}).
		Where("provider = ? AND user_id = 0 AND provider_subscription_id IN (?)", provider, subIDs).
		Update("user_id", userID).Error
}

func (r *gormRepository) CreateInvoice(inv *models.Invoice) error {
	return r.db.Create(inv).Error
}

func (r *gormRepository) CreatePayment(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByEmail(email string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SetUserSubscriptionMarker(userID uint, subscriptionID *string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("subscription_id", subscriptionID).Error
}

func (r *gormRepository) AddUserCredits(userID uint, amount float64) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).
		Update("credits", gorm.Expr("credits + ?", amount)).Error
}

func (r *gormRepository) SetOrganizationSeats(orgID uint, seats int64) error {
	return r.db.Model(&models.Organization{}).Where("id = ?", orgID).
		Update("seats", seats).Error
}
