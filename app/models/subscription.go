package models

import "time"

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCancelled  = "cancelled"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusPaused     = "paused"
)

// Subscription mirrors a provider subscription. One row per external
// subscription id; uniqueness is enforced by that id so webhook
// redelivery stays idempotent.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	OrganizationID         *uint      `gorm:"default:null;index" json:"organization_id,omitempty"`
	Provider               string     `gorm:"type:varchar(20);not null;default:'stripe';index:ux_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	PriceID                string     `gorm:"type:varchar(191);not null;index" json:"price_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	Quantity               int64      `gorm:"not null;default:1" json:"quantity"`
	CustomerEmail          string     `gorm:"type:varchar(200);default:'';index" json:"customer_email"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	RawPayloadJSON         string     `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsEntitling reports whether the subscription status grants access.
func (s *Subscription) IsEntitling() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
