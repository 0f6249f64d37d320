package models

import "time"

// Payment records a completed one-time checkout. CreditsGranted equals
// the paid amount in major units and is added to the user's balance.
type Payment struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;index" json:"user_id"`
	Provider          string    `gorm:"type:varchar(20);not null;default:'stripe'" json:"provider"`
	ProviderSessionID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_session_id"`
	Amount            float64   `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency          string    `gorm:"type:varchar(10);not null" json:"currency"`
	CreditsGranted    float64   `gorm:"type:decimal(12,2);not null" json:"credits_granted"`
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
