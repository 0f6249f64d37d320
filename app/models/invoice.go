package models

import "time"

const (
	InvoiceStatusSucceeded = "succeeded"
	InvoiceStatusFailed    = "failed"
)

// Invoice is an append-mostly record of provider invoice events. Amount
// is stored in major currency units (provider minor units divided by 100).
type Invoice struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	UserID                 uint      `gorm:"not null;index" json:"user_id"`
	Provider               string    `gorm:"type:varchar(20);not null;default:'stripe';index:ux_invoices_provider_invid,unique,priority:1" json:"provider"`
	ProviderInvoiceID      string    `gorm:"type:varchar(191);not null;index:ux_invoices_provider_invid,unique,priority:2" json:"provider_invoice_id"`
	ProviderSubscriptionID string    `gorm:"type:varchar(191);not null;index" json:"provider_subscription_id"`
	Amount                 float64   `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency               string    `gorm:"type:varchar(10);not null" json:"currency"`
	Status                 string    `gorm:"type:varchar(20);not null;index" json:"status"`
	CreatedAt              time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
