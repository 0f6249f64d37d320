package models

import "time"

const (
	ErrorSeverityLow      = "low"
	ErrorSeverityMedium   = "medium"
	ErrorSeverityHigh     = "high"
	ErrorSeverityCritical = "critical"
)

// ErrorReport stores client-side error reports submitted by the dashboard.
type ErrorReport struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PublicID    string    `gorm:"type:char(36);not null;uniqueIndex" json:"public_id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	Name        string    `gorm:"type:varchar(200);not null" json:"name"`
	Message     string    `gorm:"type:text;not null" json:"message"`
	Stack       string    `gorm:"type:longtext" json:"stack"`
	ContextJSON string    `gorm:"type:longtext" json:"context_json"`
	Severity    string    `gorm:"type:varchar(20);not null;default:'medium';index" json:"severity"`
	Category    string    `gorm:"type:varchar(50);not null;default:'unknown';index" json:"category"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
