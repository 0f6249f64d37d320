package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ORG_ROLE_OWNER  = "owner"
	ORG_ROLE_ADMIN  = "admin"
	ORG_ROLE_MEMBER = "member"
)

// Organization is a billable tenant. Seats are kept in sync with the
// quantity of the org's provider subscription by the webhook handlers.
type Organization struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Name             string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	OwnerID          uint           `gorm:"not null;index" json:"owner_id"`
	StripeCustomerID string         `gorm:"type:varchar(191);default:'';index" json:"-"`
	Plan             string         `gorm:"type:varchar(50);default:'free'" json:"plan"`
	Seats            int            `gorm:"not null;default:1" json:"seats"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// OrganizationMember links a user to an organization with a role.
type OrganizationMember struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	OrganizationID uint      `gorm:"not null;index:ux_org_members_org_user,unique,priority:1" json:"organization_id"`
	UserID         uint      `gorm:"not null;index:ux_org_members_org_user,unique,priority:2" json:"user_id"`
	Role           string    `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
