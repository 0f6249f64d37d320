package repository

import (
	"github.com/nimbusdeck/nimbusdeck/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// OrganizationRepository defines the interface for organization-related database operations
type OrganizationRepository interface {
	Create(org *models.Organization) error
	GetByID(id uint) (*models.Organization, error)
	ListByUser(userID uint) ([]models.Organization, error)
	Update(org *models.Organization) error
	Delete(id uint) error
	AddMember(member *models.OrganizationMember) error
	GetMember(orgID, userID uint) (*models.OrganizationMember, error)
	CountMembers(orgID uint) (int64, error)
	ListMembers(orgID uint) ([]models.OrganizationMember, error)
}

// ErrorReportRepository defines the interface for error-report persistence
type ErrorReportRepository interface {
	Create(report *models.ErrorReport) error
	GetByPublicID(publicID string) (*models.ErrorReport, error)
	ListRecent(limit int) ([]models.ErrorReport, error)
}

// Repositories holds all repository instances
type Repositories struct {
	User         UserRepository
	Organization OrganizationRepository
	ErrorReport  ErrorReportRepository
}
