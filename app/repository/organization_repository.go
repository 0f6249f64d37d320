package repository

import (
	"github.com/nimbusdeck/nimbusdeck/app/models"
	"gorm.io/gorm"
)

// organizationRepository implements the OrganizationRepository interface
type organizationRepository struct {
	db *gorm.DB
}

// NewOrganizationRepository creates a new organization repository instance
func NewOrganizationRepository(db *gorm.DB) OrganizationRepository {
	return &organizationRepository{db: db}
}

func (r *organizationRepository) Create(org *models.Organization) error {
	return r.db.Create(org).Error
}

func (r *organizationRepository) GetByID(id uint) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.First(&org, id).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// ListByUser returns all organizations the user is a member of.
func (r *organizationRepository) ListByUser(userID uint) ([]models.Organization, error) {
	var orgs []models.Organization
	err := r.db.
		Joins("JOIN organization_members ON organization_members.organization_id = organizations.id").
		Where("organization_members.user_id = ?", userID).
		Find(&orgs).Error
	return orgs, err
}

func (r *organizationRepository) Update(org *models.Organization) error {
	return r.db.Save(org).Error
}

func (r *organizationRepository) Delete(id uint) error {
	return r.db.Delete(&models.Organization{}, id).Error
}

func (r *organizationRepository) AddMember(member *models.OrganizationMember) error {
	return r.db.Create(member).Error
}

func (r *organizationRepository) GetMember(orgID, userID uint) (*models.OrganizationMember, error) {
	var member models.OrganizationMember
	err := r.db.Where("organization_id = ? AND user_id = ?", orgID, userID).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *organizationRepository) CountMembers(orgID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.OrganizationMember{}).
		Where("organization_id = ?", orgID).Count(&count).Error
	return count, err
}

func (r *organizationRepository) ListMembers(orgID uint) ([]models.OrganizationMember, error) {
	var members []models.OrganizationMember
	err := r.db.Where("organization_id = ?", orgID).Order("id").Find(&members).Error
	return members, err
}
