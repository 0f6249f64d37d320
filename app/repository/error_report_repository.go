package repository

import (
	"github.com/nimbusdeck/nimbusdeck/app/models"
	"gorm.io/gorm"
)

// errorReportRepository implements the ErrorReportRepository interface
type errorReportRepository struct {
	db *gorm.DB
}

// NewErrorReportRepository creates a new error report repository instance
func NewErrorReportRepository(db *gorm.DB) ErrorReportRepository {
	return &errorReportRepository{db: db}
}

func (r *errorReportRepository) Create(report *models.ErrorReport) error {
	return r.db.Create(report).Error
}

func (r *errorReportRepository) GetByPublicID(publicID string) (*models.ErrorReport, error) {
	var report models.ErrorReport
	if err := r.db.Where("public_id = ?", publicID).First(&report).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

func (r *errorReportRepository) ListRecent(limit int) ([]models.ErrorReport, error) {
	var reports []models.ErrorReport
	err := r.db.Order("created_at DESC").Limit(limit).Find(&reports).Error
	return reports, err
}
