package publish

import (
	"context"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/pkg/pagination"
	"gorm.io/gorm"
)

type gormPublications struct {
	db *gorm.DB
}

// NewPublicationStore returns the database-backed Publications port.
func NewPublicationStore(db *gorm.DB) Publications {
	return &gormPublications{db: db}
}

func (s *gormPublications) Create(ctx context.Context, pub *models.PublicationModel) error {
	return s.db.WithContext(ctx).Create(pub).Error
}

func (s *gormPublications) ByID(ctx context.Context, workspaceID, id string) (*models.PublicationModel, error) {
	var pub models.PublicationModel
	err := s.db.WithContext(ctx).
		First(&pub, "id = ? AND workspace_id = ?", id, workspaceID).Error
	if err != nil {
		return nil, err
	}
	return &pub, nil
}

func (s *gormPublications) ByIDAny(ctx context.Context, id string) (*models.PublicationModel, error) {
	var pub models.PublicationModel
	if err := s.db.WithContext(ctx).First(&pub, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &pub, nil
}

func (s *gormPublications) ByClientRequestID(ctx context.Context, workspaceID, brandID, requestID string) (*models.PublicationModel, error) {
	var pub models.PublicationModel
	err := s.db.WithContext(ctx).
		First(&pub, "workspace_id = ? AND brand_id = ? AND client_request_id = ?", workspaceID, brandID, requestID).Error
	if err != nil {
		return nil, err
	}
	return &pub, nil
}

func (s *gormPublications) Save(ctx context.Context, pub *models.PublicationModel) error {
	return s.db.WithContext(ctx).Save(pub).Error
}

func (s *gormPublications) SetJobID(ctx context.Context, id, jobID string) error {
	return s.db.WithContext(ctx).
		Model(&models.PublicationModel{}).
		Where("id = ?", id).
		Update("job_id", jobID).Error
}

func (s *gormPublications) CASStatus(ctx context.Context, id string, from, to models.PublicationStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, nil
	}
	result := s.db.WithContext(ctx).
		Model(&models.PublicationModel{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *gormPublications) ListByBrand(ctx context.Context, workspaceID, brandID string, after pagination.CursorToken, limit int) ([]models.PublicationModel, error) {
	query := s.db.WithContext(ctx).
		Where("workspace_id = ? AND brand_id = ?", workspaceID, brandID)

	if !after.CreatedAt.IsZero() {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			after.CreatedAt, after.CreatedAt, after.ID,
		)
	}

	var items []models.PublicationModel
	err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&items).Error
	return items, err
}

func (s *gormPublications) StaleScheduled(ctx context.Context, olderThan time.Time, limit int) ([]models.PublicationModel, error) {
	var items []models.PublicationModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND COALESCE(scheduled_at, created_at) < ?", models.PubScheduled, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

type gormDirectory struct {
	db *gorm.DB
}

// NewDirectory returns the database-backed Directory port.
func NewDirectory(db *gorm.DB) Directory {
	return &gormDirectory{db: db}
}

func (d *gormDirectory) BrandInWorkspace(ctx context.Context, workspaceID, brandID string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).
		Model(&models.BrandModel{}).
		Where("id = ? AND workspace_id = ?", brandID, workspaceID).
		Count(&count).Error
	return count > 0, err
}

func (d *gormDirectory) Account(ctx context.Context, workspaceID, accountID string) (*models.SocialAccountModel, error) {
	var account models.SocialAccountModel
	err := d.db.WithContext(ctx).
		First(&account, "id = ? AND workspace_id = ?", accountID, workspaceID).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}
