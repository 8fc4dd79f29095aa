// Package content derives the content-level view over the publications
// fanned out from one creative unit.
package content

import (
	"context"
	"errors"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/pkg/pagination"
	"github.com/publora/core/internal/pkg/response"
	"gorm.io/gorm"
)

var ErrContentNotFound = errors.New("content not found")

// AggregateStatus folds publication statuses into one content status.
// SKIPPED publications never count; CANCELLED ones count as neither
// success nor failure.
func AggregateStatus(pubs []models.PublicationModel, scheduledAt bool) models.ContentStatus {
	var total, publishing, published, failed int
	for _, pub := range pubs {
		switch pub.Status {
		case models.PubSkipped:
			continue
		case models.PubPublishing:
			publishing++
		case models.PubPublished:
			published++
		case models.PubFailed:
			failed++
		}
		if pub.Status != models.PubCancelled {
			total++
		}
	}

	switch {
	case publishing > 0:
		return models.ContentPublishing
	case total > 0 && published == total:
		return models.ContentPublished
	case total > 0 && failed == total:
		return models.ContentFailed
	case published > 0 || failed > 0:
		// Mixed success/failure/pending.
		return models.ContentPartiallyPublished
	case scheduledAt || total > 0:
		return models.ContentScheduled
	default:
		return models.ContentDraft
	}
}

// StatusView is a content row with its derived status.
type StatusView struct {
	Content models.ContentModel  `json:"content"`
	Status  models.ContentStatus `json:"status"`
}

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Get loads a content item with its publications and derived status.
func (s *Service) Get(ctx context.Context, workspaceID, id string) (*StatusView, error) {
	var item models.ContentModel
	err := s.db.WithContext(ctx).
		Preload("Publications").
		First(&item, "id = ? AND workspace_id = ?", id, workspaceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}

	return &StatusView{
		Content: item,
		Status:  AggregateStatus(item.Publications, item.ScheduledAt != nil),
	}, nil
}

// ListByBrand returns brand content with derived statuses, newest first.
func (s *Service) ListByBrand(ctx context.Context, workspaceID, brandID string, q pagination.Query) ([]StatusView, response.Pagination, error) {
	query := s.db.WithContext(ctx).
		Model(&models.ContentModel{}).
		Where("workspace_id = ? AND brand_id = ?", workspaceID, brandID).
		Preload("Publications").
		Order("created_at DESC")

	var items []models.ContentModel
	meta, err := pagination.Paginate(query, q, &items)
	if err != nil {
		return nil, response.Pagination{}, err
	}

	views := make([]StatusView, 0, len(items))
	for _, item := range items {
		views = append(views, StatusView{
			Content: item,
			Status:  AggregateStatus(item.Publications, item.ScheduledAt != nil),
		})
	}
	return views, meta, nil
}
