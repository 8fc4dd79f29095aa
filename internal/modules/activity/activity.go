// Package activity records the workspace audit trail. Writes are
// fire-and-forget: a failed audit insert never fails the operation
// that produced it.
package activity

import (
	"context"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/pkg/pagination"
	"github.com/publora/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const writeTimeout = 5 * time.Second

// Activity types emitted by the publishing pipeline.
const (
	TypePublicationScheduled = "publication.scheduled"
	TypePublicationCancelled = "publication.cancelled"
	TypePublicationPublished = "publication.published"
	TypePublicationFailed    = "publication.failed"
	TypePublicationSkipped   = "publication.skipped"
	TypeAccountError         = "account.error"
)

// Entry is one audit event to record.
type Entry struct {
	WorkspaceID string
	Type        string
	ActorUserID string
	ScopeType   string // publication | content | account
	ScopeID     string
	Metadata    map[string]interface{}
}

type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, logger: logger}
}

// Log records an entry asynchronously.
func (s *Service) Log(entry Entry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		record := models.ActivityModel{
			WorkspaceID: entry.WorkspaceID,
			Type:        entry.Type,
			ActorUserID: entry.ActorUserID,
			ScopeType:   entry.ScopeType,
			ScopeID:     entry.ScopeID,
			Metadata:    entry.Metadata,
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			s.logger.Warn("activity write failed",
				zap.String("type", entry.Type),
				zap.String("workspace_id", entry.WorkspaceID),
				zap.Error(err))
		}
	}()
}

// Filter narrows a listing to one audit scope.
type Filter struct {
	ScopeType string
	ScopeID   string
}

// List returns workspace activities, newest first.
func (s *Service) List(ctx context.Context, workspaceID string, f Filter, q pagination.Query) ([]models.ActivityModel, response.Pagination, error) {
	query := s.db.WithContext(ctx).
		Model(&models.ActivityModel{}).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC")

	if f.ScopeType != "" {
		query = query.Where("scope_type = ?", f.ScopeType)
	}
	if f.ScopeID != "" {
		query = query.Where("scope_id = ?", f.ScopeID)
	}

	var items []models.ActivityModel
	meta, err := pagination.Paginate(query, q, &items)
	if err != nil {
		return nil, response.Pagination{}, err
	}
	return items, meta, nil
}
