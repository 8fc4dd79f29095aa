// Package account manages connected social accounts. The OAuth dance
// itself happens in the external auth service; this core receives the
// resulting tokens and owns the account rows from there.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/publora/core/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrAccountNotFound = errors.New("social account not found")

// ConnectInput carries the outcome of a completed OAuth connect.
type ConnectInput struct {
	WorkspaceID  string
	BrandID      string
	Platform     models.Platform
	ExternalID   string
	Username     string
	AccessToken  string
	RefreshToken string
	TokenExpiry  *time.Time
	Scope        string
	TokenType    string
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

// Connect creates the account or, when the same provider identity is
// reconnected, overwrites its credential in place and reactivates it.
func (s *Service) Connect(ctx context.Context, in ConnectInput) (*models.SocialAccountModel, error) {
	var existing models.SocialAccountModel
	err := s.db.WithContext(ctx).
		First(&existing, "workspace_id = ? AND platform = ? AND external_id = ?",
			in.WorkspaceID, in.Platform, in.ExternalID).Error

	switch {
	case err == nil:
		existing.BrandID = in.BrandID
		existing.Username = in.Username
		existing.AccessToken = in.AccessToken
		existing.RefreshToken = in.RefreshToken
		existing.TokenExpiry = in.TokenExpiry
		existing.Scope = in.Scope
		existing.TokenType = in.TokenType
		existing.Status = models.AccountActive
		existing.StatusNote = ""
		if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
			return nil, err
		}
		s.logger.Info("social account reconnected",
			zap.String("account_id", existing.ID),
			zap.String("platform", string(in.Platform)))
		return &existing, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		account := models.SocialAccountModel{
			WorkspaceID:  in.WorkspaceID,
			BrandID:      in.BrandID,
			Platform:     in.Platform,
			ExternalID:   in.ExternalID,
			Username:     in.Username,
			Status:       models.AccountActive,
			AccessToken:  in.AccessToken,
			RefreshToken: in.RefreshToken,
			TokenExpiry:  in.TokenExpiry,
			Scope:        in.Scope,
			TokenType:    in.TokenType,
		}
		if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
			return nil, err
		}
		s.logger.Info("social account connected",
			zap.String("account_id", account.ID),
			zap.String("platform", string(in.Platform)))
		return &account, nil

	default:
		return nil, err
	}
}

// List returns all workspace accounts, optionally filtered by brand.
func (s *Service) List(ctx context.Context, workspaceID, brandID string) ([]models.SocialAccountModel, error) {
	query := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID)
	if brandID != "" {
		query = query.Where("brand_id = ?", brandID)
	}

	var accounts []models.SocialAccountModel
	err := query.Order("created_at ASC").Find(&accounts).Error
	return accounts, err
}

// Get returns one workspace-scoped account.
func (s *Service) Get(ctx context.Context, workspaceID, id string) (*models.SocialAccountModel, error) {
	var account models.SocialAccountModel
	err := s.db.WithContext(ctx).
		First(&account, "id = ? AND workspace_id = ?", id, workspaceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Disconnect wipes the credential and marks the account DISCONNECTED.
// Pending publications against it will fail permanently at publish time.
func (s *Service) Disconnect(ctx context.Context, workspaceID, id string) error {
	result := s.db.WithContext(ctx).
		Model(&models.SocialAccountModel{}).
		Where("id = ? AND workspace_id = ?", id, workspaceID).
		Updates(map[string]interface{}{
			"status":        models.AccountDisconnected,
			"status_note":   "disconnected by user",
			"access_token":  "",
			"refresh_token": "",
			"token_expiry":  nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
