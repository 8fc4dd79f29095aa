package credential

import (
	"context"

	"github.com/publora/core/internal/models"
	"gorm.io/gorm"
)

type gormStore struct {
	db *gorm.DB
}

// NewStore returns the database-backed credential store.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Get(ctx context.Context, accountID string) (*models.SocialAccountModel, error) {
	var account models.SocialAccountModel
	if err := s.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *gormStore) SaveTokens(ctx context.Context, accountID string, ts TokenSet) error {
	updates := map[string]interface{}{
		"access_token": ts.AccessToken,
		"token_expiry": ts.Expiry,
		"status":       models.AccountActive,
		"status_note":  "",
	}
	if ts.RefreshToken != "" {
		updates["refresh_token"] = ts.RefreshToken
	}
	if ts.TokenType != "" {
		updates["token_type"] = ts.TokenType
	}
	if ts.Scope != "" {
		updates["scope"] = ts.Scope
	}
	return s.db.WithContext(ctx).
		Model(&models.SocialAccountModel{}).
		Where("id = ?", accountID).
		Updates(updates).Error
}

func (s *gormStore) MarkError(ctx context.Context, accountID, note string) error {
	return s.db.WithContext(ctx).
		Model(&models.SocialAccountModel{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"status":      models.AccountError,
			"status_note": note,
		}).Error
}
