package models

import "time"

// Platform is the social network family a connected account belongs to.
type Platform string

const (
	PlatformInstagram Platform = "INSTAGRAM"
	PlatformFacebook  Platform = "FACEBOOK"
)

// AccountStatus is the connection health of a social account.
type AccountStatus string

const (
	AccountActive       AccountStatus = "ACTIVE"
	AccountError        AccountStatus = "ERROR"
	AccountDisconnected AccountStatus = "DISCONNECTED"
)

// SocialAccountModel is a connected Instagram or Facebook account.
// ExternalID is the provider-side identifier publishing calls are made
// against: the IG user id for Instagram, the page id for Facebook.
type SocialAccountModel struct {
	Base
	WorkspaceID string        `json:"workspace_id" gorm:"type:char(36);index;not null"`
	BrandID     string        `json:"brand_id"     gorm:"type:char(36);index;not null"`
	Platform    Platform      `json:"platform"     gorm:"type:varchar(16);index;not null"`
	ExternalID  string        `json:"external_id"  gorm:"index;not null"`
	Username    string        `json:"username"`
	Status      AccountStatus `json:"status"       gorm:"type:varchar(16);default:'ACTIVE'"`
	StatusNote  string        `json:"status_note"`

	// OAuth credential, mutated in place on every refresh. Tokens are
	// overwritten, never versioned.
	AccessToken  string     `json:"-"          gorm:"type:text"`
	RefreshToken string     `json:"-"          gorm:"type:text"`
	TokenExpiry  *time.Time `json:"token_expiry"`
	Scope        string     `json:"scope"`
	TokenType    string     `json:"token_type"`
}

func (SocialAccountModel) TableName() string { return "social_accounts" }
