package models

// ActivityModel is the append-only audit trail of workspace events.
type ActivityModel struct {
	Base
	WorkspaceID string                 `json:"workspace_id" gorm:"type:char(36);index;not null"`
	Type        string                 `json:"type"         gorm:"index;not null"`
	ActorUserID string                 `json:"actor_user_id" gorm:"type:char(36);index"`
	ScopeType   string                 `json:"scope_type"   gorm:"index"` // publication | content | account
	ScopeID     string                 `json:"scope_id"     gorm:"index"`
	Metadata    map[string]interface{} `json:"metadata"     gorm:"type:longtext;serializer:json"`
}

func (ActivityModel) TableName() string { return "activities" }

// APIToken is a long-lived machine token for server-to-server access.
// Interactive user authentication (magic link, OAuth login) is handled
// by a separate service; this core only verifies tokens.
type APIToken struct {
	Base
	UserID    string  `json:"user_id"    gorm:"type:char(36);index;not null"`
	Name      string  `json:"name"`
	Token     string  `json:"-"          gorm:"uniqueIndex;not null"`
	ExpiredAt *string `json:"expired_at"`
}

func (APIToken) TableName() string { return "api_tokens" }
