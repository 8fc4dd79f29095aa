package models

// WorkspaceModel is the top-level tenancy unit. Billing, membership and
// permission checks live outside this service; the publishing core only
// needs the row to scope queries.
type WorkspaceModel struct {
	Base
	Name string `json:"name" gorm:"not null"`
	Slug string `json:"slug" gorm:"uniqueIndex;not null"`
}

func (WorkspaceModel) TableName() string { return "workspaces" }

// BrandModel groups social accounts and content under a workspace.
type BrandModel struct {
	Base
	WorkspaceID string `json:"workspace_id" gorm:"type:char(36);index;not null"`
	Name        string `json:"name"         gorm:"not null"`
	TimeZone    string `json:"timezone"`
}

func (BrandModel) TableName() string { return "brands" }
