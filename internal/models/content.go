package models

import "time"

// ContentStatus is the derived, content-level view over the statuses of
// all publications fanned out from one content item. It is computed on
// read, never stored as source of truth.
type ContentStatus string

const (
	ContentDraft              ContentStatus = "DRAFT"
	ContentScheduled          ContentStatus = "SCHEDULED"
	ContentPublishing         ContentStatus = "PUBLISHING"
	ContentPublished          ContentStatus = "PUBLISHED"
	ContentFailed             ContentStatus = "FAILED"
	ContentPartiallyPublished ContentStatus = "PARTIALLY_PUBLISHED"
)

// ContentModel is a parent creative unit that may fan out to multiple
// publications, one per target account. Publications may also exist
// without a parent ("direct" publishing).
type ContentModel struct {
	Base
	WorkspaceID string     `json:"workspace_id" gorm:"type:char(36);index;not null"`
	BrandID     string     `json:"brand_id"     gorm:"type:char(36);index;not null"`
	Title       string     `json:"title"`
	Body        string     `json:"body"         gorm:"type:longtext"`
	ScheduledAt *time.Time `json:"scheduled_at"`

	Publications []PublicationModel `json:"publications,omitempty" gorm:"foreignKey:ContentID"`
}

func (ContentModel) TableName() string { return "contents" }
