package models

import "time"

// PublicationStatus is the lifecycle state of a publication.
//
// Transitions are monotonic: SCHEDULED → PUBLISHING → PUBLISHED|FAILED,
// or SCHEDULED → CANCELLED. Terminal states never change again.
type PublicationStatus string

const (
	PubScheduled  PublicationStatus = "SCHEDULED"
	PubPublishing PublicationStatus = "PUBLISHING"
	PubPublished  PublicationStatus = "PUBLISHED"
	PubFailed     PublicationStatus = "FAILED"
	PubCancelled  PublicationStatus = "CANCELLED"
	PubSkipped    PublicationStatus = "SKIPPED"
)

// Terminal reports whether no further status transition is allowed.
func (s PublicationStatus) Terminal() bool {
	switch s {
	case PubPublished, PubFailed, PubCancelled, PubSkipped:
		return true
	}
	return false
}

// CanTransitionTo reports whether the transition s → next is legal.
func (s PublicationStatus) CanTransitionTo(next PublicationStatus) bool {
	switch s {
	case PubScheduled:
		return next == PubPublishing || next == PubCancelled || next == PubSkipped
	case PubPublishing:
		return next == PubPublished || next == PubFailed
	}
	return false
}

// ContentType is the per-platform kind of post being published.
type ContentType string

const (
	// Instagram
	TypeImage    ContentType = "IMAGE"
	TypeCarousel ContentType = "CAROUSEL"
	TypeReel     ContentType = "REEL"
	// Facebook
	TypePhoto ContentType = "PHOTO"
	TypeVideo ContentType = "VIDEO"
	TypeLink  ContentType = "LINK"
)

// PublicationModel is one scheduled or completed act of posting one
// content unit to one social account.
type PublicationModel struct {
	Base
	WorkspaceID     string            `json:"workspace_id"  gorm:"type:char(36);index:idx_pub_tenant,composite:1;uniqueIndex:idx_pub_request,composite:1;not null"`
	BrandID         string            `json:"brand_id"      gorm:"type:char(36);index:idx_pub_tenant,composite:2;uniqueIndex:idx_pub_request,composite:2;not null"`
	SocialAccountID string            `json:"social_account_id" gorm:"type:char(36);index;not null"`
	ContentID       *string           `json:"content_id"    gorm:"type:char(36);index"`
	Platform        Platform          `json:"platform"      gorm:"type:varchar(16);index;not null"`
	ContentType     ContentType       `json:"content_type"  gorm:"type:varchar(16);not null"`
	Status          PublicationStatus `json:"status"        gorm:"type:varchar(16);index;default:'SCHEDULED'"`

	ScheduledAt *time.Time `json:"scheduled_at" gorm:"index"`
	PublishedAt *time.Time `json:"published_at"`
	FailedAt    *time.Time `json:"failed_at"`

	Caption          string                 `json:"caption"        gorm:"type:text"`
	Payload          map[string]interface{} `json:"payload"        gorm:"type:longtext;serializer:json"`
	ProviderResponse map[string]interface{} `json:"provider_response,omitempty" gorm:"type:longtext;serializer:json"`
	ExternalPostID   string                 `json:"external_post_id"`
	Permalink        string                 `json:"permalink"`
	ErrorMessage     string                 `json:"error_message,omitempty" gorm:"type:text"`

	// ClientRequestID is the caller-supplied idempotency key. Unique per
	// (workspace, brand) so network retries never double-post. NULL rows
	// are exempt from the unique constraint.
	ClientRequestID *string `json:"client_request_id" gorm:"uniqueIndex:idx_pub_request,composite:3"`

	JobID string `json:"job_id" gorm:"index"`
}

func (PublicationModel) TableName() string { return "publications" }
