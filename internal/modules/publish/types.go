package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/publora/core/internal/models"
)

// Scheduling and lookup failures the HTTP layer maps onto status codes.
var (
	ErrBrandNotFound        = errors.New("brand not found in workspace")
	ErrAccountNotFound      = errors.New("social account not found in workspace")
	ErrAccountBrandMismatch = errors.New("social account belongs to a different brand")
	ErrPlatformMismatch     = errors.New("payload does not match the account platform")
	ErrAccountNotActive     = errors.New("social account is not active")
	ErrPublicationNotFound  = errors.New("publication not found")
	ErrNotCancellable       = errors.New("only scheduled publications can be cancelled")
)

// ValidationError is a payload-shape failure, reported as 422.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ScheduleInput is the platform-independent part of a schedule request.
type ScheduleInput struct {
	WorkspaceID     string
	BrandID         string
	ActorUserID     string
	SocialAccountID string
	ContentID       *string
	ScheduledAt     *time.Time
	ClientRequestID *string
}

// CarouselItemPayload is one child of an Instagram carousel.
type CarouselItemPayload struct {
	Media   string `json:"media"`
	AltText string `json:"alt_text,omitempty"`
}

// InstagramPayload is the typed publish payload for Instagram posts.
// Media fields hold either object-storage keys or absolute URLs.
type InstagramPayload struct {
	ContentType models.ContentType    `json:"content_type"`
	Caption     string                `json:"caption,omitempty"`
	Media       string                `json:"media,omitempty"` // IMAGE image, REEL video
	Cover       string                `json:"cover,omitempty"` // REEL cover frame
	AltText     string                `json:"alt_text,omitempty"`
	Items       []CarouselItemPayload `json:"items,omitempty"`
}

func (p InstagramPayload) Validate() error {
	switch p.ContentType {
	case models.TypeImage:
		if p.Media == "" {
			return invalid("image post requires media")
		}
	case models.TypeCarousel:
		if n := len(p.Items); n < 2 || n > 10 {
			return invalid("carousel requires 2-10 items, got %d", n)
		}
		for i, item := range p.Items {
			if item.Media == "" {
				return invalid("carousel item %d requires media", i)
			}
		}
	case models.TypeReel:
		if p.Media == "" {
			return invalid("reel requires media")
		}
	default:
		return invalid("unsupported instagram content type %q", p.ContentType)
	}
	return nil
}

// FacebookPayload is the typed publish payload for Facebook page posts.
type FacebookPayload struct {
	ContentType models.ContentType `json:"content_type"`
	Caption     string             `json:"caption,omitempty"`     // PHOTO
	Title       string             `json:"title,omitempty"`       // VIDEO
	Description string             `json:"description,omitempty"` // VIDEO
	Message     string             `json:"message,omitempty"`     // LINK
	Link        string             `json:"link,omitempty"`        // LINK
	Media       string             `json:"media,omitempty"`       // PHOTO image, VIDEO video
}

func (p FacebookPayload) Validate() error {
	switch p.ContentType {
	case models.TypePhoto:
		if p.Media == "" {
			return invalid("photo post requires media")
		}
	case models.TypeVideo:
		if p.Media == "" {
			return invalid("video post requires media")
		}
	case models.TypeLink:
		if p.Link == "" {
			return invalid("link post requires link")
		}
	default:
		return invalid("unsupported facebook content type %q", p.ContentType)
	}
	return nil
}

// Caption returns the human caption stored on the publication row,
// taken from the platform-appropriate field.
func (p InstagramPayload) CaptionText() string { return p.Caption }

func (p FacebookPayload) CaptionText() string {
	switch p.ContentType {
	case models.TypePhoto:
		return p.Caption
	case models.TypeVideo:
		return p.Description
	case models.TypeLink:
		return p.Message
	}
	return ""
}

// payloadToMap converts a typed payload into the JSON column shape.
func payloadToMap(p interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// payloadFromMap decodes the JSON column back into a typed payload.
func payloadFromMap(m map[string]interface{}, out interface{}) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// jobPayload is what the publish queues carry. Everything else is
// re-read from the database at processing time.
type jobPayload struct {
	PublicationID string `json:"publication_id"`
	WorkspaceID   string `json:"workspace_id"`
	BrandID       string `json:"brand_id"`
}
