// Package platform defines the provider-neutral publish contract the
// worker drives. Each adapter owns one provider's publishing protocol.
package platform

import (
	"context"

	"github.com/publora/core/internal/models"
)

// Result is the provider-side outcome of a successful publish.
type Result struct {
	PostID    string
	Permalink string
	Raw       map[string]interface{}
}

// CarouselItem is one resolved child of a carousel post.
type CarouselItem struct {
	ImageURL string
	AltText  string
}

// Post is a fully resolved, ready-to-send publish input. Media
// references have already been turned into fetchable URLs. The fields
// relevant to ContentType are populated, the rest stay zero.
type Post struct {
	ContentType models.ContentType
	Caption     string

	// Instagram
	ImageURL string
	AltText  string
	Items    []CarouselItem
	VideoURL string
	CoverURL string

	// Facebook
	Title       string
	Description string
	Message     string
	Link        string
}

// Publisher publishes one post to one provider account. externalID is
// the provider-side account id (IG user id or page id).
type Publisher interface {
	Publish(ctx context.Context, token, externalID string, post Post) (*Result, error)
}
