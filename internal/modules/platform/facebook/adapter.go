// Package facebook publishes photos, videos and link posts to a
// Facebook page through the Graph API.
package facebook

import (
	"context"
	"fmt"
	"net/url"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/modules/platform"
	"github.com/publora/core/internal/pkg/graph"
	"go.uber.org/zap"
)

// Adapter publishes to a Facebook page.
type Adapter struct {
	client *graph.Client
	logger *zap.Logger
}

func New(client *graph.Client, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, logger: logger}
}

// Publish dispatches on content type. pageID is the Facebook page id
// the account is connected as; token must be a page access token.
func (a *Adapter) Publish(ctx context.Context, token, pageID string, post platform.Post) (*platform.Result, error) {
	switch post.ContentType {
	case models.TypePhoto:
		return a.publishPhoto(ctx, token, pageID, post)
	case models.TypeVideo:
		return a.publishVideo(ctx, token, pageID, post)
	case models.TypeLink:
		return a.publishLink(ctx, token, pageID, post)
	default:
		return nil, fmt.Errorf("facebook: unsupported content type %s", post.ContentType)
	}
}

func (a *Adapter) publishPhoto(ctx context.Context, token, pageID string, post platform.Post) (*platform.Result, error) {
	params := url.Values{"url": {post.ImageURL}}
	if post.Caption != "" {
		params.Set("caption", post.Caption)
	}

	var out struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	if err := a.client.Post(ctx, pageID+"/photos", token, params, &out); err != nil {
		return nil, fmt.Errorf("publish photo: %w", err)
	}

	postID := out.PostID
	if postID == "" {
		postID = out.ID
	}
	result := &platform.Result{
		PostID: postID,
		Raw:    map[string]interface{}{"photo_id": out.ID, "post_id": out.PostID},
	}
	result.Permalink = a.fetchPermalink(ctx, token, postID)
	return result, nil
}

func (a *Adapter) publishVideo(ctx context.Context, token, pageID string, post platform.Post) (*platform.Result, error) {
	params := url.Values{"file_url": {post.VideoURL}}
	if post.Title != "" {
		params.Set("title", post.Title)
	}
	if post.Description != "" {
		params.Set("description", post.Description)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := a.client.Post(ctx, pageID+"/videos", token, params, &out); err != nil {
		return nil, fmt.Errorf("publish video: %w", err)
	}

	result := &platform.Result{
		PostID: out.ID,
		Raw:    map[string]interface{}{"video_id": out.ID},
	}
	result.Permalink = a.fetchPermalink(ctx, token, out.ID)
	return result, nil
}

func (a *Adapter) publishLink(ctx context.Context, token, pageID string, post platform.Post) (*platform.Result, error) {
	params := url.Values{"link": {post.Link}}
	if post.Message != "" {
		params.Set("message", post.Message)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := a.client.Post(ctx, pageID+"/feed", token, params, &out); err != nil {
		return nil, fmt.Errorf("publish link: %w", err)
	}

	result := &platform.Result{
		PostID: out.ID,
		Raw:    map[string]interface{}{"post_id": out.ID},
	}
	result.Permalink = a.fetchPermalink(ctx, token, out.ID)
	return result, nil
}

// fetchPermalink is best-effort: the post is already live, so failing
// the job here would cause a duplicate on retry.
func (a *Adapter) fetchPermalink(ctx context.Context, token, objectID string) string {
	if objectID == "" {
		return ""
	}
	var out struct {
		PermalinkURL string `json:"permalink_url"`
	}
	if err := a.client.Get(ctx, objectID, token, url.Values{"fields": {"permalink_url"}}, &out); err != nil {
		a.logger.Warn("permalink fetch failed", zap.String("object_id", objectID), zap.Error(err))
		return ""
	}
	return out.PermalinkURL
}
