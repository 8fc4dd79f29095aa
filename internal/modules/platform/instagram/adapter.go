// Package instagram publishes images, carousels and reels through the
// Graph API two-step container protocol.
package instagram

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/modules/platform"
	"github.com/publora/core/internal/pkg/graph"
	"go.uber.org/zap"
)

const (
	carouselMinItems = 2
	carouselMaxItems = 10

	defaultPollInterval = 3 * time.Second
	defaultPollMax      = 20
)

// Adapter publishes to an Instagram professional account.
type Adapter struct {
	client *graph.Client
	logger *zap.Logger

	pollInterval time.Duration
	pollMax      int
}

func New(client *graph.Client, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		client:       client,
		logger:       logger,
		pollInterval: defaultPollInterval,
		pollMax:      defaultPollMax,
	}
}

// Publish dispatches on content type. igUserID is the Instagram user
// id the account is connected as.
func (a *Adapter) Publish(ctx context.Context, token, igUserID string, post platform.Post) (*platform.Result, error) {
	switch post.ContentType {
	case models.TypeImage:
		return a.publishImage(ctx, token, igUserID, post)
	case models.TypeCarousel:
		return a.publishCarousel(ctx, token, igUserID, post)
	case models.TypeReel:
		return a.publishReel(ctx, token, igUserID, post)
	default:
		return nil, fmt.Errorf("instagram: unsupported content type %s", post.ContentType)
	}
}

func (a *Adapter) publishImage(ctx context.Context, token, igUserID string, post platform.Post) (*platform.Result, error) {
	params := url.Values{"image_url": {post.ImageURL}}
	if post.Caption != "" {
		params.Set("caption", post.Caption)
	}
	if post.AltText != "" {
		params.Set("alt_text", post.AltText)
	}

	containerID, err := a.createContainer(ctx, token, igUserID, params)
	if err != nil {
		return nil, fmt.Errorf("create image container: %w", err)
	}
	return a.publishContainer(ctx, token, igUserID, containerID)
}

func (a *Adapter) publishCarousel(ctx context.Context, token, igUserID string, post platform.Post) (*platform.Result, error) {
	if n := len(post.Items); n < carouselMinItems || n > carouselMaxItems {
		return nil, fmt.Errorf("instagram: carousel needs %d-%d items, got %d", carouselMinItems, carouselMaxItems, n)
	}

	children := make([]string, 0, len(post.Items))
	for i, item := range post.Items {
		params := url.Values{
			"image_url":        {item.ImageURL},
			"is_carousel_item": {"true"},
		}
		if item.AltText != "" {
			params.Set("alt_text", item.AltText)
		}
		childID, err := a.createContainer(ctx, token, igUserID, params)
		if err != nil {
			// No partial carousel: any child failure aborts the whole post.
			return nil, fmt.Errorf("create carousel item %d: %w", i, err)
		}
		children = append(children, childID)
	}

	params := url.Values{
		"media_type": {"CAROUSEL"},
		"children":   {strings.Join(children, ",")},
	}
	if post.Caption != "" {
		params.Set("caption", post.Caption)
	}
	containerID, err := a.createContainer(ctx, token, igUserID, params)
	if err != nil {
		return nil, fmt.Errorf("create carousel container: %w", err)
	}
	return a.publishContainer(ctx, token, igUserID, containerID)
}

func (a *Adapter) publishReel(ctx context.Context, token, igUserID string, post platform.Post) (*platform.Result, error) {
	params := url.Values{
		"media_type": {"REELS"},
		"video_url":  {post.VideoURL},
	}
	if post.Caption != "" {
		params.Set("caption", post.Caption)
	}
	if post.CoverURL != "" {
		params.Set("cover_url", post.CoverURL)
	}

	containerID, err := a.createContainer(ctx, token, igUserID, params)
	if err != nil {
		return nil, fmt.Errorf("create reel container: %w", err)
	}

	// Video containers process asynchronously; publishing before the
	// container reaches FINISHED is rejected.
	if err := a.waitForContainer(ctx, token, containerID); err != nil {
		return nil, err
	}
	return a.publishContainer(ctx, token, igUserID, containerID)
}

func (a *Adapter) createContainer(ctx context.Context, token, igUserID string, params url.Values) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := a.client.Post(ctx, igUserID+"/media", token, params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// waitForContainer polls the container status until the upload is
// processed. A stuck upload times out as a retryable failure.
func (a *Adapter) waitForContainer(ctx context.Context, token, containerID string) error {
	for i := 0; i < a.pollMax; i++ {
		var out struct {
			StatusCode string `json:"status_code"`
			Status     string `json:"status"`
		}
		err := a.client.Get(ctx, containerID, token, url.Values{"fields": {"status_code,status"}}, &out)
		if err != nil {
			return fmt.Errorf("poll container %s: %w", containerID, err)
		}

		switch out.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR", "EXPIRED":
			return fmt.Errorf("instagram: container %s processing failed: %s", containerID, out.Status)
		}

		a.logger.Debug("container still processing",
			zap.String("container_id", containerID),
			zap.String("status_code", out.StatusCode))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.pollInterval):
		}
	}
	return fmt.Errorf("instagram: container %s not ready: %w", containerID, context.DeadlineExceeded)
}

func (a *Adapter) publishContainer(ctx context.Context, token, igUserID, containerID string) (*platform.Result, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := a.client.Post(ctx, igUserID+"/media_publish", token, url.Values{"creation_id": {containerID}}, &out); err != nil {
		return nil, fmt.Errorf("publish container %s: %w", containerID, err)
	}

	result := &platform.Result{
		PostID: out.ID,
		Raw:    map[string]interface{}{"media_id": out.ID, "container_id": containerID},
	}

	// The post is live at this point, so a permalink fetch failure must
	// not fail the job: retrying would publish a duplicate.
	var media struct {
		Permalink string `json:"permalink"`
	}
	if err := a.client.Get(ctx, out.ID, token, url.Values{"fields": {"permalink"}}, &media); err != nil {
		a.logger.Warn("permalink fetch failed", zap.String("media_id", out.ID), zap.Error(err))
	} else {
		result.Permalink = media.Permalink
	}
	return result, nil
}
