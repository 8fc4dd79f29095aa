package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/modules/activity"
	"github.com/publora/core/internal/modules/credential"
	"github.com/publora/core/internal/modules/media"
	"github.com/publora/core/internal/modules/platform"
	"github.com/publora/core/internal/pkg/graph"
	"github.com/publora/core/internal/pkg/queue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TokenRunner is the credential manager slice the worker uses.
type TokenRunner interface {
	WithFreshToken(ctx context.Context, account *models.SocialAccountModel, fn func(token string) error) error
}

// Worker processes publish jobs. One Worker serves both platform
// queues; the adapter is picked per job.
type Worker struct {
	pubs       Publications
	dir        Directory
	creds      TokenRunner
	media      media.Resolver
	publishers map[models.Platform]platform.Publisher
	audit      AuditLog
	notify     Notifier
	logger     *zap.Logger

	maxAttempts int
	now         func() time.Time
}

func NewWorker(pubs Publications, dir Directory, creds TokenRunner, resolver media.Resolver, publishers map[models.Platform]platform.Publisher, audit AuditLog, notify Notifier, maxAttempts int, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		pubs:        pubs,
		dir:         dir,
		creds:       creds,
		media:       resolver,
		publishers:  publishers,
		audit:       audit,
		notify:      notify,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// Handle is the queue handler. Deleted rows and rows already in a
// terminal state acknowledge without side effects, which makes stale
// deliveries and cancel races harmless.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var p jobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return queue.NoRetry(fmt.Errorf("malformed job payload: %w", err))
	}

	pub, err := w.pubs.ByIDAny(ctx, p.PublicationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			w.logger.Info("publication gone, acking job", zap.String("publication_id", p.PublicationID))
			return nil
		}
		return err
	}
	if pub.Status.Terminal() {
		return nil
	}

	if pub.Status == models.PubScheduled {
		moved, err := w.pubs.CASStatus(ctx, pub.ID, models.PubScheduled, models.PubPublishing)
		if err != nil {
			return err
		}
		if !moved {
			// Lost to a concurrent cancel; re-read decides.
			fresh, err := w.pubs.ByIDAny(ctx, pub.ID)
			if err != nil || fresh.Status.Terminal() {
				return nil
			}
			pub = fresh
		} else {
			pub.Status = models.PubPublishing
		}
	}

	account, err := w.dir.Account(ctx, pub.WorkspaceID, pub.SocialAccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return w.fail(ctx, job, pub, queue.NoRetry(errors.New("social account no longer exists")))
		}
		return err
	}
	if account.Status == models.AccountDisconnected {
		return w.fail(ctx, job, pub, queue.NoRetry(errors.New("social account is disconnected")))
	}

	post, err := w.buildPost(ctx, pub)
	if err != nil {
		return w.fail(ctx, job, pub, err)
	}

	publisher, ok := w.publishers[pub.Platform]
	if !ok {
		return w.fail(ctx, job, pub, queue.NoRetry(fmt.Errorf("no publisher for platform %s", pub.Platform)))
	}

	var result *platform.Result
	err = w.creds.WithFreshToken(ctx, account, func(token string) error {
		r, callErr := publisher.Publish(ctx, token, account.ExternalID, post)
		if callErr != nil {
			return callErr
		}
		result = r
		return nil
	})
	if err != nil {
		return w.fail(ctx, job, pub, err)
	}

	return w.succeed(ctx, pub, result)
}

func (w *Worker) succeed(ctx context.Context, pub *models.PublicationModel, result *platform.Result) error {
	nowAt := w.now()
	pub.Status = models.PubPublished
	pub.PublishedAt = &nowAt
	pub.ExternalPostID = result.PostID
	pub.Permalink = result.Permalink
	pub.ProviderResponse = result.Raw
	pub.ErrorMessage = ""

	if err := w.pubs.Save(ctx, pub); err != nil {
		// The post is live; retrying the job would double-post, so the
		// write must be retried here rather than through the queue.
		w.logger.Error("persist published state failed",
			zap.String("publication_id", pub.ID), zap.Error(err))
		return err
	}

	w.logger.Info("publication published",
		zap.String("publication_id", pub.ID),
		zap.String("platform", string(pub.Platform)),
		zap.String("external_post_id", result.PostID))

	w.audit.Log(activity.Entry{
		WorkspaceID: pub.WorkspaceID,
		Type:        activity.TypePublicationPublished,
		ScopeType:   "publication",
		ScopeID:     pub.ID,
		Metadata: map[string]interface{}{
			"external_post_id": result.PostID,
			"permalink":        result.Permalink,
		},
	})
	w.notify.PublicationEvent(pub.WorkspaceID, pub.BrandID, "publication.published", pub)
	return nil
}

// fail records the attempt outcome and decides between retry and
// terminal failure.
func (w *Worker) fail(ctx context.Context, job *queue.Job, pub *models.PublicationModel, cause error) error {
	permanent := w.isPermanent(cause)
	lastAttempt := job.Attempts >= w.maxAttempts

	pub.ErrorMessage = cause.Error()
	var apiErr *graph.APIError
	if errors.As(cause, &apiErr) {
		pub.ProviderResponse = map[string]interface{}{
			"error": map[string]interface{}{
				"status":  apiErr.Status,
				"code":    apiErr.Code,
				"subcode": apiErr.Subcode,
				"type":    apiErr.Type,
				"message": apiErr.Message,
			},
		}
	}

	if !permanent && !lastAttempt {
		// Transient with attempts left: keep PUBLISHING, persist the
		// error for visibility, let the queue back off and redeliver.
		if err := w.pubs.Save(ctx, pub); err != nil {
			w.logger.Warn("persist attempt error failed",
				zap.String("publication_id", pub.ID), zap.Error(err))
		}
		w.logger.Warn("publish attempt failed, will retry",
			zap.String("publication_id", pub.ID),
			zap.Int("attempt", job.Attempts),
			zap.Error(cause))
		return cause
	}

	nowAt := w.now()
	pub.Status = models.PubFailed
	pub.FailedAt = &nowAt
	if err := w.pubs.Save(ctx, pub); err != nil {
		w.logger.Error("persist failed state failed",
			zap.String("publication_id", pub.ID), zap.Error(err))
	}

	w.logger.Error("publication failed",
		zap.String("publication_id", pub.ID),
		zap.String("platform", string(pub.Platform)),
		zap.Bool("permanent", permanent),
		zap.Int("attempt", job.Attempts),
		zap.Error(cause))

	w.audit.Log(activity.Entry{
		WorkspaceID: pub.WorkspaceID,
		Type:        activity.TypePublicationFailed,
		ScopeType:   "publication",
		ScopeID:     pub.ID,
		Metadata:    map[string]interface{}{"error": cause.Error()},
	})
	w.notify.PublicationEvent(pub.WorkspaceID, pub.BrandID, "publication.failed", pub)

	if permanent && !queue.IsNoRetry(cause) {
		return queue.NoRetry(cause)
	}
	return cause
}

// isPermanent classifies a publish failure. Auth errors are permanent
// here because the credential manager already spent its one refresh.
func (w *Worker) isPermanent(err error) bool {
	switch {
	case queue.IsNoRetry(err):
		return true
	case errors.Is(err, credential.ErrMissingRefreshToken):
		return true
	case graph.IsAuthError(err):
		return true
	case graph.IsTransient(err):
		return false
	}
	var apiErr *graph.APIError
	if errors.As(err, &apiErr) {
		// Non-transient provider rejection: bad media, policy, perms.
		return true
	}
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// buildPost decodes the stored payload and resolves media references
// into fetchable URLs.
func (w *Worker) buildPost(ctx context.Context, pub *models.PublicationModel) (platform.Post, error) {
	switch pub.Platform {
	case models.PlatformInstagram:
		var p InstagramPayload
		if err := payloadFromMap(pub.Payload, &p); err != nil {
			return platform.Post{}, queue.NoRetry(fmt.Errorf("decode payload: %w", err))
		}
		if err := p.Validate(); err != nil {
			return platform.Post{}, queue.NoRetry(err)
		}
		return w.buildInstagramPost(ctx, p)
	case models.PlatformFacebook:
		var p FacebookPayload
		if err := payloadFromMap(pub.Payload, &p); err != nil {
			return platform.Post{}, queue.NoRetry(fmt.Errorf("decode payload: %w", err))
		}
		if err := p.Validate(); err != nil {
			return platform.Post{}, queue.NoRetry(err)
		}
		return w.buildFacebookPost(ctx, p)
	}
	return platform.Post{}, queue.NoRetry(fmt.Errorf("unsupported platform %s", pub.Platform))
}

func (w *Worker) buildInstagramPost(ctx context.Context, p InstagramPayload) (platform.Post, error) {
	post := platform.Post{
		ContentType: p.ContentType,
		Caption:     p.Caption,
		AltText:     p.AltText,
	}

	switch p.ContentType {
	case models.TypeImage:
		url, err := w.media.Resolve(ctx, p.Media)
		if err != nil {
			return platform.Post{}, err
		}
		post.ImageURL = url
	case models.TypeCarousel:
		for _, item := range p.Items {
			url, err := w.media.Resolve(ctx, item.Media)
			if err != nil {
				return platform.Post{}, err
			}
			post.Items = append(post.Items, platform.CarouselItem{ImageURL: url, AltText: item.AltText})
		}
	case models.TypeReel:
		url, err := w.media.Resolve(ctx, p.Media)
		if err != nil {
			return platform.Post{}, err
		}
		post.VideoURL = url
		if p.Cover != "" {
			cover, err := w.media.Resolve(ctx, p.Cover)
			if err != nil {
				return platform.Post{}, err
			}
			post.CoverURL = cover
		}
	}
	return post, nil
}

func (w *Worker) buildFacebookPost(ctx context.Context, p FacebookPayload) (platform.Post, error) {
	post := platform.Post{
		ContentType: p.ContentType,
		Caption:     p.Caption,
		Title:       p.Title,
		Description: p.Description,
		Message:     p.Message,
		Link:        p.Link,
	}

	switch p.ContentType {
	case models.TypePhoto:
		url, err := w.media.Resolve(ctx, p.Media)
		if err != nil {
			return platform.Post{}, err
		}
		post.ImageURL = url
	case models.TypeVideo:
		url, err := w.media.Resolve(ctx, p.Media)
		if err != nil {
			return platform.Post{}, err
		}
		post.VideoURL = url
	}
	return post, nil
}
