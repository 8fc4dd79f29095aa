// Package publish owns the publication lifecycle: scheduling with
// idempotency, the durable per-platform queues, and the worker that
// delivers posts to the providers.
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/modules/activity"
	"github.com/publora/core/internal/pkg/pagination"
	"github.com/publora/core/internal/pkg/queue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publications is the persistence port for publication rows.
type Publications interface {
	Create(ctx context.Context, pub *models.PublicationModel) error
	ByID(ctx context.Context, workspaceID, id string) (*models.PublicationModel, error)
	ByIDAny(ctx context.Context, id string) (*models.PublicationModel, error)
	ByClientRequestID(ctx context.Context, workspaceID, brandID, requestID string) (*models.PublicationModel, error)
	Save(ctx context.Context, pub *models.PublicationModel) error
	SetJobID(ctx context.Context, id, jobID string) error
	// CASStatus performs a guarded transition and reports whether the
	// row was actually moved.
	CASStatus(ctx context.Context, id string, from, to models.PublicationStatus) (bool, error)
	ListByBrand(ctx context.Context, workspaceID, brandID string, after pagination.CursorToken, limit int) ([]models.PublicationModel, error)
	// StaleScheduled returns SCHEDULED rows whose publish time passed
	// more than grace ago, for the reconciliation sweep.
	StaleScheduled(ctx context.Context, olderThan time.Time, limit int) ([]models.PublicationModel, error)
}

// Directory resolves tenant-scoped brands and social accounts.
type Directory interface {
	BrandInWorkspace(ctx context.Context, workspaceID, brandID string) (bool, error)
	Account(ctx context.Context, workspaceID, accountID string) (*models.SocialAccountModel, error)
}

// JobQueue is the slice of the queue the service depends on.
type JobQueue interface {
	Enqueue(ctx context.Context, payload interface{}, delay time.Duration) (*queue.Job, error)
	Remove(ctx context.Context, id string) (bool, error)
	GetJob(ctx context.Context, id string) (*queue.Job, error)
}

// AuditLog records workspace activity, fire-and-forget.
type AuditLog interface {
	Log(entry activity.Entry)
}

// Notifier pushes publication lifecycle events to connected clients.
type Notifier interface {
	PublicationEvent(workspaceID, brandID, event string, payload interface{})
}

const (
	// sweepGrace is how long past its publish time a SCHEDULED row may
	// sit before the sweep considers it orphaned.
	sweepGrace = 2 * time.Minute
	// skipAfter is the staleness cutoff: orphans older than this are
	// skipped instead of published late.
	skipAfter = 24 * time.Hour

	defaultListLimit = 20
	maxListLimit     = 100
)

// Service schedules, cancels and lists publications.
type Service struct {
	pubs   Publications
	dir    Directory
	queues map[models.Platform]JobQueue
	audit  AuditLog
	notify Notifier
	logger *zap.Logger
	now    func() time.Time
}

func NewService(pubs Publications, dir Directory, queues map[models.Platform]JobQueue, audit AuditLog, notify Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pubs:   pubs,
		dir:    dir,
		queues: queues,
		audit:  audit,
		notify: notify,
		logger: logger,
		now:    time.Now,
	}
}

// ScheduleInstagram validates and schedules an Instagram publication.
// The returned bool is false when an existing publication was returned
// via the client_request_id idempotency contract.
func (s *Service) ScheduleInstagram(ctx context.Context, in ScheduleInput, payload InstagramPayload) (*models.PublicationModel, bool, error) {
	if err := payload.Validate(); err != nil {
		return nil, false, err
	}
	return s.schedule(ctx, in, models.PlatformInstagram, payload.ContentType, payload.CaptionText(), payload)
}

// ScheduleFacebook validates and schedules a Facebook publication.
func (s *Service) ScheduleFacebook(ctx context.Context, in ScheduleInput, payload FacebookPayload) (*models.PublicationModel, bool, error) {
	if err := payload.Validate(); err != nil {
		return nil, false, err
	}
	return s.schedule(ctx, in, models.PlatformFacebook, payload.ContentType, payload.CaptionText(), payload)
}

func (s *Service) schedule(ctx context.Context, in ScheduleInput, platform models.Platform, contentType models.ContentType, caption string, payload interface{}) (*models.PublicationModel, bool, error) {
	ok, err := s.dir.BrandInWorkspace(ctx, in.WorkspaceID, in.BrandID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrBrandNotFound
	}

	account, err := s.dir.Account(ctx, in.WorkspaceID, in.SocialAccountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrAccountNotFound
		}
		return nil, false, err
	}
	switch {
	case account.BrandID != in.BrandID:
		return nil, false, ErrAccountBrandMismatch
	case account.Platform != platform:
		return nil, false, ErrPlatformMismatch
	case account.Status != models.AccountActive:
		return nil, false, ErrAccountNotActive
	}

	// Idempotency short-circuit runs after the account validations, so a
	// replay against a target that has since gone bad is rejected rather
	// than echoing the original row.
	if in.ClientRequestID != nil && *in.ClientRequestID != "" {
		existing, err := s.pubs.ByClientRequestID(ctx, in.WorkspaceID, in.BrandID, *in.ClientRequestID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	payloadMap, err := payloadToMap(payload)
	if err != nil {
		return nil, false, err
	}

	// A nil publish time means immediate; the row keeps the null rather
	// than a fabricated timestamp.
	scheduledAt := in.ScheduledAt

	pub := &models.PublicationModel{
		WorkspaceID:     in.WorkspaceID,
		BrandID:         in.BrandID,
		SocialAccountID: in.SocialAccountID,
		ContentID:       in.ContentID,
		Platform:        platform,
		ContentType:     contentType,
		Status:          models.PubScheduled,
		ScheduledAt:     scheduledAt,
		Caption:         caption,
		Payload:         payloadMap,
		ClientRequestID: normalizeRequestID(in.ClientRequestID),
	}

	if err := s.pubs.Create(ctx, pub); err != nil {
		// Lost an insert race on the unique client_request_id index:
		// the concurrent request's row wins.
		if pub.ClientRequestID != nil {
			if existing, lookupErr := s.pubs.ByClientRequestID(ctx, in.WorkspaceID, in.BrandID, *pub.ClientRequestID); lookupErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	if err := s.enqueue(ctx, pub); err != nil {
		// The row exists without a job; the reconciliation sweep will
		// re-enqueue it once the publish time passes.
		s.logger.Error("enqueue publication failed, sweep will recover",
			zap.String("publication_id", pub.ID), zap.Error(err))
	}

	s.audit.Log(activity.Entry{
		WorkspaceID: in.WorkspaceID,
		Type:        activity.TypePublicationScheduled,
		ActorUserID: in.ActorUserID,
		ScopeType:   "publication",
		ScopeID:     pub.ID,
		Metadata: map[string]interface{}{
			"platform":     string(platform),
			"content_type": string(contentType),
			"scheduled_at": scheduledAt,
		},
	})
	s.notify.PublicationEvent(in.WorkspaceID, in.BrandID, "publication.scheduled", pub)

	return pub, true, nil
}

func (s *Service) enqueue(ctx context.Context, pub *models.PublicationModel) error {
	q, ok := s.queues[pub.Platform]
	if !ok {
		return errors.New("no queue for platform " + string(pub.Platform))
	}

	delay := time.Duration(0)
	if pub.ScheduledAt != nil {
		if until := pub.ScheduledAt.Sub(s.now()); until > 0 {
			delay = until
		}
	}

	job, err := q.Enqueue(ctx, jobPayload{
		PublicationID: pub.ID,
		WorkspaceID:   pub.WorkspaceID,
		BrandID:       pub.BrandID,
	}, delay)
	if err != nil {
		return err
	}

	pub.JobID = job.ID
	return s.pubs.SetJobID(ctx, pub.ID, job.ID)
}

// Cancel moves a SCHEDULED publication to CANCELLED and drops its job.
// A publication the worker already claimed cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, workspaceID, id, actorUserID string) (*models.PublicationModel, error) {
	pub, err := s.pubs.ByID(ctx, workspaceID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPublicationNotFound
		}
		return nil, err
	}
	if pub.Status != models.PubScheduled {
		return nil, ErrNotCancellable
	}

	// Guarded transition first, so a worker claiming the job at the
	// same moment cannot publish a cancelled row.
	moved, err := s.pubs.CASStatus(ctx, pub.ID, models.PubScheduled, models.PubCancelled)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrNotCancellable
	}

	if pub.JobID != "" {
		if q, ok := s.queues[pub.Platform]; ok {
			if _, err := q.Remove(ctx, pub.JobID); err != nil {
				s.logger.Warn("remove cancelled job failed",
					zap.String("job_id", pub.JobID), zap.Error(err))
			}
		}
	}

	pub.Status = models.PubCancelled
	s.audit.Log(activity.Entry{
		WorkspaceID: workspaceID,
		Type:        activity.TypePublicationCancelled,
		ActorUserID: actorUserID,
		ScopeType:   "publication",
		ScopeID:     pub.ID,
	})
	s.notify.PublicationEvent(workspaceID, pub.BrandID, "publication.cancelled", pub)

	return pub, nil
}

// Get returns one workspace-scoped publication.
func (s *Service) Get(ctx context.Context, workspaceID, id string) (*models.PublicationModel, error) {
	pub, err := s.pubs.ByID(ctx, workspaceID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPublicationNotFound
		}
		return nil, err
	}
	return pub, nil
}

// List returns brand publications newest first with an opaque cursor.
func (s *Service) List(ctx context.Context, workspaceID, brandID, cursor string, limit int) ([]models.PublicationModel, string, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	after, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return nil, "", invalid("malformed cursor")
	}

	items, err := s.pubs.ListByBrand(ctx, workspaceID, brandID, after, limit)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(items) == limit {
		last := items[len(items)-1]
		next = pagination.EncodeCursor(pagination.CursorToken{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return items, next, nil
}

// ReconcileOrphans re-enqueues SCHEDULED rows whose job disappeared
// (enqueue failure, Redis loss) and skips rows too stale to publish.
// Runs from cron; returns how many rows were touched.
func (s *Service) ReconcileOrphans(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-sweepGrace)
	rows, err := s.pubs.StaleScheduled(ctx, cutoff, 200)
	if err != nil {
		return 0, err
	}

	touched := 0
	for i := range rows {
		pub := &rows[i]

		due := pub.CreatedAt
		if pub.ScheduledAt != nil {
			due = *pub.ScheduledAt
		}
		if s.now().Sub(due) > skipAfter {
			moved, err := s.pubs.CASStatus(ctx, pub.ID, models.PubScheduled, models.PubSkipped)
			if err != nil || !moved {
				continue
			}
			touched++
			s.audit.Log(activity.Entry{
				WorkspaceID: pub.WorkspaceID,
				Type:        activity.TypePublicationSkipped,
				ScopeType:   "publication",
				ScopeID:     pub.ID,
				Metadata:    map[string]interface{}{"reason": "stale beyond skip window"},
			})
			s.notify.PublicationEvent(pub.WorkspaceID, pub.BrandID, "publication.skipped", pub)
			continue
		}

		q, ok := s.queues[pub.Platform]
		if !ok {
			continue
		}
		if pub.JobID != "" {
			if job, err := q.GetJob(ctx, pub.JobID); err == nil && job != nil {
				if job.Status == queue.JobActive {
					continue
				}
				// A waiting job is live only while its ready time is in
				// the future or inside the sweep grace. One overdue past
				// that fell out of the delayed set mid-claim (consumer
				// crash) and will never be delivered.
				if job.Status == queue.JobWaiting {
					if job.ReadyAt.After(cutoff) {
						continue
					}
					// Drop the record if it is still queued so the fresh
					// job cannot double-deliver.
					if _, err := q.Remove(ctx, pub.JobID); err != nil {
						s.logger.Warn("remove stranded job failed",
							zap.String("job_id", pub.JobID), zap.Error(err))
					}
				}
			}
		}
		if err := s.enqueue(ctx, pub); err != nil {
			s.logger.Warn("sweep re-enqueue failed",
				zap.String("publication_id", pub.ID), zap.Error(err))
			continue
		}
		touched++
		s.logger.Info("sweep re-enqueued orphaned publication",
			zap.String("publication_id", pub.ID))
	}
	return touched, nil
}

func normalizeRequestID(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	return id
}
