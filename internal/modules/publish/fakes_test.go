package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/modules/activity"
	"github.com/publora/core/internal/modules/platform"
	"github.com/publora/core/internal/pkg/pagination"
	"github.com/publora/core/internal/pkg/queue"
	"gorm.io/gorm"
)

type memPublications struct {
	mu   sync.Mutex
	seq  int
	rows map[string]*models.PublicationModel
}

func newMemPublications() *memPublications {
	return &memPublications{rows: map[string]*models.PublicationModel{}}
}

func (m *memPublications) Create(_ context.Context, pub *models.PublicationModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pub.ClientRequestID != nil {
		for _, row := range m.rows {
			if row.ClientRequestID != nil &&
				row.WorkspaceID == pub.WorkspaceID && row.BrandID == pub.BrandID &&
				*row.ClientRequestID == *pub.ClientRequestID {
				return fmt.Errorf("duplicate client_request_id")
			}
		}
	}

	m.seq++
	if pub.ID == "" {
		pub.ID = fmt.Sprintf("pub-%d", m.seq)
	}
	pub.CreatedAt = time.Now().Add(time.Duration(m.seq) * time.Millisecond)
	copied := *pub
	m.rows[pub.ID] = &copied
	return nil
}

func (m *memPublications) ByID(_ context.Context, workspaceID, id string) (*models.PublicationModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.WorkspaceID != workspaceID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memPublications) ByIDAny(_ context.Context, id string) (*models.PublicationModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *row
	return &copied, nil
}

func (m *memPublications) ByClientRequestID(_ context.Context, workspaceID, brandID, requestID string) (*models.PublicationModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ClientRequestID != nil && *row.ClientRequestID == requestID &&
			row.WorkspaceID == workspaceID && row.BrandID == brandID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memPublications) Save(_ context.Context, pub *models.PublicationModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *pub
	m.rows[pub.ID] = &copied
	return nil
}

func (m *memPublications) SetJobID(_ context.Context, id, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		row.JobID = jobID
	}
	return nil
}

func (m *memPublications) CASStatus(_ context.Context, id string, from, to models.PublicationStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != from || !from.CanTransitionTo(to) {
		return false, nil
	}
	row.Status = to
	return true, nil
}

func (m *memPublications) ListByBrand(_ context.Context, workspaceID, brandID string, after pagination.CursorToken, limit int) ([]models.PublicationModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []models.PublicationModel
	for _, row := range m.rows {
		if row.WorkspaceID != workspaceID || row.BrandID != brandID {
			continue
		}
		if !after.CreatedAt.IsZero() && !row.CreatedAt.Before(after.CreatedAt) {
			continue
		}
		items = append(items, *row)
	}
	// newest first
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if items[j].CreatedAt.After(items[i].CreatedAt) {
				items[i], items[j] = items[j], items[i]
			}
		}
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memPublications) StaleScheduled(_ context.Context, olderThan time.Time, limit int) ([]models.PublicationModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []models.PublicationModel
	for _, row := range m.rows {
		due := row.CreatedAt
		if row.ScheduledAt != nil {
			due = *row.ScheduledAt
		}
		if row.Status == models.PubScheduled && due.Before(olderThan) {
			items = append(items, *row)
		}
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memPublications) setCreatedAt(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		row.CreatedAt = at
	}
}

func (m *memPublications) get(id string) *models.PublicationModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		copied := *row
		return &copied
	}
	return nil
}

type fakeDirectory struct {
	brands   map[string]bool // "ws|brand"
	accounts map[string]*models.SocialAccountModel
}

func (d *fakeDirectory) BrandInWorkspace(_ context.Context, workspaceID, brandID string) (bool, error) {
	return d.brands[workspaceID+"|"+brandID], nil
}

func (d *fakeDirectory) Account(_ context.Context, workspaceID, accountID string) (*models.SocialAccountModel, error) {
	account, ok := d.accounts[accountID]
	if !ok || account.WorkspaceID != workspaceID {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *account
	return &copied, nil
}

type enqueued struct {
	payload interface{}
	delay   time.Duration
}

type fakeQueue struct {
	mu       sync.Mutex
	seq      int
	enqueues []enqueued
	removed  []string
	jobs     map[string]*queue.Job
	failNext bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string]*queue.Job{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, payload interface{}, delay time.Duration) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext {
		q.failNext = false
		return nil, fmt.Errorf("redis unavailable")
	}
	q.seq++
	job := &queue.Job{
		ID:      fmt.Sprintf("job-%d", q.seq),
		Status:  queue.JobWaiting,
		ReadyAt: time.Now().Add(delay),
	}
	q.enqueues = append(q.enqueues, enqueued{payload: payload, delay: delay})
	q.jobs[job.ID] = job
	return job, nil
}

func (q *fakeQueue) Remove(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, id)
	if _, ok := q.jobs[id]; ok {
		delete(q.jobs, id)
		return true, nil
	}
	return false, nil
}

func (q *fakeQueue) setReadyAt(id string, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		job.ReadyAt = at
	}
}

func (q *fakeQueue) GetJob(_ context.Context, id string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (a *recordingAudit) Log(entry activity.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

type recordedEvent struct {
	workspaceID string
	brandID     string
	event       string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) PublicationEvent(workspaceID, brandID, event string, _ interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{workspaceID, brandID, event})
}

// passRunner hands fn the stored token without refreshing.
type passRunner struct{}

func (passRunner) WithFreshToken(_ context.Context, account *models.SocialAccountModel, fn func(string) error) error {
	return fn(account.AccessToken)
}

// errRunner fails before fn runs, like a dead refresh path.
type errRunner struct{ err error }

func (r errRunner) WithFreshToken(context.Context, *models.SocialAccountModel, func(string) error) error {
	return r.err
}

type publishCall struct {
	token      string
	externalID string
	post       platform.Post
}

type fakePublisher struct {
	mu     sync.Mutex
	calls  []publishCall
	result *platform.Result
	errs   []error // popped per call; nil entry = success
}

func (p *fakePublisher) Publish(_ context.Context, token, externalID string, post platform.Post) (*platform.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{token, externalID, post})
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if p.result != nil {
		return p.result, nil
	}
	return &platform.Result{PostID: "post-1", Permalink: "https://example.com/p/1"}, nil
}

type prefixResolver struct{}

func (prefixResolver) Resolve(_ context.Context, ref string) (string, error) {
	return "https://media.test/" + ref, nil
}
