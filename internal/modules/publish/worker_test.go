package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/modules/credential"
	"github.com/publora/core/internal/modules/platform"
	"github.com/publora/core/internal/pkg/graph"
	"github.com/publora/core/internal/pkg/queue"
)

type workerEnv struct {
	worker *Worker
	pubs   *memPublications
	ig     *fakePublisher
	fb     *fakePublisher
	audit  *recordingAudit
	notify *recordingNotifier
}

func newWorkerEnv(t *testing.T, runner TokenRunner) *workerEnv {
	t.Helper()

	ig := &models.SocialAccountModel{
		WorkspaceID: wsID, BrandID: brandID,
		Platform: models.PlatformInstagram, ExternalID: "ig-123",
		Status: models.AccountActive, AccessToken: "tok",
	}
	ig.ID = igAccount

	env := &workerEnv{
		pubs:   newMemPublications(),
		ig:     &fakePublisher{},
		fb:     &fakePublisher{},
		audit:  &recordingAudit{},
		notify: &recordingNotifier{},
	}
	dir := &fakeDirectory{
		brands:   map[string]bool{wsID + "|" + brandID: true},
		accounts: map[string]*models.SocialAccountModel{igAccount: ig},
	}
	env.worker = NewWorker(env.pubs, dir, runner, prefixResolver{},
		map[models.Platform]platform.Publisher{
			models.PlatformInstagram: env.ig,
			models.PlatformFacebook:  env.fb,
		},
		env.audit, env.notify, 3, nil)
	return env
}

func (env *workerEnv) seedPublication(t *testing.T, status models.PublicationStatus) *models.PublicationModel {
	t.Helper()
	payloadMap, err := payloadToMap(imagePayload())
	if err != nil {
		t.Fatal(err)
	}
	at := time.Now().Add(-time.Minute)
	pub := &models.PublicationModel{
		WorkspaceID: wsID, BrandID: brandID, SocialAccountID: igAccount,
		Platform: models.PlatformInstagram, ContentType: models.TypeImage,
		Status: status, ScheduledAt: &at, Payload: payloadMap, Caption: "hi",
	}
	if err := env.pubs.Create(context.Background(), pub); err != nil {
		t.Fatal(err)
	}
	return pub
}

func jobFor(t *testing.T, pub *models.PublicationModel, attempts int) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(jobPayload{
		PublicationID: pub.ID, WorkspaceID: pub.WorkspaceID, BrandID: pub.BrandID,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &queue.Job{ID: "job-1", Payload: raw, Attempts: attempts, Status: queue.JobActive}
}

func TestWorkerPublishesScheduledRow(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	pub := env.seedPublication(t, models.PubScheduled)

	if err := env.worker.Handle(context.Background(), jobFor(t, pub, 1)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	stored := env.pubs.get(pub.ID)
	if stored.Status != models.PubPublished {
		t.Fatalf("status = %s, want PUBLISHED", stored.Status)
	}
	if stored.ExternalPostID != "post-1" || stored.Permalink == "" {
		t.Errorf("provider ids not recorded: %+v", stored)
	}
	if stored.PublishedAt == nil {
		t.Error("published_at not set")
	}

	if len(env.ig.calls) != 1 {
		t.Fatalf("publisher calls = %d, want 1", len(env.ig.calls))
	}
	call := env.ig.calls[0]
	if call.externalID != "ig-123" || call.token != "tok" {
		t.Errorf("call = %+v", call)
	}
	if call.post.ImageURL != "https://media.test/ws-1/a.jpg" {
		t.Errorf("media not resolved: %q", call.post.ImageURL)
	}
}

func TestWorkerAcksTerminalRow(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	pub := env.seedPublication(t, models.PubCancelled)

	if err := env.worker.Handle(context.Background(), jobFor(t, pub, 1)); err != nil {
		t.Fatalf("Handle() error = %v, want nil for terminal row", err)
	}
	if len(env.ig.calls) != 0 {
		t.Errorf("publisher calls = %d, want 0", len(env.ig.calls))
	}
}

func TestWorkerAcksMissingRow(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	job := &queue.Job{ID: "job-x", Payload: json.RawMessage(`{"publication_id":"nope"}`), Attempts: 1}

	if err := env.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle() error = %v, want nil for deleted row", err)
	}
}

func TestWorkerTransientFailureKeepsPublishing(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	pub := env.seedPublication(t, models.PubScheduled)
	env.ig.errs = []error{&graph.APIError{Status: http.StatusInternalServerError, Message: "oops"}}

	err := env.worker.Handle(context.Background(), jobFor(t, pub, 1))
	if err == nil {
		t.Fatal("Handle() expected error for transient failure")
	}
	if queue.IsNoRetry(err) {
		t.Error("transient failure must stay retryable")
	}

	stored := env.pubs.get(pub.ID)
	if stored.Status != models.PubPublishing {
		t.Errorf("status = %s, want PUBLISHING between attempts", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("attempt error not recorded")
	}
}

func TestWorkerTransientFailureLastAttemptFails(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	pub := env.seedPublication(t, models.PubScheduled)
	env.ig.errs = []error{&graph.APIError{Status: http.StatusTooManyRequests, Message: "rate limited"}}

	err := env.worker.Handle(context.Background(), jobFor(t, pub, 3))
	if err == nil {
		t.Fatal("Handle() expected error")
	}

	stored := env.pubs.get(pub.ID)
	if stored.Status != models.PubFailed {
		t.Errorf("status = %s, want FAILED on exhausted attempts", stored.Status)
	}
	if stored.FailedAt == nil {
		t.Error("failed_at not set")
	}
}

func TestWorkerPermanentFailureSkipsRetries(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	pub := env.seedPublication(t, models.PubScheduled)
	env.ig.errs = []error{&graph.APIError{Status: http.StatusBadRequest, Code: 100, Message: "invalid media"}}

	err := env.worker.Handle(context.Background(), jobFor(t, pub, 1))
	if !queue.IsNoRetry(err) {
		t.Fatalf("Handle() error = %v, want NoRetry", err)
	}

	stored := env.pubs.get(pub.ID)
	if stored.Status != models.PubFailed {
		t.Errorf("status = %s, want FAILED", stored.Status)
	}
	if stored.ProviderResponse == nil {
		t.Error("provider error not recorded")
	}
}

func TestWorkerMissingRefreshTokenIsPermanent(t *testing.T) {
	env := newWorkerEnv(t, errRunner{err: credential.ErrMissingRefreshToken})
	pub := env.seedPublication(t, models.PubScheduled)

	err := env.worker.Handle(context.Background(), jobFor(t, pub, 1))
	if !queue.IsNoRetry(err) {
		t.Fatalf("Handle() error = %v, want NoRetry", err)
	}
	if got := env.pubs.get(pub.ID).Status; got != models.PubFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}

func TestWorkerAuthErrorAfterRefreshIsPermanent(t *testing.T) {
	env := newWorkerEnv(t, errRunner{err: &graph.APIError{Status: http.StatusUnauthorized, Code: 190}})
	pub := env.seedPublication(t, models.PubScheduled)

	err := env.worker.Handle(context.Background(), jobFor(t, pub, 1))
	if !queue.IsNoRetry(err) {
		t.Fatalf("Handle() error = %v, want NoRetry", err)
	}
}

func TestWorkerCancelRaceAcksQuietly(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	pub := env.seedPublication(t, models.PubScheduled)
	// Cancel lands between the queue claim and the worker's own CAS.
	env.pubs.CASStatus(context.Background(), pub.ID, models.PubScheduled, models.PubCancelled)

	if err := env.worker.Handle(context.Background(), jobFor(t, pub, 1)); err != nil {
		t.Fatalf("Handle() error = %v, want nil", err)
	}
	if len(env.ig.calls) != 0 {
		t.Errorf("publisher calls = %d, want 0 after cancel", len(env.ig.calls))
	}
	if got := env.pubs.get(pub.ID).Status; got != models.PubCancelled {
		t.Errorf("status = %s, want CANCELLED preserved", got)
	}
}

func TestWorkerRetryDeliveryResumesPublishing(t *testing.T) {
	// A redelivered job finds the row already in PUBLISHING from the
	// previous attempt and publishes it.
	env := newWorkerEnv(t, passRunner{})
	pub := env.seedPublication(t, models.PubPublishing)

	if err := env.worker.Handle(context.Background(), jobFor(t, pub, 2)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if got := env.pubs.get(pub.ID).Status; got != models.PubPublished {
		t.Errorf("status = %s, want PUBLISHED", got)
	}
}

func TestWorkerNotifiesLifecycleEvents(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	pub := env.seedPublication(t, models.PubScheduled)

	if err := env.worker.Handle(context.Background(), jobFor(t, pub, 1)); err != nil {
		t.Fatal(err)
	}

	env.notify.mu.Lock()
	defer env.notify.mu.Unlock()
	if len(env.notify.events) != 1 {
		t.Fatalf("events = %d, want 1", len(env.notify.events))
	}
	ev := env.notify.events[0]
	if ev.event != "publication.published" || ev.workspaceID != wsID || ev.brandID != brandID {
		t.Errorf("event = %+v", ev)
	}
}

func TestWorkerMalformedJobPayloadIsPermanent(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	job := &queue.Job{ID: "job-bad", Payload: json.RawMessage(`{`), Attempts: 1}

	err := env.worker.Handle(context.Background(), job)
	if !queue.IsNoRetry(err) {
		t.Fatalf("Handle() error = %v, want NoRetry", err)
	}
}

func TestWorkerDisconnectedAccountFails(t *testing.T) {
	env := newWorkerEnv(t, passRunner{})
	pub := env.seedPublication(t, models.PubScheduled)

	dir := env.worker.dir.(*fakeDirectory)
	dir.accounts[igAccount].Status = models.AccountDisconnected

	err := env.worker.Handle(context.Background(), jobFor(t, pub, 1))
	if !queue.IsNoRetry(err) {
		t.Fatalf("Handle() error = %v, want NoRetry", err)
	}
	if got := env.pubs.get(pub.ID).Status; got != models.PubFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}
