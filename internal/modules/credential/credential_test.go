package credential

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/pkg/graph"
)

type fakeStore struct {
	account    *models.SocialAccountModel
	saved      []TokenSet
	errorNotes []string
}

func (f *fakeStore) Get(_ context.Context, accountID string) (*models.SocialAccountModel, error) {
	if f.account == nil || f.account.ID != accountID {
		return nil, errors.New("account not found")
	}
	copied := *f.account
	return &copied, nil
}

func (f *fakeStore) SaveTokens(_ context.Context, _ string, ts TokenSet) error {
	f.saved = append(f.saved, ts)
	f.account.AccessToken = ts.AccessToken
	if ts.RefreshToken != "" {
		f.account.RefreshToken = ts.RefreshToken
	}
	f.account.TokenExpiry = ts.Expiry
	return nil
}

func (f *fakeStore) MarkError(_ context.Context, _ string, note string) error {
	f.errorNotes = append(f.errorNotes, note)
	f.account.Status = models.AccountError
	f.account.StatusNote = note
	return nil
}

type fakeRefresher struct {
	calls int
	next  TokenSet
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, _ *models.SocialAccountModel) (*TokenSet, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ts := f.next
	return &ts, nil
}

func testAccount(token string, expiry time.Time) *models.SocialAccountModel {
	a := &models.SocialAccountModel{
		WorkspaceID:  "ws-1",
		Platform:     models.PlatformInstagram,
		AccessToken:  token,
		RefreshToken: "refresh-1",
		TokenExpiry:  &expiry,
		Status:       models.AccountActive,
	}
	a.ID = "acc-1"
	return a
}

func authError() error {
	return &graph.APIError{Status: http.StatusUnauthorized, Code: 190, Message: "token expired"}
}

func TestEagerRefreshWhenExpiring(t *testing.T) {
	account := testAccount("stale", time.Now().Add(30*time.Second))
	store := &fakeStore{account: account}
	expiry := time.Now().Add(time.Hour)
	refresher := &fakeRefresher{next: TokenSet{AccessToken: "fresh", Expiry: &expiry}}
	m := NewManager(store, refresher, nil)

	var seen []string
	err := m.WithFreshToken(context.Background(), account, func(token string) error {
		seen = append(seen, token)
		return nil
	})
	if err != nil {
		t.Fatalf("WithFreshToken() error = %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher calls = %d, want 1", refresher.calls)
	}
	if len(seen) != 1 || seen[0] != "fresh" {
		t.Errorf("fn tokens = %v, want [fresh]", seen)
	}
	if len(store.saved) != 1 {
		t.Errorf("SaveTokens calls = %d, want 1 (persist before use)", len(store.saved))
	}
}

func TestNoRefreshWhenTokenFresh(t *testing.T) {
	account := testAccount("good", time.Now().Add(time.Hour))
	store := &fakeStore{account: account}
	refresher := &fakeRefresher{}
	m := NewManager(store, refresher, nil)

	err := m.WithFreshToken(context.Background(), account, func(token string) error {
		if token != "good" {
			t.Errorf("token = %q, want good", token)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithFreshToken() error = %v", err)
	}
	if refresher.calls != 0 {
		t.Errorf("refresher calls = %d, want 0", refresher.calls)
	}
}

func TestReactiveRefreshRetriesExactlyOnce(t *testing.T) {
	account := testAccount("rejected", time.Now().Add(time.Hour))
	store := &fakeStore{account: account}
	refresher := &fakeRefresher{next: TokenSet{AccessToken: "fresh"}}
	m := NewManager(store, refresher, nil)

	var seen []string
	err := m.WithFreshToken(context.Background(), account, func(token string) error {
		seen = append(seen, token)
		if token == "rejected" {
			return authError()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithFreshToken() error = %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher calls = %d, want 1", refresher.calls)
	}
	want := []string{"rejected", "fresh"}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Errorf("fn tokens = %v, want %v", seen, want)
	}
}

func TestNoSecondRefreshAfterEagerRefresh(t *testing.T) {
	account := testAccount("stale", time.Now().Add(10*time.Second))
	store := &fakeStore{account: account}
	refresher := &fakeRefresher{next: TokenSet{AccessToken: "fresh"}}
	m := NewManager(store, refresher, nil)

	calls := 0
	err := m.WithFreshToken(context.Background(), account, func(string) error {
		calls++
		return authError()
	})
	if !graph.IsAuthError(err) {
		t.Fatalf("WithFreshToken() error = %v, want auth error passed through", err)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher calls = %d, want 1 (no reactive refresh after eager)", refresher.calls)
	}
	if calls != 1 {
		t.Errorf("fn calls = %d, want 1", calls)
	}
}

func TestReactiveRefreshUsesPeerToken(t *testing.T) {
	// Another worker refreshed the token between our read and the
	// rejection: the re-read returns a different token and no refresh
	// should be spent.
	account := testAccount("old", time.Now().Add(time.Hour))
	stored := *account
	stored.AccessToken = "peer-refreshed"
	store := &fakeStore{account: &stored}
	refresher := &fakeRefresher{}
	m := NewManager(store, refresher, nil)

	var seen []string
	err := m.WithFreshToken(context.Background(), account, func(token string) error {
		seen = append(seen, token)
		if token == "old" {
			return authError()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithFreshToken() error = %v", err)
	}
	if refresher.calls != 0 {
		t.Errorf("refresher calls = %d, want 0", refresher.calls)
	}
	if len(seen) != 2 || seen[1] != "peer-refreshed" {
		t.Errorf("fn tokens = %v, want retry with peer-refreshed", seen)
	}
}

func TestMissingRefreshTokenIsPermanent(t *testing.T) {
	account := testAccount("stale", time.Now().Add(-time.Minute))
	account.RefreshToken = ""
	store := &fakeStore{account: account}
	m := NewManager(store, &fakeRefresher{}, nil)

	err := m.WithFreshToken(context.Background(), account, func(string) error {
		t.Fatal("fn should not run without a usable token")
		return nil
	})
	if !errors.Is(err, ErrMissingRefreshToken) {
		t.Fatalf("error = %v, want ErrMissingRefreshToken", err)
	}
	if store.account.Status != models.AccountError {
		t.Errorf("account status = %s, want ERROR", store.account.Status)
	}
	if len(store.errorNotes) != 1 {
		t.Errorf("MarkError calls = %d, want 1", len(store.errorNotes))
	}
}

func TestRejectedRefreshTokenMarksAccount(t *testing.T) {
	account := testAccount("stale", time.Now().Add(-time.Minute))
	store := &fakeStore{account: account}
	refresher := &fakeRefresher{err: authError()}
	m := NewManager(store, refresher, nil)

	err := m.WithFreshToken(context.Background(), account, func(string) error { return nil })
	if !graph.IsAuthError(err) {
		t.Fatalf("error = %v, want auth error from refresh", err)
	}
	if store.account.Status != models.AccountError {
		t.Errorf("account status = %s, want ERROR", store.account.Status)
	}
}
