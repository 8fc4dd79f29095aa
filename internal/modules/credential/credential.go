// Package credential keeps OAuth tokens for connected social accounts
// fresh. Tokens are mutated in place on the account row; a publish
// attempt gets at most one refresh, either eagerly before the call or
// reactively after a single token rejection.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/pkg/graph"
	"go.uber.org/zap"
)

// ErrMissingRefreshToken means a refresh was required but the account
// has no refresh token stored. The account must be reconnected; the
// failure is permanent.
var ErrMissingRefreshToken = errors.New("credential: no refresh token stored, account must be reconnected")

// expirySkew is how close to expiry a token may get before it is
// refreshed ahead of use.
const expirySkew = 60 * time.Second

// TokenSet is the result of a successful token refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	Expiry       *time.Time
}

// Store loads and persists account credentials.
type Store interface {
	Get(ctx context.Context, accountID string) (*models.SocialAccountModel, error)
	SaveTokens(ctx context.Context, accountID string, ts TokenSet) error
	MarkError(ctx context.Context, accountID, note string) error
}

// Refresher exchanges the stored refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, account *models.SocialAccountModel) (*TokenSet, error)
}

// Manager coordinates eager and reactive refreshes.
type Manager struct {
	store     Store
	refresher Refresher
	logger    *zap.Logger
	now       func() time.Time
}

func NewManager(store Store, refresher Refresher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		refresher: refresher,
		logger:    logger,
		now:       time.Now,
	}
}

// WithFreshToken runs fn with a usable access token for the account.
//
// If the stored token is missing, has no known expiry, or expires
// within the skew window, it is refreshed before fn runs. If fn then
// fails with a token rejection and no eager refresh happened, the
// account is re-read (another worker may have refreshed it already),
// refreshed at most once, and fn is retried exactly once. Refreshed
// tokens are persisted before fn sees them.
func (m *Manager) WithFreshToken(ctx context.Context, account *models.SocialAccountModel, fn func(token string) error) error {
	refreshed := false
	token := account.AccessToken

	if m.needsRefresh(account) {
		ts, err := m.refresh(ctx, account)
		if err != nil {
			return err
		}
		token = ts.AccessToken
		refreshed = true
	}

	err := fn(token)
	if err == nil || refreshed || !graph.IsAuthError(err) {
		return err
	}

	m.logger.Info("access token rejected, refreshing",
		zap.String("account_id", account.ID),
		zap.String("platform", string(account.Platform)))

	// Re-read before spending our one refresh: the losing side of a
	// concurrent refresh race must use the winner's token instead of
	// invalidating it with a second exchange.
	current, loadErr := m.store.Get(ctx, account.ID)
	if loadErr != nil {
		return err
	}
	if current.AccessToken != "" && current.AccessToken != token {
		*account = *current
		return fn(current.AccessToken)
	}

	ts, refreshErr := m.refresh(ctx, current)
	if refreshErr != nil {
		return refreshErr
	}
	*account = *current
	return fn(ts.AccessToken)
}

func (m *Manager) needsRefresh(a *models.SocialAccountModel) bool {
	if a.AccessToken == "" {
		return true
	}
	if a.TokenExpiry == nil {
		return true
	}
	return !a.TokenExpiry.After(m.now().Add(expirySkew))
}

// refresh exchanges the refresh token and persists the result onto the
// account row before returning.
func (m *Manager) refresh(ctx context.Context, a *models.SocialAccountModel) (*TokenSet, error) {
	if a.RefreshToken == "" {
		note := "token refresh required but no refresh token is stored"
		if err := m.store.MarkError(ctx, a.ID, note); err != nil {
			m.logger.Warn("mark account error failed", zap.String("account_id", a.ID), zap.Error(err))
		}
		return nil, ErrMissingRefreshToken
	}

	ts, err := m.refresher.Refresh(ctx, a)
	if err != nil {
		if graph.IsAuthError(err) {
			if markErr := m.store.MarkError(ctx, a.ID, "refresh token rejected by provider"); markErr != nil {
				m.logger.Warn("mark account error failed", zap.String("account_id", a.ID), zap.Error(markErr))
			}
		}
		return nil, err
	}

	if ts.RefreshToken == "" {
		ts.RefreshToken = a.RefreshToken
	}
	if err := m.store.SaveTokens(ctx, a.ID, *ts); err != nil {
		return nil, err
	}

	a.AccessToken = ts.AccessToken
	a.RefreshToken = ts.RefreshToken
	a.TokenExpiry = ts.Expiry
	if ts.TokenType != "" {
		a.TokenType = ts.TokenType
	}
	if ts.Scope != "" {
		a.Scope = ts.Scope
	}

	m.logger.Info("access token refreshed", zap.String("account_id", a.ID))
	return ts, nil
}
