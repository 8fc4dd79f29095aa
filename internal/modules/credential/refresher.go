package credential

import (
	"context"
	"net/url"
	"time"

	"github.com/publora/core/internal/models"
	"github.com/publora/core/internal/pkg/graph"
)

// GraphRefresher refreshes tokens through the Graph OAuth endpoint
// using the long-lived token exchange.
type GraphRefresher struct {
	client    *graph.Client
	appID     string
	appSecret string
}

func NewGraphRefresher(client *graph.Client, appID, appSecret string) *GraphRefresher {
	return &GraphRefresher{client: client, appID: appID, appSecret: appSecret}
}

func (r *GraphRefresher) Refresh(ctx context.Context, account *models.SocialAccountModel) (*TokenSet, error) {
	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {r.appID},
		"client_secret":     {r.appSecret},
		"fb_exchange_token": {account.RefreshToken},
	}

	var out struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := r.client.Get(ctx, "oauth/access_token", "", params, &out); err != nil {
		return nil, err
	}

	ts := &TokenSet{AccessToken: out.AccessToken, TokenType: out.TokenType}
	if out.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		ts.Expiry = &expiry
	}
	return ts, nil
}
