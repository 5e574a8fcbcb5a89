package calendar

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

type OAuthConfig struct {
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
}

// AuthCodeURL is where the business owner is redirected to grant calendar
// access. state carries the business id through the round trip.
func (c OAuthConfig) AuthCodeURL(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.ClientID)
	q.Set("redirect_uri", c.RedirectURL)
	q.Set("scope", c.Scope)
	q.Set("access_type", "offline")
	q.Set("state", state)
	return c.AuthURL + "?" + q.Encode()
}

type OAuthExchanger struct {
	cfg  OAuthConfig
	http *resty.Client
}

func NewOAuthExchanger(cfg OAuthConfig) *OAuthExchanger {
	return &OAuthExchanger{
		cfg:  cfg,
		http: resty.New().SetTimeout(10 * time.Second),
	}
}

func (e *OAuthExchanger) Exchange(ctx context.Context, code string) (Credentials, error) {
	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	resp, err := e.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"client_id":     e.cfg.ClientID,
			"client_secret": e.cfg.ClientSecret,
			"redirect_uri":  e.cfg.RedirectURL,
		}).
		SetResult(&out).
		Post(e.cfg.TokenURL)
	if err != nil {
		return Credentials{}, err
	}
	if resp.IsError() {
		return Credentials{}, fmt.Errorf("token exchange returned %s", resp.Status())
	}
	if out.AccessToken == "" {
		return Credentials{}, fmt.Errorf("token exchange returned no access token")
	}
	return Credentials{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}, nil
}
