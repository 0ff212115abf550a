package strategy

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/personacore/core/internal/domain/corerr"
	"github.com/personacore/core/internal/port/httpclient"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

const googleTokenExchangeTimeout = 60 * time.Second

type googleTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// googleOAuthStrategy returns a credential's access_token field directly
// when present, otherwise exchanges its refresh_token for a fresh one.
type googleOAuthStrategy struct {
	http httpclient.Client
}

func (s *googleOAuthStrategy) Name() string { return "google" }

func (s *googleOAuthStrategy) IsOAuth(fields map[string]string) bool {
	_, ok := fields["refresh_token"]
	return ok
}

func (s *googleOAuthStrategy) ResolveAuthToken(ctx context.Context, _ map[string]string, fields map[string]string) (string, error) {
	if tok := fields["access_token"]; tok != "" {
		return tok, nil
	}

	refreshToken := fields["refresh_token"]
	if refreshToken == "" {
		return "", nil
	}
	if s.http == nil {
		return "", corerr.Internal("strategy: google oauth requires an http client", nil)
	}
	clientID := fields["client_id"]
	clientSecret := fields["client_secret"]
	if clientID == "" || clientSecret == "" {
		return "", corerr.Auth("strategy: google oauth credential is missing client_id/client_secret", nil)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	ctx, cancel := context.WithTimeout(ctx, googleTokenExchangeTimeout)
	defer cancel()

	resp, err := s.http.Post(ctx, googleTokenURL,
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		[]byte(form.Encode()))
	if err != nil {
		return "", corerr.NetworkOffline("strategy: google token exchange request failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", corerr.Auth("strategy: google token exchange returned status "+strconv.Itoa(resp.StatusCode), nil)
	}

	var out googleTokenResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", corerr.Serde("strategy: google token exchange response is not valid JSON", err)
	}
	return out.AccessToken, nil
}

func (s *googleOAuthStrategy) ApplyAuth(headers map[string]string, token string) {
	if token == "" {
		return
	}
	headers["Authorization"] = "Bearer " + token
}

