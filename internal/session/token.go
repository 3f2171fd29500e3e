package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/airdial/airdial/pkg/telephony"
)

// defaultTokenTTL is assumed when the issued token carries no readable
// expiry claim.
const defaultTokenTTL = time.Hour

// HTTPTokenSource fetches capability tokens from the token-issuing service.
// It implements [telephony.TokenSource].
type HTTPTokenSource struct {
	url    string
	client *http.Client
}

// NewHTTPTokenSource creates a token source for the given issuer endpoint.
func NewHTTPTokenSource(url string) *HTTPTokenSource {
	return &HTTPTokenSource{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Token implements [telephony.TokenSource]. The issuer responds with
// {"token": "<jwt>"}; the expiry is read from the JWT's exp claim without
// verifying the signature — verification is the vendor's job, the agent
// only needs the timestamp to schedule a proactive refresh.
func (s *HTTPTokenSource) Token(ctx context.Context) (telephony.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return telephony.Token{}, fmt.Errorf("session: build token request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return telephony.Token{}, fmt.Errorf("session: fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return telephony.Token{}, fmt.Errorf("session: token endpoint returned %s", resp.Status)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return telephony.Token{}, fmt.Errorf("session: decode token response: %w", err)
	}
	if body.Token == "" {
		return telephony.Token{}, fmt.Errorf("session: token endpoint returned an empty token")
	}

	expires, ok := tokenExpiry(body.Token)
	if !ok {
		expires = time.Now().Add(defaultTokenTTL)
	}
	return telephony.Token{Value: body.Token, ExpiresAt: expires}, nil
}

// tokenExpiry extracts the exp claim from an unverified JWT.
func tokenExpiry(raw string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
