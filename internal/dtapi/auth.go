package dtapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenURL is the public vendor OAuth token endpoint.
const DefaultTokenURL = "https://identity.disruptive-technologies.com/oauth2/token"

const jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// tokenSource exchanges a signed service-account assertion for a bearer
// token and caches it until shortly before expiry.
type tokenSource struct {
	tokenURL string
	creds    Credentials
	client   *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(tokenURL string, creds Credentials, client *http.Client) *tokenSource {
	return &tokenSource{
		tokenURL: tokenURL,
		creds:    creds,
		client:   client,
	}
}

func (ts *tokenSource) accessToken(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expires) > 30*time.Second {
		return ts.token, nil
	}

	assertion, err := ts.assertion(time.Now())
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrant)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: token endpoint http %d", ErrAuth, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuth)
	}

	ts.token = payload.AccessToken
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	ts.expires = time.Now().Add(lifetime)
	return ts.token, nil
}

func (ts *tokenSource) assertion(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": ts.creds.Email,
		"aud": ts.tokenURL,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = ts.creds.KeyID
	signed, err := token.SignedString([]byte(ts.creds.Secret))
	if err != nil {
		return "", fmt.Errorf("dtapi: sign assertion: %w", err)
	}
	return signed, nil
}
