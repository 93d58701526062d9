package visum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"
)

// tokenExpirySkew is subtracted from a token's reported lifetime so the
// client refreshes shortly before the service starts rejecting it.
const tokenExpirySkew = 30 * time.Second

// credentials attaches authentication to outgoing requests.
type credentials interface {
	// authorize sets the Authorization header on the request.
	authorize(ctx context.Context, req *retryablehttp.Request) error
	// refreshable reports whether invalidate can produce fresh credentials.
	refreshable() bool
	// invalidate discards cached credentials so the next authorize fetches
	// new ones.
	invalidate()
}

// staticKey authenticates every request with a fixed API key.
type staticKey struct {
	key string
}

func (s *staticKey) authorize(_ context.Context, req *retryablehttp.Request) error {
	req.Header.Set("Authorization", "Key "+s.key)
	return nil
}

func (s *staticKey) refreshable() bool { return false }

func (s *staticKey) invalidate() {}

// anonymous sends no credentials at all.
type anonymous struct{}

func (anonymous) authorize(context.Context, *retryablehttp.Request) error { return nil }

func (anonymous) refreshable() bool { return false }

func (anonymous) invalidate() {}

// tokenRequest is the body sent to the token endpoint.
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// tokenResponse is the token endpoint's reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// tokenSource exchanges client credentials for short-lived access tokens and
// holds the current one in process memory only. Concurrent requests that all
// need a fresh token share a single exchange.
type tokenSource struct {
	clientID     string
	clientSecret string
	client       *Client

	group singleflight.Group

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenSource(clientID, clientSecret string, c *Client) *tokenSource {
	return &tokenSource{
		clientID:     clientID,
		clientSecret: clientSecret,
		client:       c,
	}
}

func (t *tokenSource) authorize(ctx context.Context, req *retryablehttp.Request) error {
	token, err := t.accessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (t *tokenSource) refreshable() bool { return true }

func (t *tokenSource) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
	t.expiresAt = time.Time{}
}

// accessToken returns the cached token while it is still fresh, otherwise
// runs one coalesced exchange.
func (t *tokenSource) accessToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.token != "" && time.Now().Before(t.expiresAt) {
		token := t.token
		t.mu.Unlock()
		return token, nil
	}
	t.mu.Unlock()

	// The first caller's context governs the shared exchange.
	v, err, _ := t.group.Do("token", func() (any, error) {
		return t.exchange(ctx)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// exchange posts the client credentials to the token endpoint and caches the
// returned access token. It bypasses Client.do, which would try to authorize
// the request it is serving.
func (t *tokenSource) exchange(ctx context.Context) (string, error) {
	payload, err := json.Marshal(tokenRequest{
		ClientID:     t.clientID,
		ClientSecret: t.clientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.client.apiURL(tokenPath, nil), payload)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.client.logger.Error("Failed to close token response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", newAPIError(resp.StatusCode, body)
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("failed to unmarshal token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	lifetime := time.Duration(token.ExpiresIn) * time.Second
	if lifetime > tokenExpirySkew {
		lifetime -= tokenExpirySkew
	}

	t.mu.Lock()
	t.token = token.AccessToken
	t.expiresAt = time.Now().Add(lifetime)
	t.mu.Unlock()

	t.client.logger.DebugContext(ctx, "Exchanged client credentials for access token",
		"expires_in_seconds", token.ExpiresIn,
	)

	return token.AccessToken, nil
}
