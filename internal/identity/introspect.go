package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultIntrospectionTimeout = 5 * time.Second

// IntrospectionVerifier resolves opaque access tokens by calling the
// provider's user-info operation with the token itself. This is the
// preferred strategy: the provider checks signature, expiry and revocation
// on its side.
type IntrospectionVerifier struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// IntrospectionOption configures the verifier.
type IntrospectionOption func(*IntrospectionVerifier)

// WithHTTPClient overrides the HTTP client (useful for tests).
func WithHTTPClient(client *http.Client) IntrospectionOption {
	return func(v *IntrospectionVerifier) {
		if client != nil {
			v.client = client
		}
	}
}

// WithIntrospectionTimeout bounds each provider call.
func WithIntrospectionTimeout(d time.Duration) IntrospectionOption {
	return func(v *IntrospectionVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewIntrospectionVerifier builds a verifier against the given provider
// domain, e.g. "https://auth.careloop.org".
func NewIntrospectionVerifier(providerDomain string, opts ...IntrospectionOption) *IntrospectionVerifier {
	v := &IntrospectionVerifier{
		endpoint: strings.TrimRight(providerDomain, "/") + "/oauth2/userInfo",
		client:   &http.Client{},
		timeout:  defaultIntrospectionTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type userInfoResponse struct {
	Sub      string   `json:"sub"`
	Email    string   `json:"email"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// Verify implements Verifier.
func (v *IntrospectionVerifier) Verify(ctx context.Context, token string) (Actor, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return Actor{}, fmt.Errorf("identity: build introspection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Actor{}, fmt.Errorf("identity: introspection call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Actor{}, fmt.Errorf("identity: introspection returned %d", resp.StatusCode)
	}

	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Actor{}, fmt.Errorf("identity: decode introspection response: %w", err)
	}

	subject := strings.TrimSpace(info.Sub)
	if subject == "" {
		subject = strings.TrimSpace(info.Username)
	}
	if subject == "" {
		return Actor{}, ErrUnresolved
	}
	return Actor{
		Subject:   subject,
		Email:     strings.ToLower(strings.TrimSpace(info.Email)),
		Roles:     info.Roles,
		TokenKind: TokenKindAccess,
	}, nil
}
