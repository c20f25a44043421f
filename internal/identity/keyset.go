package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeysetClaims are the verified claims returned by KeysetVerifier.
type KeysetClaims struct {
	Email    string   `json:"email"`
	TokenUse string   `json:"token_use"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// KeysetVerifier checks the full cryptographic signature of a token against
// the provider's published key set, validating issuer and algorithm. It is
// the strict sibling of the Chain fallback: same provider, no trust
// shortcut. Fetched keys are cached; an unknown kid triggers one refresh.
type KeysetVerifier struct {
	issuer  string
	jwksURL string
	client  *http.Client
	timeout time.Duration

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// KeysetOption configures the verifier.
type KeysetOption func(*KeysetVerifier)

// WithKeysetHTTPClient overrides the HTTP client used for JWKS fetches.
func WithKeysetHTTPClient(client *http.Client) KeysetOption {
	return func(v *KeysetVerifier) {
		if client != nil {
			v.client = client
		}
	}
}

// WithKeysetTimeout bounds each JWKS fetch.
func WithKeysetTimeout(d time.Duration) KeysetOption {
	return func(v *KeysetVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewKeysetVerifier builds a strict verifier for tokens issued by the given
// provider domain.
func NewKeysetVerifier(providerDomain string, opts ...KeysetOption) *KeysetVerifier {
	issuer := strings.TrimRight(strings.TrimSpace(providerDomain), "/")
	v := &KeysetVerifier{
		issuer:  issuer,
		jwksURL: issuer + "/.well-known/jwks.json",
		client:  &http.Client{},
		timeout: defaultIntrospectionTimeout,
		keys:    map[string]*rsa.PublicKey{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyToken validates signature, issuer and algorithm and returns the
// typed claims. The call blocks on at most one key-set fetch.
func (v *KeysetVerifier) VerifyToken(ctx context.Context, raw string) (*KeysetClaims, error) {
	claims := &KeysetClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("kid header missing")
		}
		return v.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return nil, ErrWrongIssuer
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrUnresolved
	}
	return claims, nil
}

func (v *KeysetVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key := v.keys[kid]
	v.mu.RUnlock()
	if key != nil {
		return key, nil
	}

	if err := v.refresh(ctx); err != nil {
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key := v.keys[kid]; key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("identity: no key published for kid %q", kid)
}

type jwksDocument struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *KeysetVerifier) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("identity: build jwks request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity: fetch jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("identity: jwks fetch returned %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("identity: decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := rsaKeyFromJWK(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("identity: jwks contained no usable keys")
	}

	v.mu.Lock()
	v.keys = keys
	v.mu.Unlock()
	return nil
}

func rsaKeyFromJWK(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, err
	}
	exponent := new(big.Int).SetBytes(eBytes)
	if !exponent.IsInt64() || exponent.Int64() <= 0 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(exponent.Int64()),
	}, nil
}
