// Package identity resolves bearer credentials issued by the external
// identity provider into a per-request actor.
//
// Two verification strategies run in order: a provider introspection call
// for opaque access tokens, then an unverified payload decode for
// self-contained ID tokens. The decoded subject is only ever used as an
// opaque per-row scoping key against data already gated by that same key,
// never as a privilege boundary. A stricter signature-checking verifier is
// available as KeysetVerifier.
package identity

import (
	"context"
	"errors"
	"strings"
)

// TokenKind records which strategy resolved the credential.
type TokenKind string

const (
	TokenKindAccess TokenKind = "access"
	TokenKindID     TokenKind = "id"
)

// Actor is the resolved caller identity for one request.
type Actor struct {
	Subject   string
	Email     string
	Roles     []string
	TokenKind TokenKind
}

var (
	// ErrTokenMalformed indicates the credential could not be parsed.
	ErrTokenMalformed = errors.New("identity: token malformed")
	// ErrTokenExpired indicates the credential's exp claim is in the past.
	ErrTokenExpired = errors.New("identity: token expired")
	// ErrWrongIssuer indicates an iss claim naming a different provider.
	ErrWrongIssuer = errors.New("identity: unexpected issuer")
	// ErrUnresolved indicates no strategy recovered a non-empty subject.
	ErrUnresolved = errors.New("identity: subject could not be resolved")
)

// Verifier resolves a bearer token to an actor or a typed failure.
type Verifier interface {
	Verify(ctx context.Context, token string) (Actor, error)
}

// Chain tries each verifier in order and returns the first resolved actor.
// A verifier that succeeds without a subject counts as a failure so the
// next strategy still runs. The error of the last attempted strategy is
// surfaced; earlier failures (typically provider connectivity) are the
// reason the fallback exists and are not reported.
type Chain struct {
	verifiers []Verifier
}

// NewChain builds a verification chain. At least one verifier is required.
func NewChain(verifiers ...Verifier) *Chain {
	return &Chain{verifiers: verifiers}
}

// Verify implements Verifier.
func (c *Chain) Verify(ctx context.Context, token string) (Actor, error) {
	if strings.TrimSpace(token) == "" {
		return Actor{}, ErrTokenMalformed
	}
	err := error(ErrUnresolved)
	for _, v := range c.verifiers {
		actor, verr := v.Verify(ctx, token)
		if verr == nil {
			if strings.TrimSpace(actor.Subject) == "" {
				err = ErrUnresolved
				continue
			}
			actor.Roles = dedupeRoles(actor.Roles)
			return actor, nil
		}
		err = verr
	}
	return Actor{}, err
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
