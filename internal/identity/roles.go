package identity

import (
	"context"
	"fmt"
)

// RoleStore looks up active role memberships for a resolved user.
type RoleStore interface {
	RolesForUser(ctx context.Context, userID string) ([]string, error)
}

// Authorizer completes the per-request authorization context. Roles carried
// in token claims win; otherwise the store is consulted.
type Authorizer struct {
	store RoleStore
}

// NewAuthorizer builds an authorizer with an optional store fallback.
func NewAuthorizer(store RoleStore) *Authorizer {
	return &Authorizer{store: store}
}

// Resolve fills in the actor's roles if the credential carried none.
func (a *Authorizer) Resolve(ctx context.Context, actor Actor) (Actor, error) {
	if len(actor.Roles) > 0 || a == nil || a.store == nil {
		return actor, nil
	}
	roles, err := a.store.RolesForUser(ctx, actor.Subject)
	if err != nil {
		return Actor{}, fmt.Errorf("identity: role lookup: %w", err)
	}
	actor.Roles = dedupeRoles(roles)
	return actor, nil
}

// HasAnyRole reports whether the actor's roles intersect the required set.
func (a Actor) HasAnyRole(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(a.Roles))
	for _, r := range a.Roles {
		have[r] = struct{}{}
	}
	for _, r := range dedupeRoles(required) {
		if _, ok := have[r]; ok {
			return true
		}
	}
	return false
}
