// Package relationships manages the active half of the consent flow:
// relationships created when an invitation is accepted (a transition owned
// by an adjacent flow and only consumed here), mutated by nudge, remove and
// opt-out.
package relationships

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the relationship state. removed is terminal; there is no
// reactivation path in this core.
type Status string

const (
	StatusActive  Status = "active"
	StatusRemoved Status = "removed"
)

// Relationship is one active (or removed) circle membership. Rows are never
// hard-deleted. The raw contact address and the opt-out slug never leave
// the service in JSON.
type Relationship struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	DisplayName     string     `json:"display_name"`
	ContactAddress  string     `json:"-"`
	Status          Status     `json:"status"`
	LastNudgedAt    *time.Time `json:"last_nudged_at,omitempty"`
	OptOutSlug      string     `json:"-"`
	PreferenceOrder int        `json:"preference_order"`
	CreatedAt       time.Time  `json:"created_at"`
}

var (
	ErrInvalidInput = errors.New("relationships: invalid input")
	ErrNotFound     = errors.New("relationships: not found")
	ErrNotActive    = errors.New("relationships: not active")
	// ErrNotSent: the nudge timestamp was recorded but the reminder email
	// failed. The timestamp is not rolled back; the cooldown has
	// started, which keeps retries from repeating sends.
	ErrNotSent = errors.New("relationships: nudge recorded but notification failed")
)

// NewOptOutSlug mints the long-lived secret identifying one relationship
// for self-service removal. Independent of invitation tokens and
// non-expiring.
func NewOptOutSlug() string {
	return uuid.NewString()
}

// Store describes persistence operations for relationships. Conditional
// updates encode their status precondition in the WHERE clause.
type Store interface {
	GetRelationship(ctx context.Context, id, ownerID string) (Relationship, error)
	ListRelationships(ctx context.Context, ownerID string) ([]Relationship, error)
	// TouchLastNudged advances last_nudged_at for an active row scoped by
	// id and owner; zero rows affected yields ErrNotFound.
	TouchLastNudged(ctx context.Context, id, ownerID string, at time.Time) error
	// RemoveRelationship transitions active → removed under the same
	// contract.
	RemoveRelationship(ctx context.Context, id, ownerID string) error
	// RemoveBySlug removes the single active row matching the opt-out
	// slug and returns it; no active match yields ErrNotFound, which
	// makes the slug behave as single-use.
	RemoveBySlug(ctx context.Context, slug string) (Relationship, error)
	// OwnerDisplayName reads the profile row for reminder enrichment.
	OwnerDisplayName(ctx context.Context, userID string) (string, error)
}
