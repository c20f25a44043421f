// Package invites implements the invitation lifecycle: create, resend,
// revoke and consent resolution.
//
// Invitations carry a time-bounded hashed secret. The plaintext leaves the
// service exactly once, inside the consent email sent on create or resend;
// it is never persisted or logged. The accept/decline transition itself is
// owned by an adjacent flow; this package only reads and expires.
package invites

import (
	"context"
	"errors"
	"time"
)

// Status is the invitation state. Transitions are monotonic: pending is the
// only non-terminal state and nothing returns to it.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

// Invitation is one consent request from an inviter to a contact. Rows are
// never hard-deleted. The raw contact address and the token hash stay out
// of JSON; clients only ever see the masked address.
type Invitation struct {
	ID                   string     `json:"id"`
	InviterID            string     `json:"inviter_id"`
	InviteeName          string     `json:"invitee_name"`
	ContactAddress       string     `json:"-"`
	ContactAddressMasked string     `json:"contact_address_masked"`
	PersonalMessage      string     `json:"personal_message,omitempty"`
	Status               Status     `json:"status"`
	TokenHash            string     `json:"-"`
	IssuedAt             time.Time  `json:"issued_at"`
	ExpiresAt            time.Time  `json:"expires_at"`
	ResendCount          int        `json:"resend_count"`
	LastResendAt         *time.Time `json:"last_resend_at,omitempty"`
}

// ConsentView is what an invitee sees when resolving a consent link.
type ConsentView struct {
	InviterDisplayName string `json:"inviter_display_name"`
	InviteeName        string `json:"invitee_name"`
}

var (
	ErrInvalidInput   = errors.New("invites: invalid input")
	ErrInvalidAddress = errors.New("invites: invalid contact address")
	// ErrCircleFull: pending invitations plus active relationships hit the cap.
	ErrCircleFull = errors.New("invites: maximum invitations and relationships reached")
	ErrNotFound   = errors.New("invites: not found")
	ErrNotPending = errors.New("invites: invitation is not pending")
	// ErrNotFoundOrNotPending collapses the two conditions of a failed
	// conditional update so callers cannot probe which one failed.
	ErrNotFoundOrNotPending = errors.New("invites: not found or not pending")
	ErrTokenInvalid         = errors.New("invites: consent token not recognized")
	ErrAlreadyUsed          = errors.New("invites: consent already resolved")
	ErrExpired              = errors.New("invites: invitation expired")
	// ErrNotSent: the row was written but the consent email failed. The
	// mutation is not rolled back; the caller may retry sending.
	ErrNotSent = errors.New("invites: invitation stored but notification failed")
)

// Store describes persistence operations required by the lifecycle.
// Conditional operations encode their precondition in the store layer so
// the race window between concurrent requests stays as narrow as the
// database allows.
type Store interface {
	// CreateInvitation counts the inviter's pending invitations plus
	// active relationships and inserts only while the total is under
	// capLimit, returning ErrCircleFull otherwise.
	CreateInvitation(ctx context.Context, inv *Invitation, capLimit int) error
	GetInvitation(ctx context.Context, id, inviterID string) (Invitation, error)
	ListInvitations(ctx context.Context, inviterID string) ([]Invitation, error)
	// RotateInvitationToken updates hash/expiry/resend bookkeeping for a
	// row that is still pending and owned by inviterID; zero rows
	// affected yields ErrNotFoundOrNotPending.
	RotateInvitationToken(ctx context.Context, id, inviterID, tokenHash string, expiresAt, resendAt time.Time) error
	// RevokeInvitation transitions pending → revoked under the same
	// conditional-update contract.
	RevokeInvitation(ctx context.Context, id, inviterID string) error
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (Invitation, error)
	MarkInvitationExpired(ctx context.Context, id string) error
	// InviterDisplayName reads the profile row for consent enrichment.
	InviterDisplayName(ctx context.Context, userID string) (string, error)
}
