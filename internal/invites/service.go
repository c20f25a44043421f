package invites

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"careloop.org/internal/cooldown"
	"careloop.org/internal/ids"
	"careloop.org/internal/notify"
	"careloop.org/internal/obs"
)

const (
	// DefaultCircleCap bounds pending invitations plus active
	// relationships per inviter.
	DefaultCircleCap = 5

	consentValidity = 14 * 24 * time.Hour
	resendCooldown  = time.Hour
)

// Service drives the invitation lifecycle.
type Service struct {
	store          Store
	dispatcher     notify.Dispatcher
	consentBaseURL string
	capLimit       int
	now            func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithCircleCap overrides the cardinality cap.
func WithCircleCap(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.capLimit = limit
		}
	}
}

// NewService constructs the lifecycle manager. consentBaseURL is the page
// the emailed secret links to.
func NewService(store Store, dispatcher notify.Dispatcher, consentBaseURL string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("invites: store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("invites: dispatcher is required")
	}
	s := &Service{
		store:          store,
		dispatcher:     dispatcher,
		consentBaseURL: strings.TrimRight(consentBaseURL, "/"),
		capLimit:       DefaultCircleCap,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create validates and stores a new pending invitation, then emails the
// consent link. A dispatch failure after the insert returns the stored
// invitation together with ErrNotSent; the row is kept so a retry does not
// duplicate it.
func (s *Service) Create(ctx context.Context, actorID, inviteeName, contactAddress, personalMessage string) (Invitation, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return Invitation{}, fmt.Errorf("%w: actor id is required", ErrInvalidInput)
	}
	inviteeName = strings.TrimSpace(inviteeName)
	if inviteeName == "" {
		return Invitation{}, fmt.Errorf("%w: invitee name is required", ErrInvalidInput)
	}
	addr, err := normalizeAddress(contactAddress)
	if err != nil {
		return Invitation{}, err
	}

	secret, err := newConsentSecret()
	if err != nil {
		return Invitation{}, err
	}
	now := s.now().UTC()
	inv := Invitation{
		ID:                   ids.New(),
		InviterID:            actorID,
		InviteeName:          inviteeName,
		ContactAddress:       addr,
		ContactAddressMasked: maskAddress(addr),
		PersonalMessage:      strings.TrimSpace(personalMessage),
		Status:               StatusPending,
		TokenHash:            HashToken(secret),
		IssuedAt:             now,
		ExpiresAt:            now.Add(consentValidity),
	}

	// The cap is re-checked adjacent to the insert, inside the store, to
	// keep the window between concurrent creates as small as possible.
	if err := s.store.CreateInvitation(ctx, &inv, s.capLimit); err != nil {
		return Invitation{}, err
	}
	obs.ObserveInvitationCreated()

	if err := s.sendConsent(ctx, inv, secret); err != nil {
		return inv, fmt.Errorf("%w: %v", ErrNotSent, err)
	}
	return inv, nil
}

// Resend rotates the consent secret of a pending invitation, extends its
// expiry and re-dispatches the email. A 1-hour cooldown applies from the
// previous resend. Dispatch failure semantics mirror Create.
func (s *Service) Resend(ctx context.Context, actorID, invitationID string) (Invitation, error) {
	inv, err := s.store.GetInvitation(ctx, invitationID, actorID)
	if err != nil {
		return Invitation{}, err
	}
	if inv.Status != StatusPending {
		return Invitation{}, ErrNotPending
	}

	var last time.Time
	if inv.LastResendAt != nil {
		last = *inv.LastResendAt
	}
	now := s.now().UTC()
	if allowed, retryAfter := cooldown.Allow(last, resendCooldown, now); !allowed {
		return Invitation{}, &cooldown.RateLimitedError{RetryAfter: retryAfter}
	}

	secret, err := newConsentSecret()
	if err != nil {
		return Invitation{}, err
	}
	expiresAt := now.Add(consentValidity)
	if err := s.store.RotateInvitationToken(ctx, invitationID, actorID, HashToken(secret), expiresAt, now); err != nil {
		return Invitation{}, err
	}
	inv.TokenHash = HashToken(secret)
	inv.ExpiresAt = expiresAt
	inv.ResendCount++
	inv.LastResendAt = &now

	if err := s.sendConsent(ctx, inv, secret); err != nil {
		return inv, fmt.Errorf("%w: %v", ErrNotSent, err)
	}
	return inv, nil
}

// Revoke transitions a pending invitation to revoked. The failure mode is
// a single ErrNotFoundOrNotPending regardless of whether the row is
// missing, owned by someone else or no longer pending.
func (s *Service) Revoke(ctx context.Context, actorID, invitationID string) error {
	return s.store.RevokeInvitation(ctx, invitationID, actorID)
}

// List returns the actor's invitations, newest first.
func (s *Service) List(ctx context.Context, actorID string) ([]Invitation, error) {
	return s.store.ListInvitations(ctx, actorID)
}

// ResolveConsent looks an invitation up by its secret. It is public by
// design: the secret is the authorization. Expiry is observed lazily here;
// the pending row flips to expired on first sight and stays expired. The
// accept/decline transition is not performed here.
func (s *Service) ResolveConsent(ctx context.Context, token string) (ConsentView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ConsentView{}, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	inv, err := s.store.GetInvitationByTokenHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return ConsentView{}, ErrTokenInvalid
	}
	if err != nil {
		return ConsentView{}, err
	}

	switch inv.Status {
	case StatusPending:
	case StatusExpired:
		return ConsentView{}, ErrExpired
	default:
		return ConsentView{}, ErrAlreadyUsed
	}

	if s.now().UTC().After(inv.ExpiresAt) {
		// Best effort: the caller gets Expired even if the flip loses a
		// race, and the next read converges on the same answer.
		_ = s.store.MarkInvitationExpired(ctx, inv.ID)
		return ConsentView{}, ErrExpired
	}

	name, err := s.store.InviterDisplayName(ctx, inv.InviterID)
	if err != nil {
		name = ""
	}
	return ConsentView{InviterDisplayName: name, InviteeName: inv.InviteeName}, nil
}

func (s *Service) sendConsent(ctx context.Context, inv Invitation, secret string) error {
	link := s.consentBaseURL + "?token=" + url.QueryEscape(secret)

	inviter, err := s.store.InviterDisplayName(ctx, inv.InviterID)
	if err != nil || strings.TrimSpace(inviter) == "" {
		inviter = "A careloop member"
	}

	body := fmt.Sprintf("Hi %s,\n\n%s would like to add you to their care circle.\n", inv.InviteeName, inviter)
	if inv.PersonalMessage != "" {
		body += fmt.Sprintf("\nThey added a note:\n%s\n", inv.PersonalMessage)
	}
	body += fmt.Sprintf("\nReview and respond here (link valid until %s):\n%s\n",
		inv.ExpiresAt.Format("Jan 2, 2006"), link)

	msg := notify.Message{
		Kind:    notify.KindConsent,
		To:      inv.ContactAddress,
		Subject: fmt.Sprintf("%s invited you to their care circle", inviter),
		Body:    body,
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		obs.ObserveNotification(string(notify.KindConsent), "failed")
		return err
	}
	obs.ObserveNotification(string(notify.KindConsent), "sent")
	return nil
}
