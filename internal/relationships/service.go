package relationships

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"careloop.org/internal/cooldown"
	"careloop.org/internal/notify"
	"careloop.org/internal/obs"
)

const nudgeCooldown = 14 * 24 * time.Hour

// Service drives nudge, remove and opt-out transitions.
type Service struct {
	store         Store
	dispatcher    notify.Dispatcher
	optOutBaseURL string
	now           func() time.Time
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

// NewService constructs the relationship manager. optOutBaseURL is the page
// the emailed opt-out slug links to.
func NewService(store Store, dispatcher notify.Dispatcher, optOutBaseURL string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("relationships: store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("relationships: dispatcher is required")
	}
	s := &Service{
		store:         store,
		dispatcher:    dispatcher,
		optOutBaseURL: strings.TrimRight(optOutBaseURL, "/"),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Nudge sends a reminder to an active contact, at most once every 14 days.
// The timestamp advances before dispatch and stays advanced even when
// dispatch fails, so a failed send cannot be retried into a duplicate.
func (s *Service) Nudge(ctx context.Context, actorID, relationshipID string) error {
	rel, err := s.store.GetRelationship(ctx, relationshipID, actorID)
	if err != nil {
		return err
	}
	if rel.Status != StatusActive {
		return ErrNotActive
	}

	var last time.Time
	if rel.LastNudgedAt != nil {
		last = *rel.LastNudgedAt
	}
	now := s.now().UTC()
	if allowed, retryAfter := cooldown.Allow(last, nudgeCooldown, now); !allowed {
		return &cooldown.RateLimitedError{RetryAfter: retryAfter}
	}

	if err := s.store.TouchLastNudged(ctx, relationshipID, actorID, now); err != nil {
		return err
	}

	if err := s.sendNudge(ctx, rel); err != nil {
		return fmt.Errorf("%w: %v", ErrNotSent, err)
	}
	return nil
}

// Remove transitions a relationship to removed, scoped by id and owner. The
// contact is never notified and never told why.
func (s *Service) Remove(ctx context.Context, actorID, relationshipID string) error {
	return s.store.RemoveRelationship(ctx, relationshipID, actorID)
}

// OptOut removes the relationship identified by the slug. Public; the slug
// is the authorization. A second call with the same slug finds no
// active row and reports not found. The owner is never notified.
func (s *Service) OptOut(ctx context.Context, slug string) (Relationship, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return Relationship{}, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	return s.store.RemoveBySlug(ctx, slug)
}

// List returns the owner's relationships.
func (s *Service) List(ctx context.Context, ownerID string) ([]Relationship, error) {
	return s.store.ListRelationships(ctx, ownerID)
}

func (s *Service) sendNudge(ctx context.Context, rel Relationship) error {
	owner, err := s.store.OwnerDisplayName(ctx, rel.OwnerID)
	if err != nil || strings.TrimSpace(owner) == "" {
		owner = "A careloop member"
	}
	optOutLink := s.optOutBaseURL + "?token=" + url.QueryEscape(rel.OptOutSlug)

	msg := notify.Message{
		Kind:    notify.KindNudge,
		To:      rel.ContactAddress,
		Subject: fmt.Sprintf("%s could use a check-in", owner),
		Body: fmt.Sprintf("Hi %s,\n\nThis is a gentle reminder that %s counts on you as part of their care circle.\n\nIf you would rather not receive these reminders, you can leave the circle at any time:\n%s\n",
			rel.DisplayName, owner, optOutLink),
	}
	if err := s.dispatcher.Dispatch(ctx, msg); err != nil {
		obs.ObserveNotification(string(notify.KindNudge), "failed")
		return err
	}
	obs.ObserveNotification(string(notify.KindNudge), "sent")
	return nil
}
