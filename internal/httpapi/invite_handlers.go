package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"careloop.org/internal/audit"
	"careloop.org/internal/cooldown"
	"careloop.org/internal/invites"
)

type createInvitationRequest struct {
	InviteeName     string `json:"invitee_name"`
	ContactAddress  string `json:"contact_address"`
	PersonalMessage string `json:"personal_message"`
}

type consentRequest struct {
	Token string `json:"token"`
}

func (a *API) handleInvitations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createInvitation(w, r)
	case http.MethodGet:
		a.listInvitations(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleInvitationResource routes /v1/invitations/{id}/resend,
// /v1/invitations/{id}/revoke and the public /v1/invitations/consent.
func (a *API) handleInvitationResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/invitations/"), "/")
	if rest == "consent" {
		a.resolveConsent(w, r)
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	switch parts[1] {
	case "resend":
		a.resendInvitation(w, r, parts[0])
	case "revoke":
		a.revokeInvitation(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
	}
}

func (a *API) createInvitation(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	var req createInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}

	inv, err := a.invitations.Create(r.Context(), actor.Subject, req.InviteeName, req.ContactAddress, req.PersonalMessage)
	if err != nil && !errors.Is(err, invites.ErrNotSent) {
		a.writeInviteError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "invite.create", map[string]any{
		"invitation_id": inv.ID,
		"contact":       inv.ContactAddressMasked,
	})

	if err != nil {
		// The row exists; only the email failed. Clients retry via resend.
		writeErrorExtra(w, r, http.StatusInternalServerError, codeCreatedNotSent,
			"invitation stored but the consent email could not be sent",
			map[string]any{"invitation": inv})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitation": inv})
}

func (a *API) listInvitations(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	items, err := a.invitations.List(r.Context(), actor.Subject)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeDependencyFailed, "internal error")
		return
	}
	if items == nil {
		items = []invites.Invitation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) resendInvitation(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	inv, err := a.invitations.Resend(r.Context(), actor.Subject, id)
	if err != nil && !errors.Is(err, invites.ErrNotSent) {
		a.writeInviteError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "invite.resend", map[string]any{
		"invitation_id": id,
		"resend_count":  inv.ResendCount,
	})

	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeNotifyFailed,
			"consent secret rotated but the email could not be sent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invitation": inv})
}

func (a *API) revokeInvitation(w http.ResponseWriter, r *http.Request, id string) {
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	if err := a.invitations.Revoke(r.Context(), actor.Subject, id); err != nil {
		a.writeInviteError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "invite.revoke", map[string]any{"invitation_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// resolveConsent serves the public consent page lookup. The secret is the
// authorization; no bearer token is involved.
func (a *API) resolveConsent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req consentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, err.Error())
		return
	}
	view, err := a.invitations.ResolveConsent(r.Context(), req.Token)
	if err != nil {
		a.writeInviteError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "consent.resolve", nil)
	writeJSON(w, http.StatusOK, view)
}

// writeInviteError maps the lifecycle's sentinel errors onto HTTP codes.
// Ownership mismatches never become 403: a conditional update that touched
// zero rows reads as 404, so callers cannot probe other users' rows.
func (a *API) writeInviteError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *cooldown.RateLimitedError
	switch {
	case errors.As(err, &rl):
		minutes := retryAfterMinutes(rl)
		w.Header().Set("Retry-After", retryAfterSeconds(rl))
		writeErrorExtra(w, r, http.StatusTooManyRequests, codeRateLimited,
			"resend is rate limited", map[string]any{"retry_after_minutes": minutes})
	case errors.Is(err, invites.ErrInvalidAddress):
		writeError(w, r, http.StatusBadRequest, codeInvalidAddress, "contact address is not valid")
	case errors.Is(err, invites.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeInvalidInput, err.Error())
	case errors.Is(err, invites.ErrCircleFull):
		writeError(w, r, http.StatusBadRequest, codeCircleFull, "maximum invitations and relationships reached")
	case errors.Is(err, invites.ErrNotPending):
		writeError(w, r, http.StatusBadRequest, codeNotPending, "invitation is not pending")
	case errors.Is(err, invites.ErrNotFoundOrNotPending):
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, invites.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
	case errors.Is(err, invites.ErrTokenInvalid):
		writeError(w, r, http.StatusBadRequest, codeConsentInvalid, "consent link is not recognized")
	case errors.Is(err, invites.ErrExpired):
		writeError(w, r, http.StatusBadRequest, codeConsentExpired, "consent link has expired")
	case errors.Is(err, invites.ErrAlreadyUsed):
		writeError(w, r, http.StatusBadRequest, codeConsentUsed, "invitation was already resolved")
	default:
		writeError(w, r, http.StatusInternalServerError, codeDependencyFailed, "internal error")
	}
}

func retryAfterMinutes(rl *cooldown.RateLimitedError) int {
	m := int(math.Ceil(rl.RetryAfter.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

func retryAfterSeconds(rl *cooldown.RateLimitedError) string {
	s := int(math.Ceil(rl.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}
